// Package config loads a fluxmeter's description from a TOML file: its
// ordered layers, reference flux choice, physics mode, material
// overrides and an optional geomagnet descriptor. This is the ambient
// configuration layer a CLI needs that the core's component packages
// deliberately don't provide on their own, modelled on the teacher
// repo's flag-file-driven tmvl-sim configuration but moved onto
// BurntSushi/toml's struct-tag decoding rather than hand-rolled flags.
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/niess/mulder/internal/xerrors"
	"github.com/niess/mulder/physics"
)

// LayerConfig describes one topographic layer entry in a fluxmeter
// description file.
type LayerConfig struct {
	Material string  `toml:"material"`
	Density  float64 `toml:"density"` // kg/m^3
	Offset   float64 `toml:"offset"`  // m
	Map      string  `toml:"map"`     // path to a DEM file; empty = flat slab
}

// MaterialConfig overrides or adds a physics material's CSDA loss
// coefficients.
type MaterialConfig struct {
	Name string  `toml:"name"`
	A    float64 `toml:"a"`
	B    float64 `toml:"b"`
}

// ReferenceConfig selects the reference flux: either the built-in
// parameterisation (Table == ""), or a tabulated binary file.
type ReferenceConfig struct {
	Table string `toml:"table"`
}

// Config is the top-level fluxmeter description.
type Config struct {
	Mode      string           `toml:"mode"` // "csda", "mixed", or "detailed"
	Layers    []LayerConfig    `toml:"layer"`
	Reference ReferenceConfig  `toml:"reference"`
	Materials []MaterialConfig `toml:"material"`
	Geomagnet string           `toml:"geomagnet"` // path to a YAML descriptor; empty = none
}

// Load decodes a fluxmeter description from path, failing with an IO
// error for unreadable files and a Format error for malformed TOML.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.New(xerrors.IO, "config.Load", err)
	}
	var cfg Config
	if _, err := toml.Decode(string(raw), &cfg); err != nil {
		return nil, xerrors.New(xerrors.Format, "config.Load", err)
	}
	return &cfg, nil
}

// MaterialOverrides converts the config's material table into
// physics.Material values suitable for physics.NewRegistry.
func (c *Config) MaterialOverrides() []physics.Material {
	out := make([]physics.Material, 0, len(c.Materials))
	for _, m := range c.Materials {
		out = append(out, physics.Material{Name: m.Name, A: m.A, B: m.B})
	}
	return out
}
