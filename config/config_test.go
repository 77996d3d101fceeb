package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesLayersAndMaterials(t *testing.T) {
	body := `
mode = "mixed"
geomagnet = "field.yaml"

[[layer]]
material = "StandardRock"
density = 2650
offset = 0

[[layer]]
material = "DryAir"
density = 1.2
offset = 10
map = "dem.bin"

[reference]
table = "flux.tab"

[[material]]
name = "CustomRock"
a = 2.1e-4
b = 3.9e-6
`
	dir := t.TempDir()
	path := filepath.Join(dir, "mulder.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "mixed" {
		t.Fatalf("Mode = %q, want mixed", cfg.Mode)
	}
	if cfg.Geomagnet != "field.yaml" {
		t.Fatalf("Geomagnet = %q, want field.yaml", cfg.Geomagnet)
	}
	if len(cfg.Layers) != 2 {
		t.Fatalf("len(Layers) = %d, want 2", len(cfg.Layers))
	}
	if cfg.Layers[1].Map != "dem.bin" {
		t.Fatalf("Layers[1].Map = %q, want dem.bin", cfg.Layers[1].Map)
	}
	if cfg.Reference.Table != "flux.tab" {
		t.Fatalf("Reference.Table = %q, want flux.tab", cfg.Reference.Table)
	}

	overrides := cfg.MaterialOverrides()
	if len(overrides) != 1 || overrides[0].Name != "CustomRock" || overrides[0].A != 2.1e-4 {
		t.Fatalf("MaterialOverrides() = %+v, want one CustomRock entry", overrides)
	}
}

func TestLoadMissingFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("Load of missing file: want error, got nil")
	}
}

func TestLoadMalformedTOMLIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("not = [valid toml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load of malformed TOML: want error, got nil")
	}
}
