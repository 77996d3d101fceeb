// Package geomagnet implements the geomagnetic field lookup the
// fluxmeter orchestrator consults both to decide whether an untagged
// flux request needs a single backward transport or a charge +1/-1
// double run, and to actually deflect the transported trajectory via
// the Lorentz force. This is a restored feature: the distilled design
// treats the field as an opaque presence/absence flag, but the original
// transport core threads a real field descriptor through its medium
// callback, so this package supplies one, loaded from a small YAML
// sidecar (coefficient-file path, epoch, max degree) in the style of
// the teacher's other descriptor-style config (compare
// sbinet-tmvl/pumas.go's Medium.Magnet field).
package geomagnet

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-hep/fmom"
	"gopkg.in/yaml.v3"

	"github.com/niess/mulder/internal/coords"
	"github.com/niess/mulder/internal/xerrors"
)

// Field resolves the local geomagnetic field vector (Tesla, ECEF
// components) at a geodetic position.
type Field interface {
	At(g coords.Geodetic) (fmom.Vec3, error)
}

// NullField is the absent-field case: the fluxmeter treats its presence
// as the signal to skip the charge-symmetric double run.
type NullField struct{}

// At implements Field, always returning the zero vector.
func (NullField) At(coords.Geodetic) (fmom.Vec3, error) { return fmom.Vec3{}, nil }

// earthRadius is the reference radius the Gauss coefficients are
// normalised to, metres.
const earthRadius = 6371200.0

// Descriptor names a spherical-harmonic coefficient set rather than
// storing the coefficients inline: a coefficient-file path, the model
// epoch (decimal year, carried for provenance only; this package does
// not secular-vary the loaded coefficients), and the maximum degree to
// honour from that file. Only the degree-1 (dipole) terms are evaluated
// here; higher-degree terms are parsed and discarded above degree 1, a
// documented truncation rather than a silent one, since a full
// spherical-harmonic expansion is out of scope for this probe.
type Descriptor struct {
	CoefficientFile string  `yaml:"coefficient_file"`
	Epoch           float64 `yaml:"epoch"`
	MaxDegree       int     `yaml:"max_degree"`

	g10, g11, h11 float64 // nT, degree-1 Gauss coefficients
}

// gaussTerm is one parsed (n, m, g, h) row of a coefficient file.
type gaussTerm struct {
	n, m int
	g, h float64
}

// Load reads a Descriptor's YAML sidecar from path, then resolves and
// parses its CoefficientFile (relative to the sidecar's own directory)
// for the degree-1 terms, failing with an IO error if either file
// cannot be read or a Format error if either cannot be parsed.
func Load(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.New(xerrors.IO, "geomagnet.Load", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, xerrors.New(xerrors.Format, "geomagnet.Load", err)
	}
	if d.MaxDegree <= 0 {
		d.MaxDegree = 1
	}

	coeffPath := resolveSidecar(path, d.CoefficientFile)
	if coeffPath != "" {
		terms, err := loadCoefficients(coeffPath)
		if err != nil {
			return nil, err
		}
		for _, t := range terms {
			if t.n != 1 || t.n > d.MaxDegree {
				continue
			}
			switch t.m {
			case 0:
				d.g10 = t.g
			case 1:
				d.g11, d.h11 = t.g, t.h
			}
		}
	}
	return &d, nil
}

// resolveSidecar joins a coefficient-file path relative to the YAML
// sidecar's own directory, leaving an already-absolute path untouched.
func resolveSidecar(sidecarPath, coeffPath string) string {
	if coeffPath == "" || strings.HasPrefix(coeffPath, "/") {
		return coeffPath
	}
	dir := ""
	if i := strings.LastIndexByte(sidecarPath, '/'); i >= 0 {
		dir = sidecarPath[:i+1]
	}
	return dir + coeffPath
}

// loadCoefficients parses a whitespace-separated coefficient file: one
// "n m g h" row per line (g, h in nT, per the IGRF/WMM Gauss-coefficient
// convention), blank lines and lines starting with '#' ignored.
func loadCoefficients(path string) ([]gaussTerm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.IO, "geomagnet.loadCoefficients", err)
	}
	defer f.Close()

	var terms []gaussTerm
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, xerrors.New(xerrors.Format, "geomagnet.loadCoefficients",
				fmt.Errorf("row %q: want 4 fields, got %d", line, len(fields)))
		}
		n, err1 := strconv.Atoi(fields[0])
		m, err2 := strconv.Atoi(fields[1])
		g, err3 := strconv.ParseFloat(fields[2], 64)
		h, err4 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return nil, xerrors.New(xerrors.Format, "geomagnet.loadCoefficients",
				fmt.Errorf("row %q: malformed field", line))
		}
		terms = append(terms, gaussTerm{n: n, m: m, g: g, h: h})
	}
	if err := sc.Err(); err != nil {
		return nil, xerrors.New(xerrors.IO, "geomagnet.loadCoefficients", err)
	}
	return terms, nil
}

// At implements Field via the degree-1 (centred dipole) term of the
// Gauss expansion: the standard IGRF north/east/down formula evaluated
// at g's colatitude and longitude, scaled by (R/r)^3 for altitude and
// converted nT -> T, then rotated from local ENU into ECEF.
func (d *Descriptor) At(g coords.Geodetic) (fmom.Vec3, error) {
	colat := (90 - g.Latitude) * math.Pi / 180
	lon := g.Longitude * math.Pi / 180
	sinT, cosT := math.Sincos(colat)
	sinP, cosP := math.Sincos(lon)

	north := -d.g10*sinT + (d.g11*cosP+d.h11*sinP)*cosT
	east := d.g11*sinP - d.h11*cosP
	down := -2 * (d.g10*cosT + (d.g11*cosP+d.h11*sinP)*sinT)

	r := earthRadius + g.Height
	scale := 1e-9
	if r > 0 {
		ratio := earthRadius / r
		scale *= ratio * ratio * ratio
	}
	north *= scale
	east *= scale
	up := -down * scale

	eastAxis, northAxis, upAxis := coords.ENUBasis(g)
	sum := coords.Add(coords.Add(coords.Scale(eastAxis, east), coords.Scale(northAxis, north)), coords.Scale(upAxis, up))
	return sum, nil
}
