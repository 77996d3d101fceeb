package geomagnet

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/niess/mulder/internal/coords"
	"github.com/niess/mulder/internal/xerrors"
)

func writeSidecar(t *testing.T, dir string) string {
	t.Helper()
	coeffPath := filepath.Join(dir, "coeffs.txt")
	coeffBody := "# degree 1 only\n1 0 -29404.8 0\n1 1 -1450.9 4652.5\n2 0 -2499.6 0\n"
	if err := os.WriteFile(coeffPath, []byte(coeffBody), 0o644); err != nil {
		t.Fatalf("WriteFile(coeffs): %v", err)
	}

	sidecarPath := filepath.Join(dir, "field.yaml")
	sidecarBody := "coefficient_file: coeffs.txt\nepoch: 2020.0\nmax_degree: 1\n"
	if err := os.WriteFile(sidecarPath, []byte(sidecarBody), 0o644); err != nil {
		t.Fatalf("WriteFile(sidecar): %v", err)
	}
	return sidecarPath
}

func TestLoadParsesDegreeOneCoefficients(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir)

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.g10 != -29404.8 || d.g11 != -1450.9 || d.h11 != 4652.5 {
		t.Fatalf("degree-1 coefficients = (%v, %v, %v), want (-29404.8, -1450.9, 4652.5)", d.g10, d.g11, d.h11)
	}
}

func TestLoadMissingSidecarIsIOError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load of missing sidecar: want error, got nil")
	}
	if !xerrors.IO.Is(err) {
		t.Fatalf("Load of missing sidecar: error %v is not of kind IO", err)
	}
}

func TestLoadMalformedCoefficientRow(t *testing.T) {
	dir := t.TempDir()
	coeffPath := filepath.Join(dir, "coeffs.txt")
	if err := os.WriteFile(coeffPath, []byte("1 0 not-a-number 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sidecarPath := filepath.Join(dir, "field.yaml")
	if err := os.WriteFile(sidecarPath, []byte("coefficient_file: coeffs.txt\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(sidecarPath); err == nil {
		t.Fatal("Load with malformed coefficient row: want error, got nil")
	}
}

func TestAtScalesWithAltitude(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir)
	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ground := coords.Geodetic{Latitude: 45, Longitude: 0, Height: 0}
	high := coords.Geodetic{Latitude: 45, Longitude: 0, Height: 500000}

	bg, err := d.At(ground)
	if err != nil {
		t.Fatalf("At(ground): %v", err)
	}
	bh, err := d.At(high)
	if err != nil {
		t.Fatalf("At(high): %v", err)
	}

	normOf := func(v [3]float64) float64 { return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]) }
	ng, nh := normOf(bg), normOf(bh)
	if nh >= ng {
		t.Fatalf("field magnitude did not decrease with altitude: ground=%v high=%v", ng, nh)
	}
}

func TestAtPureG10ZeroEastComponent(t *testing.T) {
	d := &Descriptor{g10: -30000, g11: 0, h11: 0, MaxDegree: 1}
	g := coords.Geodetic{Latitude: 30, Longitude: 60, Height: 0}
	eastAxis, _, _ := coords.ENUBasis(g)

	field, err := d.At(g)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	eastComponent := coords.Dot(field, eastAxis)
	if math.Abs(eastComponent) > 1e-12 {
		t.Fatalf("pure axial dipole has nonzero east component: %v", eastComponent)
	}
}

func TestNullFieldAlwaysZero(t *testing.T) {
	var f NullField
	v, err := f.At(coords.Geodetic{Latitude: 12, Longitude: 34, Height: 5000})
	if err != nil {
		t.Fatalf("NullField.At: %v", err)
	}
	if v[0] != 0 || v[1] != 0 || v[2] != 0 {
		t.Fatalf("NullField.At = %v, want zero vector", v)
	}
}
