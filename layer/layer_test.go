package layer

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func flatGrid(t *testing.T, elev float64) *GridMap {
	t.Helper()
	nx, ny := 3, 3
	z := make([]float64, nx*ny)
	for i := range z {
		z[i] = elev
	}
	g, err := NewGridMap(nx, ny, -1, 1, -1, 1, z)
	if err != nil {
		t.Fatalf("NewGridMap: %v", err)
	}
	return g
}

func TestLayerHeightNoMap(t *testing.T) {
	l, err := New(0, "Rock", nil, 42, 2650)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if h := l.Height(0, 0); h != 42 {
		t.Fatalf("Height() = %v, want 42", h)
	}
	if h := l.Height(1e6, 1e6); h != 42 {
		t.Fatalf("Height() off-grid = %v, want 42 (map-less layer is flat everywhere)", h)
	}
}

// TestAltitudeMonotonicity checks that altering offset by
// delta shifts height() by exactly delta inside the domain, and leaves
// height() at the ZMIN sentinel outside.
func TestAltitudeMonotonicity(t *testing.T) {
	g := flatGrid(t, 100)
	l, err := New(0, "Rock", g, 10, 2650)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h0 := l.Height(0, 0)
	if h0 != 110 {
		t.Fatalf("Height() = %v, want 110", h0)
	}
	hOut := l.Height(1e6, 1e6)
	if hOut != ZMIN {
		t.Fatalf("Height() outside domain = %v, want ZMIN=%v", hOut, ZMIN)
	}

	l2, err := New(0, "Rock", g, 10+5, 2650)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, want := l2.Height(0, 0), h0+5; math.Abs(got-want) > 1e-9 {
		t.Fatalf("Height() after offset shift = %v, want %v", got, want)
	}
	if l2.Height(1e6, 1e6) != ZMIN {
		t.Fatalf("Height() outside domain must stay at ZMIN regardless of offset")
	}
}

// TestLayerIdentity checks that project -> unproject (and
// the map-less identity) returns the original (lat, lon).
func TestLayerIdentity(t *testing.T) {
	l, err := New(0, "Rock", nil, 0, 2650)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lat, lon := 45.5, -73.6
	x, y := l.Project(lat, lon)
	lat2, lon2 := l.Coordinates(x, y)
	if lat2 != lat || lon2 != lon {
		t.Fatalf("round trip = (%v, %v), want (%v, %v)", lat2, lon2, lat, lon)
	}

	g := flatGrid(t, 0)
	lm, err := New(0, "Rock", g, 0, 2650)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	x, y = lm.Project(lat, lon)
	lat2, lon2 = lm.Coordinates(x, y)
	if math.Abs(lat2-lat) > 1e-8 || math.Abs(lon2-lon) > 1e-8 {
		t.Fatalf("round trip (map) = (%v, %v), want (%v, %v)", lat2, lon2, lat, lon)
	}
}

func TestDensityMutationNeverFails(t *testing.T) {
	l, err := New(0, "Rock", nil, 0, 2650)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.SetDensity(1000)
	if l.Density() != 1000 {
		t.Fatalf("Density() = %v, want 1000", l.Density())
	}
	l.SetDensity(-5) // never fails, even for a non-physical value
	if l.Density() != -5 {
		t.Fatalf("Density() = %v, want -5", l.Density())
	}
}

func TestGridMapBilinear(t *testing.T) {
	z := []float64{0, 0, 0, 10, 10, 10}
	g, err := NewGridMap(3, 2, 0, 2, 0, 1, z)
	if err != nil {
		t.Fatalf("NewGridMap: %v", err)
	}
	if h, inside := g.Height(1, 0.5); !inside || math.Abs(h-5) > 1e-9 {
		t.Fatalf("Height(1, 0.5) = (%v, %v), want (5, true)", h, inside)
	}
	if _, inside := g.Height(100, 100); inside {
		t.Fatalf("Height(100,100) should be outside the domain")
	}
}

func TestLoadGridMapRoundTrip(t *testing.T) {
	nx, ny := 3, 2
	z := []float64{0, 0, 0, 10, 10, 10}
	path := filepath.Join(t.TempDir(), "dem.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	dims := [2]int64{int64(nx), int64(ny)}
	bounds := [4]float64{0, 2, 0, 1}
	if err := binary.Write(f, binary.LittleEndian, dims); err != nil {
		t.Fatalf("Write(dims): %v", err)
	}
	if err := binary.Write(f, binary.LittleEndian, bounds); err != nil {
		t.Fatalf("Write(bounds): %v", err)
	}
	if err := binary.Write(f, binary.LittleEndian, z); err != nil {
		t.Fatalf("Write(z): %v", err)
	}
	f.Close()

	g, err := LoadGridMap(path)
	if err != nil {
		t.Fatalf("LoadGridMap: %v", err)
	}
	if h, inside := g.Height(1, 0.5); !inside || math.Abs(h-5) > 1e-9 {
		t.Fatalf("Height(1, 0.5) = (%v, %v), want (5, true)", h, inside)
	}
}

func TestLoadGridMapMissingFile(t *testing.T) {
	if _, err := LoadGridMap(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Fatal("LoadGridMap of missing file: want error, got nil")
	}
}
