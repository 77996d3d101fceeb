package geometry

import (
	"math"
	"testing"

	"github.com/niess/mulder/internal/coords"
	"github.com/niess/mulder/layer"
)

func TestComputeAnchors(t *testing.T) {
	cases := []struct {
		zmax, refMin, refMax float64
		wantZTop, wantZRef    float64
	}{
		{zmax: 1000, refMin: 2000, refMax: 3000, wantZTop: 2000, wantZRef: 2000},
		{zmax: 2500, refMin: 2000, refMax: 3000, wantZTop: 2500, wantZRef: 2500},
		{zmax: 5000, refMin: 2000, refMax: 3000, wantZTop: 5000, wantZRef: 3000},
	}
	for _, c := range cases {
		a := ComputeAnchors(c.zmax, c.refMin, c.refMax)
		if a.ZTop != c.wantZTop || a.ZRef != c.wantZRef {
			t.Fatalf("ComputeAnchors(%v,%v,%v) = {ZTop:%v ZRef:%v}, want {%v %v}",
				c.zmax, c.refMin, c.refMax, a.ZTop, a.ZRef, c.wantZTop, c.wantZRef)
		}
	}
}

func TestComputeAnchorsSwapsReversedSupport(t *testing.T) {
	a := ComputeAnchors(0, 3000, 2000)
	if a.RefMin != 2000 || a.RefMax != 3000 {
		t.Fatalf("ComputeAnchors did not swap reversed support: %+v", a)
	}
}

func TestLayeredStepperLocateNoLayers(t *testing.T) {
	g := New(nil)
	a := ComputeAnchors(g.ZMax(), 50000, 80000)
	s := NewLayeredStepper(g, a, false)

	above := coords.Geodetic{Latitude: 0, Longitude: 0, Height: 200}
	if idx := s.locate(above); idx != 1 { // N=0, so atmosphere (N+1) is index 1
		t.Fatalf("locate() with no layers = %d, want 1", idx)
	}
}

func TestLayeredStepperOutsideBelowFloor(t *testing.T) {
	g := New(nil)
	a := ComputeAnchors(g.ZMax(), 50000, 80000)
	s := NewLayeredStepper(g, a, false)
	below := coords.Geodetic{Latitude: 0, Longitude: 0, Height: layer.ZMIN - 10}
	if idx := s.locate(below); idx != Outside {
		t.Fatalf("locate below floor = %d, want Outside", idx)
	}
}

func TestLayeredStepperWithOneLayer(t *testing.T) {
	l, err := layer.New(0, "Rock", nil, 0, 2650)
	if err != nil {
		t.Fatalf("layer.New: %v", err)
	}
	g := New([]*layer.Layer{l})
	a := ComputeAnchors(g.ZMax(), 50000, 80000)
	s := NewLayeredStepper(g, a, false)

	inside := coords.Geodetic{Latitude: 0, Longitude: 0, Height: -5}
	if idx := s.locate(inside); idx != 1 {
		t.Fatalf("locate inside rock = %d, want 1", idx)
	}
	above := coords.Geodetic{Latitude: 0, Longitude: 0, Height: 1000}
	if idx := s.locate(above); idx != 2 {
		t.Fatalf("locate in atmosphere = %d, want 2 (N+1)", idx)
	}
}

// TestOpenskyStepperStepsToZRef checks that a downward ray inside the
// atmosphere slab reports medium index 1 and the vertical distance down
// to zref.
func TestOpenskyStepperStepsToZRef(t *testing.T) {
	s := NewOpenskyStepper(60000)
	g := coords.Geodetic{Latitude: 0, Longitude: 0, Height: 70000}
	pos := g.ToECEF()
	_, _, up := coords.ENUBasis(g)
	dir := coords.Negate(up) // straight down

	dist, idx := s.Step(pos, dir)
	if idx != 1 {
		t.Fatalf("Step index = %d, want 1", idx)
	}
	if math.Abs(dist-10000) > 1e-3 {
		t.Fatalf("Step distance = %v, want ~10000", dist)
	}
}
