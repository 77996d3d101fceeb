package geometry

import (
	"math"
	"testing"
)

func TestAtmosphereDensitySeaLevel(t *testing.T) {
	rho := AtmosphereDensity(0)
	// b0/lambda0 with lambda0 = 994186.38e-2 = 9941.8638
	lambda := 994186.38 * 1e-2
	want := 10 * 1222.6562 / lambda
	if math.Abs(rho-want) > 1e-9 {
		t.Fatalf("AtmosphereDensity(0) = %v, want %v", rho, want)
	}
}

func TestAtmosphereDensityMonotonicDecreasing(t *testing.T) {
	prev := AtmosphereDensity(-1000)
	for _, h := range []float64{0, 1000, 4000, 10000, 40000, 100000, 120000} {
		rho := AtmosphereDensity(h)
		if rho >= prev {
			t.Fatalf("density not decreasing with altitude at h=%v: prev=%v, got=%v", h, prev, rho)
		}
		prev = rho
	}
}

func TestAtmosphereStepFloor(t *testing.T) {
	// elevation ~ 0 should floor the sine at 0.1
	s := AtmosphereStep(0, 0)
	lambda := 994186.38 * 1e-2
	want := lambda / 0.1
	if math.Abs(s-want) > 1e-6 {
		t.Fatalf("AtmosphereStep floor = %v, want %v", s, want)
	}
}
