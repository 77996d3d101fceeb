package main

import (
	"math"
	"testing"
)

func TestElevationForCosineVertices(t *testing.T) {
	cases := []struct {
		c    float64
		want float64
	}{
		{1, 90},  // straight up
		{0, 0},   // horizontal
		{-1, -90}, // straight down
	}
	for _, c := range cases {
		got := elevationForCosine(c.c)
		if math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("elevationForCosine(%v) = %v, want %v", c.c, got, c.want)
		}
	}
}

func TestElevationForCosineRoundTrip(t *testing.T) {
	for _, el := range []float64{-45, 0, 30, 89} {
		c := math.Cos((90 - el) * math.Pi / 180)
		got := elevationForCosine(c)
		if math.Abs(got-el) > 1e-9 {
			t.Fatalf("elevationForCosine(cos((90-%v)*pi/180)) = %v, want %v", el, got, el)
		}
	}
}
