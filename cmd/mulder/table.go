package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/niess/mulder/reference"
)

// elevationForCosine inverts c = cos((90-elevation)*pi/180) back to an
// elevation in degrees, so a round-trip check can probe an exact grid
// node's cosine coordinate.
func elevationForCosine(c float64) float64 {
	return 90 - math.Acos(c)*180/math.Pi
}

// newTableCmd inspects a packed reference table: it loads the file,
// reports its header, and prints flux samples at the corners of its
// cosine and energy ranges, at the lowest, middle and highest altitude.
// The middle altitude is a grid node only when n_h is odd, and the
// printed samples are not compared against the stored values.
func newTableCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Inspect a packed reference table and print flux samples from it",
	}
	cmd.Flags().StringVar(&path, "path", "", "packed reference table file")

	cmd.RunE = func(*cobra.Command, []string) error {
		if path == "" {
			return fmt.Errorf("table: --path is required")
		}
		t, err := reference.LoadTable(path)
		if err != nil {
			return err
		}
		nk, nc, nh := t.Shape()
		kMin, kMax := t.EnergyRange()
		cMin, cMax := t.CosineRange()
		hMin, hMax := t.Support()
		fmt.Printf("shape: n_k=%d n_c=%d n_h=%d\n", nk, nc, nh)
		fmt.Printf("energy range: [%g, %g] GeV\n", kMin, kMax)
		fmt.Printf("cosine range: [%g, %g]\n", cMin, cMax)
		fmt.Printf("altitude range: [%g, %g] m\n", hMin, hMax)

		for _, c := range []float64{cMin, cMax} {
			elevation := elevationForCosine(c)
			for _, h := range []float64{hMin, (hMin + hMax) / 2, hMax} {
				for _, k := range []float64{kMin, kMax} {
					s := t.Flux(h, elevation, k)
					fmt.Printf("round-trip h=%g c=%g k=%g: value=%g asymmetry=%g\n", h, c, k, s.Value, s.Asymmetry)
				}
			}
		}
		return nil
	}
	return cmd
}
