package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/niess/mulder/fluxmeter"
	"github.com/niess/mulder/internal/coords"
)

// newScanCmd batches flux evaluation over an azimuth/elevation grid
// from a single observer position, the CLI's sky-scan use of
// fluxmeter.Grid.
func newScanCmd() *cobra.Command {
	var kinetic float64
	var grid fluxmeter.Grid
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Evaluate flux over an azimuth/elevation grid from one position",
	}
	lat, lon, height, _, _ := geodeticFlags(cmd)
	cmd.Flags().Float64Var(&kinetic, "kinetic", 1, "kinetic energy, GeV")
	cmd.Flags().Float64Var(&grid.AzMin, "az-min", 0, "minimum azimuth, degrees")
	cmd.Flags().Float64Var(&grid.AzMax, "az-max", 360, "maximum azimuth, degrees")
	cmd.Flags().Float64Var(&grid.AzStep, "az-step", 45, "azimuth step, degrees")
	cmd.Flags().Float64Var(&grid.ElMin, "el-min", 0, "minimum elevation, degrees")
	cmd.Flags().Float64Var(&grid.ElMax, "el-max", 90, "maximum elevation, degrees")
	cmd.Flags().Float64Var(&grid.ElStep, "el-step", 15, "elevation step, degrees")

	cmd.RunE = func(*cobra.Command, []string) error {
		fm, err := buildFluxmeter()
		if err != nil {
			return err
		}
		base := fluxmeter.Observer{
			Geodetic: coords.Geodetic{Latitude: *lat, Longitude: *lon, Height: *height},
			Kinetic:  kinetic,
		}
		results := fm.Scan(base, grid)
		for i, res := range results {
			az, el := grid.At(i)
			fmt.Printf("azimuth=%g elevation=%g value=%g asymmetry=%g weight=%g\n",
				az, el, res.Value, res.Asymmetry, res.Weight)
		}
		return nil
	}
	return cmd
}
