// Command mulder is the fluxmeter CLI: single-shot flux/grammage/
// intersect/whereami queries, and a batch mode that fans observer
// states out across a worker pool, adapted from the teacher's
// tmvl-sim/main.go and sim.App goroutine-per-event pattern onto
// cobra/pflag subcommands instead of bare top-level flags.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/niess/mulder/config"
	"github.com/niess/mulder/fluxmeter"
	"github.com/niess/mulder/geomagnet"
	"github.com/niess/mulder/geometry"
	"github.com/niess/mulder/internal/coords"
	"github.com/niess/mulder/internal/xerrors"
	"github.com/niess/mulder/layer"
	"github.com/niess/mulder/physics"
	"github.com/niess/mulder/reference"
)

var (
	cfgPath string
	log     = logrus.WithField("component", "cmd/mulder")
)

func main() {
	xerrors.SetDefaultHandler(func(e *xerrors.Error) {
		log.WithError(e).WithField("op", e.Op).Error("fluxmeter error")
	})

	root := &cobra.Command{
		Use:   "mulder",
		Short: "Compute atmospheric muon flux through a layered geometry",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "fluxmeter description file (TOML)")

	root.AddCommand(newFluxCmd())
	root.AddCommand(newGrammageCmd())
	root.AddCommand(newIntersectCmd())
	root.AddCommand(newWhereAmICmd())
	root.AddCommand(newBatchCmd())
	root.AddCommand(newTableCmd())
	root.AddCommand(newScanCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildFluxmeter assembles a fluxmeter.Fluxmeter from the loaded
// config, or a bare no-layer/default-reference fluxmeter if no config
// file was given.
func buildFluxmeter() (*fluxmeter.Fluxmeter, error) {
	if cfgPath == "" {
		g := geometry.New(nil)
		return fluxmeter.New(g, reference.NewDefault(), fluxmeter.CSDA, nil), nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	layers := make([]*layer.Layer, 0, len(cfg.Layers))
	for i, lc := range cfg.Layers {
		var emap layer.ElevationMap
		if lc.Map != "" {
			gm, err := layer.LoadGridMap(lc.Map)
			if err != nil {
				return nil, err
			}
			emap = gm
		}
		l, err := layer.New(i, lc.Material, emap, lc.Offset, lc.Density)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	g := geometry.New(layers)

	var ref reference.Flux = reference.NewDefault()
	if cfg.Reference.Table != "" {
		t, err := reference.LoadTable(cfg.Reference.Table)
		if err != nil {
			return nil, err
		}
		ref = t
	}

	reg := physics.NewRegistry(cfg.MaterialOverrides()...)

	mode := fluxmeter.CSDA
	switch cfg.Mode {
	case "mixed":
		mode = fluxmeter.Mixed
	case "detailed":
		mode = fluxmeter.Detailed
	}

	fm := fluxmeter.New(g, ref, mode, reg)
	if cfg.Geomagnet != "" {
		gm, err := geomagnet.Load(cfg.Geomagnet)
		if err != nil {
			return nil, err
		}
		fm.Geomagnet = gm
	}
	return fm, nil
}

func geodeticFlags(cmd *cobra.Command) (lat, lon, height, azimuth, elevation *float64) {
	lat = cmd.Flags().Float64("latitude", 0, "observer latitude, degrees")
	lon = cmd.Flags().Float64("longitude", 0, "observer longitude, degrees")
	height = cmd.Flags().Float64("height", 0, "observer height, m")
	azimuth = cmd.Flags().Float64("azimuth", 0, "observation azimuth, degrees")
	elevation = cmd.Flags().Float64("elevation", 90, "observation elevation, degrees")
	return
}

func newFluxCmd() *cobra.Command {
	var kinetic float64
	cmd := &cobra.Command{
		Use:   "flux",
		Short: "Evaluate the differential muon flux at an observer state",
	}
	lat, lon, height, az, el := geodeticFlags(cmd)
	cmd.Flags().Float64Var(&kinetic, "kinetic", 1, "kinetic energy, GeV")

	cmd.RunE = func(*cobra.Command, []string) error {
		fm, err := buildFluxmeter()
		if err != nil {
			return err
		}
		obs := fluxmeter.Observer{
			Geodetic:  coords.Geodetic{Latitude: *lat, Longitude: *lon, Height: *height},
			Azimuth:   *az,
			Elevation: *el,
			Kinetic:   kinetic,
		}
		res := fm.Flux(obs)
		fmt.Printf("value=%g asymmetry=%g weight=%g\n", res.Value, res.Asymmetry, res.Weight)
		return nil
	}
	return cmd
}

func newGrammageCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "grammage", Short: "Accumulate column depth along a ray"}
	lat, lon, height, az, el := geodeticFlags(cmd)
	cmd.RunE = func(*cobra.Command, []string) error {
		fm, err := buildFluxmeter()
		if err != nil {
			return err
		}
		g := coords.Geodetic{Latitude: *lat, Longitude: *lon, Height: *height}
		total, perLayer := fm.Grammage(g, *az, *el)
		fmt.Printf("total=%g kg/m^2\n", total)
		for idx, v := range perLayer {
			fmt.Printf("  medium[%d]=%g kg/m^2\n", idx, v)
		}
		return nil
	}
	return cmd
}

func newIntersectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "intersect", Short: "Find the first medium crossed along a ray"}
	lat, lon, height, az, el := geodeticFlags(cmd)
	cmd.RunE = func(*cobra.Command, []string) error {
		fm, err := buildFluxmeter()
		if err != nil {
			return err
		}
		g := coords.Geodetic{Latitude: *lat, Longitude: *lon, Height: *height}
		idx, hit, ok := fm.Intersect(g, *az, *el)
		if !ok {
			fmt.Println("no intersection")
			return nil
		}
		fmt.Printf("medium=%d lat=%g lon=%g height=%g\n", idx, hit.Latitude, hit.Longitude, hit.Height)
		return nil
	}
	return cmd
}

func newWhereAmICmd() *cobra.Command {
	cmd := &cobra.Command{Use: "whereami", Short: "Report the layer index containing a position"}
	lat, lon, height, _, _ := geodeticFlags(cmd)
	cmd.RunE = func(*cobra.Command, []string) error {
		fm, err := buildFluxmeter()
		if err != nil {
			return err
		}
		g := coords.Geodetic{Latitude: *lat, Longitude: *lon, Height: *height}
		fmt.Println(fm.WhereAmI(g))
		return nil
	}
	return cmd
}
