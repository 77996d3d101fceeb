package layer

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/ctessum/geom"

	"github.com/niess/mulder/internal/xerrors"
)

// GridMap is a regularly-spaced elevation grid in an equirectangular
// (plate carrée) projection, good enough to exercise Layer's map-backed
// paths without a real DEM decoder. A real decoder need only satisfy
// ElevationMap; GridMap is not the design point of this package.
type GridMap struct {
	nx, ny         int
	xmin, xstep    float64
	ymin, ystep    float64
	z              []float64 // row-major, y-major then x, length nx*ny
	encoding       string
	projection     string
}

// NewGridMap builds a GridMap from a row-major elevation grid (y-major,
// then x) and its (x, y) domain. It fails with BadInput if z's length
// does not match nx*ny.
func NewGridMap(nx, ny int, xmin, xmax, ymin, ymax float64, z []float64) (*GridMap, error) {
	if len(z) != nx*ny {
		return nil, xerrors.New(xerrors.BadInput, "layer.NewGridMap",
			fmt.Errorf("z has %d samples, want nx*ny=%d", len(z), nx*ny))
	}
	g := &GridMap{
		nx: nx, ny: ny,
		xmin: xmin, ymin: ymin,
		z:          z,
		encoding:   "float64-grid",
		projection: "plate-carree",
	}
	if nx > 1 {
		g.xstep = (xmax - xmin) / float64(nx-1)
	}
	if ny > 1 {
		g.ystep = (ymax - ymin) / float64(ny-1)
	}
	return g, nil
}

// LoadGridMap reads a GridMap from path: a header of two little-endian
// int64 grid counts (nx, ny) followed by four little-endian float64
// bounds (xmin, xmax, ymin, ymax), then the nx*ny little-endian float64
// elevation grid (row-major, y-major then x). This is the packed
// encoding a config's layer map path is expected to resolve to; a real
// DEM raster decoder (GeoTIFF, ASC grid, etc.) is still a separate
// concern left to callers, per ElevationMap.
func LoadGridMap(path string) (*GridMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.IO, "layer.LoadGridMap", err)
	}
	defer f.Close()

	var dims [2]int64
	if err := binary.Read(f, binary.LittleEndian, &dims); err != nil {
		return nil, xerrors.New(xerrors.Format, "layer.LoadGridMap", fmt.Errorf("reading grid counts: %w", err))
	}
	var bounds [4]float64
	if err := binary.Read(f, binary.LittleEndian, &bounds); err != nil {
		return nil, xerrors.New(xerrors.Format, "layer.LoadGridMap", fmt.Errorf("reading grid bounds: %w", err))
	}
	nx, ny := int(dims[0]), int(dims[1])
	if nx <= 0 || ny <= 0 {
		return nil, xerrors.New(xerrors.Format, "layer.LoadGridMap", fmt.Errorf("non-positive grid count (%d, %d)", nx, ny))
	}

	z := make([]float64, nx*ny)
	if err := binary.Read(f, binary.LittleEndian, z); err != nil {
		return nil, xerrors.New(xerrors.Format, "layer.LoadGridMap", fmt.Errorf("reading elevation body: %w", err))
	}
	return NewGridMap(nx, ny, bounds[0], bounds[1], bounds[2], bounds[3], z)
}

func (g *GridMap) index(ix, iy int) int { return iy*g.nx + ix }

func (g *GridMap) cell(x, y float64) (ix, iy int, fx, fy float64, inside bool) {
	if g.xstep == 0 || g.ystep == 0 {
		return 0, 0, 0, 0, false
	}
	fix := (x - g.xmin) / g.xstep
	fiy := (y - g.ymin) / g.ystep
	if fix < 0 || fiy < 0 || fix > float64(g.nx-1) || fiy > float64(g.ny-1) {
		return 0, 0, 0, 0, false
	}
	ix = int(math.Min(fix, float64(g.nx-2)))
	iy = int(math.Min(fiy, float64(g.ny-2)))
	if g.nx == 1 {
		ix = 0
	}
	if g.ny == 1 {
		iy = 0
	}
	return ix, iy, fix - float64(ix), fiy - float64(iy), true
}

// Height implements ElevationMap via bilinear interpolation.
func (g *GridMap) Height(x, y float64) (float64, bool) {
	ix, iy, fx, fy, inside := g.cell(x, y)
	if !inside {
		return 0, false
	}
	ix1, iy1 := ix+1, iy+1
	if ix1 >= g.nx {
		ix1 = ix
	}
	if iy1 >= g.ny {
		iy1 = iy
	}
	z00 := g.z[g.index(ix, iy)]
	z10 := g.z[g.index(ix1, iy)]
	z01 := g.z[g.index(ix, iy1)]
	z11 := g.z[g.index(ix1, iy1)]
	z0 := z00*(1-fx) + z10*fx
	z1 := z01*(1-fx) + z11*fx
	return z0*(1-fy) + z1*fy, true
}

// Gradient returns a centred finite-difference estimate of (dz/dx, dz/dy).
func (g *GridMap) Gradient(x, y float64) (float64, float64) {
	hx := g.xstep
	hy := g.ystep
	if hx == 0 {
		hx = 1
	}
	if hy == 0 {
		hy = 1
	}
	zxp, _ := g.Height(x+hx/2, y)
	zxm, _ := g.Height(x-hx/2, y)
	zyp, _ := g.Height(x, y+hy/2)
	zym, _ := g.Height(x, y-hy/2)
	return (zxp - zxm) / hx, (zyp - zym) / hy
}

// Project implements a plate-carrée projection: x=lon, y=lat.
func (g *GridMap) Project(lat, lon float64) (x, y float64) { return lon, lat }

// Unproject is the exact inverse of Project.
func (g *GridMap) Unproject(x, y float64) (lat, lon float64) { return y, x }

// Bounds implements ElevationMap.
func (g *GridMap) Bounds() (geom.Bounds, float64, float64, int, int, string, string) {
	xmax := g.xmin + g.xstep*float64(g.nx-1)
	ymax := g.ymin + g.ystep*float64(g.ny-1)
	zmin, zmax := g.z[0], g.z[0]
	for _, v := range g.z {
		if v < zmin {
			zmin = v
		}
		if v > zmax {
			zmax = v
		}
	}
	b := geom.Bounds{
		Min: geom.Point{X: g.xmin, Y: g.ymin},
		Max: geom.Point{X: xmax, Y: ymax},
	}
	return b, zmin, zmax, g.nx, g.ny, g.encoding, g.projection
}
