// Package layer implements the topographic layer: an indexed stratum
// with a material, an optional elevation map, a constant vertical
// offset, and a mutable bulk density.
//
// DEM raster decoding is left to callers; this package only defines the
// ElevationMap interface a decoder must satisfy and a small built-in
// implementation (GridMap, a regularly-spaced grid matching common map
// encodings) good enough to exercise the rest of the core without a
// real DEM reader.
package layer

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/unit"

	"github.com/niess/mulder/internal/xerrors"
)

// ZMIN is the sentinel floor altitude returned for out-of-domain map
// queries, and the bottom of the reference support's allowed range.
const ZMIN = -11000.0

// ZMAX is the top of the atmosphere the layered geometry ever steps
// through.
const ZMAX = 120000.0

// ElevationMap is the interface a DEM decoder must satisfy. Decoding the
// raster itself (GeoTIFF, ASC grid, whatever the host format is) is
// delegated; this package only consumes the decoded grid.
type ElevationMap interface {
	// Height returns the elevation at map coordinates (x, y) and
	// whether (x, y) lies inside the map's domain.
	Height(x, y float64) (z float64, inside bool)
	// Gradient returns (dz/dx, dz/dy) at (x, y); undefined outside the
	// domain.
	Gradient(x, y float64) (dzdx, dzdy float64)
	// Project converts geodetic (lat, lon) to map coordinates (x, y).
	Project(lat, lon float64) (x, y float64)
	// Unproject is the inverse of Project.
	Unproject(x, y float64) (lat, lon float64)
	// Bounds returns the map's horizontal (x, y) domain, its raw
	// (pre-offset) altitude domain, grid counts, and its encoding and
	// projection strings.
	Bounds() (xy geom.Bounds, zmin, zmax float64, nx, ny int, encoding, projection string)
}

// Layer is an indexed stratum. Material name, map, offset and the
// derived domain are immutable once constructed; Density is mutable
// between fluxmeter calls, but never while one is in flight.
type Layer struct {
	index    int
	material string
	emap     ElevationMap // nil when the layer is a flat slab
	offset   float64
	density  *unit.Unit // kg/m^3, via ctessum/unit so grammage stays dimensioned

	bounds       geom.Bounds
	zmin, zmax   float64
	nx, ny       int
	encoding     string
	projection   string
}

// New builds a Layer from a material name, an optional elevation map
// (nil for a flat slab at offset), a vertical offset in metres, and an
// initial bulk density in kg/m^3. index is the layer's position in the
// geometry's ordered sequence (0 = bottommost), recorded for diagnostics
// only; ordering itself lives in geometry.Geometry.
func New(index int, material string, emap ElevationMap, offset, density float64) (*Layer, error) {
	if material == "" {
		return nil, xerrors.New(xerrors.BadInput, "layer.New", fmt.Errorf("empty material name"))
	}
	l := &Layer{
		index:    index,
		material: material,
		emap:     emap,
		offset:   offset,
		density:  unit.New(density, unit.Dimensions{unit.MassDim: 1, unit.LengthDim: -3}),
	}
	if emap != nil {
		b, zmin, zmax, nx, ny, enc, proj := emap.Bounds()
		l.bounds, l.nx, l.ny = b, nx, ny
		l.zmin = zmin + offset
		l.zmax = zmax + offset
		l.encoding, l.projection = enc, proj
	}
	return l, nil
}

// Index returns the layer's position in its geometry's ordered sequence.
func (l *Layer) Index() int { return l.index }

// Material returns the layer's material name.
func (l *Layer) Material() string { return l.material }

// Offset returns the layer's constant vertical offset, in metres.
func (l *Layer) Offset() float64 { return l.offset }

// Density returns the layer's current bulk density, in kg/m^3.
func (l *Layer) Density() float64 { return l.density.Value() }

// SetDensity mutates the layer's bulk density. Never call this while a
// fluxmeter call that references this layer is in flight.
func (l *Layer) SetDensity(rho float64) { l.density = unit.New(rho, l.density.Dimensions()) }

// Domain returns the layer's (x, y) coordinate domain and its altitude
// domain including offset. A map-less layer has an unbounded domain and
// a degenerate [offset, offset] altitude range.
func (l *Layer) Domain() (xmin, xmax, ymin, ymax, zmin, zmax float64) {
	if l.emap == nil {
		return math.Inf(-1), math.Inf(1), math.Inf(-1), math.Inf(1), l.offset, l.offset
	}
	return l.bounds.Min.X, l.bounds.Max.X, l.bounds.Min.Y, l.bounds.Max.Y, l.zmin, l.zmax
}

// Grid returns the map's grid counts, encoding and projection strings;
// zero values and empty strings for a map-less layer.
func (l *Layer) Grid() (nx, ny int, encoding, projection string) {
	return l.nx, l.ny, l.encoding, l.projection
}

// Height returns the layer's surface altitude at map coordinates (x, y).
// With no map attached, it is the offset everywhere. With a map
// attached, it is z+offset inside the map's domain and ZMIN (the
// sentinel floor) outside.
func (l *Layer) Height(x, y float64) float64 {
	if l.emap == nil {
		return l.offset
	}
	z, inside := l.emap.Height(x, y)
	if !inside {
		return ZMIN
	}
	return z + l.offset
}

// Gradient returns (dz/dx, dz/dy) at (x, y); zero outside the domain or
// for a map-less layer.
func (l *Layer) Gradient(x, y float64) (dzdx, dzdy float64) {
	if l.emap == nil {
		return 0, 0
	}
	if _, inside := l.emap.Height(x, y); !inside {
		return 0, 0
	}
	return l.emap.Gradient(x, y)
}

// Coordinates unprojects map coordinates (x, y) to geodetic (lat, lon).
// With no map attached, the mapping is the trivial identity x->lon,
// y->lat.
func (l *Layer) Coordinates(x, y float64) (lat, lon float64) {
	if l.emap == nil {
		return y, x
	}
	return l.emap.Unproject(x, y)
}

// Project converts geodetic (lat, lon) to map coordinates (x, y), the
// inverse of Coordinates.
func (l *Layer) Project(lat, lon float64) (x, y float64) {
	if l.emap == nil {
		return lon, lat
	}
	return l.emap.Project(lat, lon)
}
