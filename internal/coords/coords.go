// Package coords implements the geodetic/ECEF conversions and the
// azimuth-elevation <-> direction-vector mappings shared by the layer,
// geometry and fluxmeter packages. Positions and directions travel as
// fmom.Vec3, the same 3-vector type sbinet-tmvl/muon.go uses for muon
// state, indexed rather than wrapped in method calls, to
// keep this package's arithmetic explicit and dependency-free of fmom's
// own (unknown, HEP-oriented) vector algebra.
package coords

import (
	"math"

	"github.com/go-hep/fmom"
)

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0         // semi-major axis, m
	wgs84F  = 1.0 / 298.257223563 // flattening
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// Geodetic is a latitude/longitude/height observer position, degrees and
// metres, matching the Observation state fields of the data model.
type Geodetic struct {
	Latitude  float64
	Longitude float64
	Height    float64
}

// ToECEF converts a geodetic position to Earth-Centred, Earth-Fixed
// Cartesian coordinates.
func (g Geodetic) ToECEF() fmom.Vec3 {
	lat := g.Latitude * math.Pi / 180
	lon := g.Longitude * math.Pi / 180
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var p fmom.Vec3
	p[0] = (n + g.Height) * cosLat * cosLon
	p[1] = (n + g.Height) * cosLat * sinLon
	p[2] = (n*(1-wgs84E2) + g.Height) * sinLat
	return p
}

// FromECEF recovers a geodetic position from ECEF coordinates using
// Bowring's iterative method, converging to double precision in a few
// iterations for any altitude within the fluxmeter's operating range
// (ZMIN..ZMAX).
func FromECEF(p fmom.Vec3) Geodetic {
	x, y, z := p[0], p[1], p[2]
	lon := math.Atan2(y, x)

	r := math.Hypot(x, y)
	lat := math.Atan2(z, r*(1-wgs84E2))
	var h float64
	for i := 0; i < 8; i++ {
		sinLat := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		h = r/math.Cos(lat) - n
		lat = math.Atan2(z, r*(1-wgs84E2*n/(n+h)))
	}

	return Geodetic{
		Latitude:  lat * 180 / math.Pi,
		Longitude: lon * 180 / math.Pi,
		Height:    h,
	}
}

// ENUBasis returns the local East, North, Up unit vectors at a geodetic
// position, expressed in ECEF.
func ENUBasis(g Geodetic) (east, north, up fmom.Vec3) {
	lat := g.Latitude * math.Pi / 180
	lon := g.Longitude * math.Pi / 180
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	east = fmom.Vec3{-sinLon, cosLon, 0}
	north = fmom.Vec3{-sinLat * cosLon, -sinLat * sinLon, cosLat}
	up = fmom.Vec3{cosLat * cosLon, cosLat * sinLon, sinLat}
	return east, north, up
}

// DirectionToECEF converts an (azimuth, elevation) pair, in degrees, to a
// unit ECEF vector at the given geodetic position. Azimuth is measured
// clockwise from geographic north; elevation is measured up from the
// local horizontal.
func DirectionToECEF(g Geodetic, azimuth, elevation float64) fmom.Vec3 {
	az := azimuth * math.Pi / 180
	el := elevation * math.Pi / 180
	sinAz, cosAz := math.Sincos(az)
	sinEl, cosEl := math.Sincos(el)

	east, north, up := ENUBasis(g)
	var d fmom.Vec3
	for i := 0; i < 3; i++ {
		d[i] = cosEl*sinAz*east[i] + cosEl*cosAz*north[i] + sinEl*up[i]
	}
	return d
}

// ECEFToDirection recovers the (azimuth, elevation) pair, in degrees, of
// a unit ECEF direction vector observed at the given geodetic position.
func ECEFToDirection(g Geodetic, d fmom.Vec3) (azimuth, elevation float64) {
	east, north, up := ENUBasis(g)
	de := Dot(d, east)
	dn := Dot(d, north)
	du := Dot(d, up)

	azimuth = math.Atan2(de, dn) * 180 / math.Pi
	if azimuth < 0 {
		azimuth += 360
	}
	elevation = math.Asin(clamp(du, -1, 1)) * 180 / math.Pi
	return azimuth, elevation
}

// Dot is the plain Euclidean dot product, used throughout this package
// and by the geometry package's slant-length computation, since fmom's
// own vector algebra is not assumed here (see package doc).
func Dot(a, b fmom.Vec3) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// Norm is the Euclidean length of v.
func Norm(v fmom.Vec3) float64 {
	return math.Sqrt(Dot(v, v))
}

// Scale returns v scaled by s.
func Scale(v fmom.Vec3, s float64) fmom.Vec3 {
	return fmom.Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Add returns a+b.
func Add(a, b fmom.Vec3) fmom.Vec3 {
	return fmom.Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Negate returns -v.
func Negate(v fmom.Vec3) fmom.Vec3 {
	return fmom.Vec3{-v[0], -v[1], -v[2]}
}

// Normalize returns v scaled to unit length. The zero vector is returned
// unchanged.
func Normalize(v fmom.Vec3) fmom.Vec3 {
	n := Norm(v)
	if n == 0 {
		return v
	}
	return Scale(v, 1/n)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
