// Package geometry implements the stratified geometry and stepper: an
// ordered sequence of layers plus the two step-locator engines the
// transport driver calls back into, and the atmosphere model those
// steppers consult for medium properties above the topographic column.
//
// The locator contract is sbinet-tmvl/pumas.go's own (its Locator
// callback, `func(ctx *Context, pos Vec3) int`), generalised from
// "return the medium index" to "return the medium index and the
// distance to the next boundary crossing", since a real driver needs
// both to step. Boundary crossings against a terrain-following surface
// have no closed form in general, so Step locates the crossing the same
// way the atmosphere model already estimates a safe step length: march
// along the ray in altitude space and refine with bisection, rather
// than solving the surface intersection exactly.
package geometry

import (
	"math"

	"github.com/go-hep/fmom"

	"github.com/niess/mulder/internal/coords"
	"github.com/niess/mulder/layer"
)

// Outside is the sentinel medium index signalling "outside geometry,
// terminate transport".
const Outside = 0

// EpsFlt is the minimum step length and regime-switch hysteresis, a
// load-bearing magic epsilon matching the reference implementation.
const EpsFlt = 1e-5

// boundaryEps is the tolerance used when checking that a recovered
// altitude lands on a target boundary.
const boundaryEps = 1e-4

// Surface is a single boundary surface: either a flat plane at a
// constant altitude, or a layer's terrain-following top.
type Surface struct {
	flat     bool
	altitude float64   // used when flat
	l        *layer.Layer // used when not flat
}

func flatSurface(z float64) Surface { return Surface{flat: true, altitude: z} }
func layerSurface(l *layer.Layer) Surface { return Surface{l: l} }

// heightAt returns the surface's altitude above the geodetic position g.
func (s Surface) heightAt(g coords.Geodetic) float64 {
	if s.flat {
		return s.altitude
	}
	x, y := s.l.Project(g.Latitude, g.Longitude)
	return s.l.Height(x, y)
}

// Geometry is the ordered sequence of user layers bound to a fluxmeter,
// plus the highest altitude any of them reaches (zmax). The vertical
// anchors that also depend on a reference flux are computed separately
// by ComputeAnchors and are not stored here. The sequence is structurally
// immutable once built; layers' densities remain editable through the
// *layer.Layer values themselves.
type Geometry struct {
	layers []*layer.Layer
	zmax   float64 // max over user layers of that layer's zmax
}

// New builds a Geometry from an ordered sequence of layers, index 0
// being the bottommost stratum.
func New(layers []*layer.Layer) *Geometry {
	g := &Geometry{layers: layers}
	zmax := layer.ZMIN
	for _, l := range layers {
		_, _, _, _, _, lzmax := l.Domain()
		if lzmax > zmax {
			zmax = lzmax
		}
	}
	if len(layers) == 0 {
		zmax = layer.ZMIN
	}
	g.zmax = zmax
	return g
}

// Layers returns the geometry's ordered layer sequence.
func (g *Geometry) Layers() []*layer.Layer { return g.layers }

// ZMax is the maximum altitude reached by any user layer's surface.
func (g *Geometry) ZMax() float64 { return g.zmax }

// Anchors are the cached vertical reference points computed from a
// Geometry's ZMax and a reference flux's altitude support.
type Anchors struct {
	ZTop    float64
	ZRef    float64
	RefMin  float64
	RefMax  float64
}

// ComputeAnchors derives ztop and zref from the geometry's zmax and the
// reference support [zrefMin, zrefMax] (swapped here if given reversed).
func ComputeAnchors(zmax, zrefMin, zrefMax float64) Anchors {
	if zrefMin > zrefMax {
		zrefMin, zrefMax = zrefMax, zrefMin
	}
	a := Anchors{RefMin: zrefMin, RefMax: zrefMax}
	switch {
	case zmax <= zrefMin:
		a.ZTop = zrefMin
		a.ZRef = zrefMin
	case zmax <= zrefMax:
		a.ZTop = zmax
		a.ZRef = zmax
	default:
		a.ZTop = zmax
		a.ZRef = zrefMax
	}
	return a
}

// LayeredStepper is the full-column locator: a flat
// floor at ZMIN, the user layers' terrain-following surfaces in index
// order, a flat surface at ztop, and a flat ceiling at ZMAX.
type LayeredStepper struct {
	surfaces         []Surface // bottom to top, len = len(layers)+3 (floor, ..., ztop, ceiling)
	n                int       // number of user layers
	useExternalLayer bool
}

// NewLayeredStepper builds the full-column stepper for a geometry and
// its current anchors. useExternalLayer instructs the stepper to also
// recognise the external atmosphere slab N+2, latched once per call per
// the note on use_external_layer latching once per call.
func NewLayeredStepper(g *Geometry, a Anchors, useExternalLayer bool) *LayeredStepper {
	s := &LayeredStepper{n: len(g.layers), useExternalLayer: useExternalLayer}
	s.surfaces = append(s.surfaces, flatSurface(layer.ZMIN))
	for _, l := range g.layers {
		s.surfaces = append(s.surfaces, layerSurface(l))
	}
	s.surfaces = append(s.surfaces, flatSurface(a.ZTop))
	s.surfaces = append(s.surfaces, flatSurface(layer.ZMAX))
	return s
}

// locate returns the medium index occupied by geodetic position g:
// 1..N for a user layer, N+1 for atmosphere below ztop/above the
// column, N+2 for the external slab (only if latched and g is above
// ztop), Outside otherwise.
func (s *LayeredStepper) locate(g coords.Geodetic) int {
	h := g.Height
	// surfaces[0] is the floor, surfaces[i] for i=1..n is layer i-1's
	// top, surfaces[n+1] is ztop, surfaces[n+2] is the ceiling.
	if h < s.surfaces[0].heightAt(g) {
		return Outside
	}
	for i := 0; i < s.n; i++ {
		top := s.surfaces[i+1].heightAt(g)
		if h < top {
			return i + 1
		}
	}
	ztop := s.surfaces[s.n+1].heightAt(g)
	ceiling := s.surfaces[s.n+2].heightAt(g)
	if h < ztop {
		return s.n + 1
	}
	if h < ceiling {
		if s.useExternalLayer {
			return s.n + 2
		}
		return s.n + 1
	}
	return Outside
}

// Step implements the driver's locator contract: given the current
// ECEF position and propagation direction, it returns the current
// medium index and the distance to the next boundary crossing (floored
// at EpsFlt, the minimum step length).
func (s *LayeredStepper) Step(pos, dir fmom.Vec3) (distance float64, index int) {
	g := coords.FromECEF(pos)
	index = s.locate(g)
	distance = s.distanceToBoundary(pos, dir, g)
	if distance < EpsFlt {
		distance = EpsFlt
	}
	return distance, index
}

// distanceToBoundary marches along the ray in altitude space to bracket
// the nearest surface crossing, then refines with bisection. This is an
// approximation for terrain-following surfaces (no closed form exists
// in general), in the same spirit as the atmosphere model's own
// "recommended step" heuristic: it trades an exact analytic root for a
// bounded, physically faithful estimate.
func (s *LayeredStepper) distanceToBoundary(pos, dir fmom.Vec3, g0 coords.Geodetic) float64 {
	_, _, up := coords.ENUBasis(g0)
	cosZenith := coords.Dot(coords.Normalize(dir), up)
	// elevation angle above local horizontal, used the same way the
	// atmosphere model bounds its own step.
	elevation := math.Asin(clamp(cosZenith, -1, 1))
	step := AtmosphereStep(g0.Height, elevation)
	if step <= 0 || math.IsNaN(step) {
		step = 100
	}

	const maxSteps = 100000
	prevIdx := s.locate(g0)
	t := 0.0
	for i := 0; i < maxSteps; i++ {
		tNext := t + step
		p := coords.Add(pos, coords.Scale(dir, tNext))
		g := coords.FromECEF(p)
		idx := s.locate(g)
		if idx != prevIdx {
			return bisectCrossing(pos, dir, t, tNext, prevIdx, s.locate)
		}
		t = tNext
		if g.Height > layer.ZMAX+1000 || g.Height < layer.ZMIN-1000 {
			// Ray is diverging away from the column with no crossing
			// in sight; report a long but finite step.
			return t
		}
	}
	return t
}

// bisectCrossing refines a bracketed [lo, hi] boundary crossing to
// within boundaryEps in altitude-equivalent distance.
func bisectCrossing(pos, dir fmom.Vec3, lo, hi float64, idxLo int, locate func(coords.Geodetic) int) float64 {
	for i := 0; i < 60 && hi-lo > boundaryEps; i++ {
		mid := 0.5 * (lo + hi)
		p := coords.Add(pos, coords.Scale(dir, mid))
		g := coords.FromECEF(p)
		if locate(g) == idxLo {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
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

// OpenskyStepper is the atmosphere-only locator: a flat floor at zref
// and a flat ceiling at ZMAX. Medium index 1 is "atmosphere" (between
// zref and ZMAX); index 2 is "below the slab" (at or below zref — a
// true, reportable boundary, since the CSDA forward step is defined to
// terminate exactly there, not to vanish into nonexistence). Outside is
// only above ZMAX, the one edge this stepper treats as genuinely
// leaving the model. These index values are private to this stepper;
// they are never passed through a LayeredStepper-shaped properties
// resolver (see Fluxmeter's dedicated opensky properties closure).
type OpenskyStepper struct {
	zref float64
}

// NewOpenskyStepper builds the opensky stepper for the given zref
// anchor.
func NewOpenskyStepper(zref float64) *OpenskyStepper {
	return &OpenskyStepper{zref: zref}
}

func (s *OpenskyStepper) locate(h float64) int {
	if h > layer.ZMAX {
		return Outside
	}
	if h < s.zref {
		return 2
	}
	return 1
}

// Step implements the same locator contract as LayeredStepper, but over
// a flat two-surface atmosphere column, so the crossing distance has a
// closed form along the local vertical.
func (s *OpenskyStepper) Step(pos, dir fmom.Vec3) (distance float64, index int) {
	g := coords.FromECEF(pos)
	index = s.locate(g.Height)

	_, _, up := coords.ENUBasis(g)
	cosZenith := coords.Dot(coords.Normalize(dir), up)
	if math.Abs(cosZenith) < 1e-9 {
		// Horizontal ray: never crosses a flat altitude surface.
		return math.Inf(1), index
	}

	var target float64
	switch index {
	case Outside:
		target = layer.ZMAX
	case 1:
		if cosZenith > 0 {
			target = layer.ZMAX
		} else {
			target = s.zref
		}
	case 2:
		if cosZenith > 0 {
			target = s.zref
		} else {
			target = layer.ZMIN
		}
	}
	distance = (target - g.Height) / cosZenith
	if distance < EpsFlt {
		distance = EpsFlt
	}
	return distance, index
}
