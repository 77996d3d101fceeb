// Package fluxmeter implements the central state machine that ties
// layer, geometry, reference and physics together into a single
// observer-to-flux computation, generalising sbinet-tmvl/pumas.go's
// Context.Propagate single-pass loop into the multi-regime
// backward-ascent / CSDA-forward-Jacobian / sampling pipeline the
// muon-flux probe needs.
package fluxmeter

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/go-hep/fmom"
	"github.com/sirupsen/logrus"

	"github.com/niess/mulder/geomagnet"
	"github.com/niess/mulder/geometry"
	"github.com/niess/mulder/internal/coords"
	"github.com/niess/mulder/internal/xerrors"
	"github.com/niess/mulder/physics"
	"github.com/niess/mulder/reference"
)

// Mode selects the physics regime used during backward ascent.
type Mode int

const (
	CSDA Mode = iota
	Mixed
	Detailed
)

// Tag selects the charge of a tagged observation, or Untagged to let
// the fluxmeter decide (single- or double-run against the geomagnetic
// field).
type Tag int

const (
	Untagged Tag = iota
	MuonTag
	AntiMuonTag
)

// muonMass and cTauMu are the exact physical constants.
const (
	muonMass = 0.10566 // GeV/c^2
	cTauMu   = 658.654 // m
)

// Observer is a single flux query: a geodetic position, an observation
// direction (the direction the observer is looking, not the
// propagation direction), a kinetic energy, and an optional charge tag.
type Observer struct {
	Geodetic  coords.Geodetic
	Azimuth   float64 // degrees
	Elevation float64 // degrees
	Kinetic   float64 // GeV
	Tag       Tag
}

// Result is the outcome of a single flux call.
type Result struct {
	Value     float64
	Asymmetry float64
	Weight    float64
}

// Fluxmeter is the orchestrator. It owns both steppers and the physics
// registry, per the shared-resource policy: these are exclusive to one
// Fluxmeter and must not be driven concurrently from more than one
// goroutine. A transport context is built afresh for each transport
// call, and the geomagnetic field is looked up afresh each time too; no
// cache of the last field lookup is kept.
type Fluxmeter struct {
	Geometry  *geometry.Geometry
	Reference reference.Flux
	Mode      Mode
	Geomagnet geomagnet.Field
	Rand      *rand.Rand
	Log       *logrus.Entry

	registry        *physics.Registry
	materialByLayer []int // per-layer physics material index, 1-based layer -> index
	atmosphereIdx   int

	// cached vertical anchors and steppers; rebuilt when the reference's
	// height support or the geometry's zmax changes, and also when the
	// external-layer latch differs from the one they were built with.
	anchors          geometry.Anchors
	useExternalLayer bool
	layered          *geometry.LayeredStepper
	opensky          *geometry.OpenskyStepper
	built            bool
	rebuildCount     int
}

// New builds a Fluxmeter from a geometry, a reference flux, an initial
// mode, and a material registry (nil selects physics.NewRegistry()'s
// builtins). Each layer whose material name is not present in the
// registry raises a PhysicsSetup error through the default handler
// (xerrors.SetDefaultHandler) here in New, and that layer then uses the
// atmosphere's material.
func New(g *geometry.Geometry, ref reference.Flux, mode Mode, reg *physics.Registry) *Fluxmeter {
	if reg == nil {
		reg = physics.NewRegistry()
	}
	atmosphereIdx, _ := reg.MaterialIndex("DryAir")
	fm := &Fluxmeter{
		Geometry:      g,
		Reference:     ref,
		Mode:          mode,
		Geomagnet:     geomagnet.NullField{},
		Rand:          rand.New(rand.NewSource(1)),
		registry:      reg,
		atmosphereIdx: atmosphereIdx,
		Log:           logrus.WithField("component", "fluxmeter"),
	}
	fm.materialByLayer = make([]int, len(g.Layers())+1)
	for i, l := range g.Layers() {
		idx, err := reg.MaterialIndex(l.Material())
		if err != nil {
			fm.Log.WithError(err).WithField("layer", l.Index()).Warn("unresolved layer material")
			xerrors.Signal(xerrors.PhysicsSetup, "fluxmeter.New", err)
			idx = fm.atmosphereIdx
		}
		fm.materialByLayer[i+1] = idx
	}
	return fm
}

// computeAnchors derives the current vertical anchors from the
// geometry's zmax and the reference's height support.
func (fm *Fluxmeter) computeAnchors() geometry.Anchors {
	refMin, refMax := fm.Reference.Support()
	return geometry.ComputeAnchors(fm.Geometry.ZMax(), refMin, refMax)
}

// ensureSteppers rebuilds the cached layered/opensky steppers exactly
// once when the reference support or geometry's zmax has changed since
// the last call (testable as "stepper rebuild" behaviour). Because the
// external-layer latch is built into the layered stepper, a call whose
// latch differs from the cached one also rebuilds; otherwise the
// steppers are left untouched.
func (fm *Fluxmeter) ensureSteppers(useExternalLayer bool) {
	a := fm.computeAnchors()
	if fm.built && a == fm.anchors && useExternalLayer == fm.useExternalLayer {
		return
	}
	fm.anchors = a
	fm.useExternalLayer = useExternalLayer
	fm.layered = geometry.NewLayeredStepper(fm.Geometry, a, useExternalLayer)
	fm.opensky = geometry.NewOpenskyStepper(a.ZRef)
	fm.built = true
	fm.rebuildCount++
}

// RebuildCount reports how many times the cached steppers have been
// rebuilt, for tests of the rebuild-on-change behaviour.
func (fm *Fluxmeter) RebuildCount() int { return fm.rebuildCount }

// Clone returns an independent Fluxmeter sharing fm's immutable geometry,
// reference, registry and material tables, but with its own random
// source and its own stepper cache. Per the shared-resource policy, a
// Fluxmeter's Rand and cached steppers are exclusive to one goroutine;
// Clone is how a worker pool gets one Fluxmeter each without re-parsing
// the geometry or rebuilding the material registry per worker.
func (fm *Fluxmeter) Clone(seed int64) *Fluxmeter {
	clone := *fm
	clone.Rand = rand.New(rand.NewSource(seed))
	clone.Log = fm.Log
	clone.built = false
	clone.rebuildCount = 0
	clone.layered = nil
	clone.opensky = nil
	return &clone
}

// propertiesFunc resolves LayeredStepper-shaped medium indices
// (1..N user layers, N+1/N+2 atmosphere), for use with the layered
// locator.
func (fm *Fluxmeter) propertiesFunc(g coords.Geodetic, elevationRad float64) physics.PropertiesFunc {
	magnetized, field := fm.fieldAt(g)
	return func(index int) (physics.MediumProperties, error) {
		n := len(fm.Geometry.Layers())
		switch {
		case index >= 1 && index <= n:
			l := fm.Geometry.Layers()[index-1]
			return physics.MediumProperties{
				Density:    l.Density(),
				Material:   fm.materialByLayer[index],
				Magnetized: magnetized,
				Field:      field,
			}, nil
		case index == n+1 || index == n+2:
			step := geometry.AtmosphereStep(g.Height, elevationRad)
			return physics.MediumProperties{
				Density:    geometry.AtmosphereDensity(g.Height),
				Material:   fm.atmosphereIdx,
				Step:       step,
				Magnetized: magnetized,
				Field:      field,
			}, nil
		default:
			return physics.MediumProperties{}, xerrors.New(xerrors.PhysicsSetup, "fluxmeter.propertiesFunc", errBadMedium(index))
		}
	}
}

// fieldAt resolves whether the fluxmeter's geomagnetic field is present
// (anything but geomagnet.NullField) and, if so, its ECEF value at g, so
// propertiesFunc/openskyProperties can populate MediumProperties without
// each re-querying the field per medium index.
func (fm *Fluxmeter) fieldAt(g coords.Geodetic) (magnetized bool, field fmom.Vec3) {
	if _, isNull := fm.Geomagnet.(geomagnet.NullField); isNull {
		return false, fmom.Vec3{}
	}
	f, err := fm.Geomagnet.At(g)
	if err != nil {
		fm.Log.WithError(err).Warn("geomagnet field lookup failed")
		return false, fmom.Vec3{}
	}
	return true, f
}

// openskyProperties resolves OpenskyStepper's own private index scheme
// (1 = atmosphere slab, 2 = below zref): every reachable index there is
// atmosphere, since the opensky locator exists solely to give the CSDA
// forward step a true boundary event at zref rather than to model
// multiple media.
func (fm *Fluxmeter) openskyProperties(g coords.Geodetic, elevationRad float64) physics.PropertiesFunc {
	magnetized, field := fm.fieldAt(g)
	return func(index int) (physics.MediumProperties, error) {
		if index != 1 && index != 2 {
			return physics.MediumProperties{}, xerrors.New(xerrors.PhysicsSetup, "fluxmeter.openskyProperties", errBadMedium(index))
		}
		step := geometry.AtmosphereStep(g.Height, elevationRad)
		return physics.MediumProperties{
			Density:    geometry.AtmosphereDensity(g.Height),
			Material:   fm.atmosphereIdx,
			Step:       step,
			Magnetized: magnetized,
			Field:      field,
		}, nil
	}
}

type errBadMedium int

func (e errBadMedium) Error() string { return "no such medium index" }

// regime holds one backward-ascent physics configuration.
type regime struct {
	loss       physics.LossMode
	scattering physics.ScatterMode
	cap        float64
}

// regimeFor selects the backward-ascent regime for the fluxmeter's mode
// and the particle's current kinetic energy, and whether a higher
// regime exists to retry into when the current one's cap is hit.
func (fm *Fluxmeter) regimeFor(k float64, refMax float64) (r regime, hasNext bool, next func(float64) (regime, bool)) {
	switch fm.Mode {
	case CSDA:
		return regime{loss: physics.LossCSDA, scattering: physics.ScatterDisabled, cap: refMax}, false, nil
	case Mixed:
		return regime{loss: physics.LossMixed, scattering: physics.ScatterDisabled, cap: refMax}, false, nil
	default: // Detailed
		step := func(k float64) (regime, bool) {
			switch {
			case k <= 10-geometry.EpsFlt:
				return regime{loss: physics.LossStraggled, scattering: physics.ScatterMixed, cap: 10}, true
			case k <= 100-geometry.EpsFlt:
				return regime{loss: physics.LossMixed, scattering: physics.ScatterMixed, cap: 100}, true
			default:
				return regime{loss: physics.LossMixed, scattering: physics.ScatterDisabled, cap: refMax}, false
			}
		}
		r, hasNext = step(k)
		return r, hasNext, step
	}
}

// ascendBackward runs the backward transport to ztop, per the
// regime-switching loop. Returns the state at ztop and true on success;
// false (flux = 0) on any abandonment.
func (fm *Fluxmeter) ascendBackward(charge float64, state physics.State, useExternalLayer bool) (physics.State, bool) {
	_, refMax := fm.Reference.EnergyRange()
	r, hasNext, next := fm.regimeFor(state.Kinetic, refMax)

	for {
		g := coords.FromECEF(state.Position)
		_, _, up := coords.ENUBasis(g)
		elevationRad := math.Asin(clamp(coords.Dot(coords.Normalize(state.Direction), up), -1, 1))

		ctx := &physics.Context{
			Registry:    fm.registry,
			Locator:     fm.layered,
			Properties:  fm.propertiesFunc(g, elevationRad),
			Rand:        fm.Rand,
			Direction:   physics.Backward,
			LossMode:    r.loss,
			Scattering:  r.scattering,
			EventMask:   physics.EventEnergyLimit,
			EnergyLimit: r.cap,
		}
		newState, ev, err := ctx.Transport(state, charge)
		if err != nil {
			fm.Log.WithError(err).Warn("ascend transport failed")
			return state, false
		}
		state = newState

		switch ev.Kind {
		case physics.KindMedium:
			// Transport reports KindOutside (below), never KindMedium
			// with a zero entry medium, so any medium-crossed event
			// here is a genuine boundary reached.
			return state, true
		case physics.KindEnergyLimit:
			if state.Kinetic >= refMax-geometry.EpsFlt {
				return state, false
			}
			if !hasNext {
				return state, false
			}
			r, hasNext = next(state.Kinetic)
			continue
		default:
			return state, false
		}
	}
}

// csdaForwardStep implements the Jacobian reweighting forward step from
// ztop to zref, for observers starting above the reference's altitude
// support.
func (fm *Fluxmeter) csdaForwardStep(state physics.State) (physics.State, float64, bool) {
	refMin, _ := fm.Reference.EnergyRange()
	t0 := state.Time
	e0 := state.Kinetic
	state.Time = 0

	g := coords.FromECEF(state.Position)
	_, _, up := coords.ENUBasis(g)
	elevationRad := math.Asin(clamp(coords.Dot(coords.Normalize(state.Direction), up), -1, 1))

	ctx := &physics.Context{
		Registry:    fm.registry,
		Locator:     fm.opensky,
		Properties:  fm.openskyProperties(g, elevationRad),
		Rand:        fm.Rand,
		Direction:   physics.Forward,
		LossMode:    physics.LossCSDA,
		Scattering:  physics.ScatterDisabled,
		EventMask:   physics.EventEnergyLimit,
		EnergyLimit: refMin,
	}
	newState, ev, err := ctx.Transport(state, 1)
	if err != nil || ev.Kind != physics.KindMedium {
		return state, 0, false
	}
	gEnd := coords.FromECEF(newState.Position)
	if math.Abs(gEnd.Height-fm.anchors.ZRef) > 1e-4 {
		return state, 0, false
	}

	tStep := newState.Time
	newState.Time = t0 - tStep

	atmo := fm.registry.Material(fm.atmosphereIdx)
	s0 := atmo.StoppingPower(e0)
	s1 := atmo.StoppingPower(newState.Kinetic)
	if s0 <= 0 || s1 <= 0 {
		return newState, 0, false
	}
	return newState, s1 / s0, true
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

// runOne performs a single backward-ascent-then-forward-sampling
// evaluation for the given charge; used once for an untagged request
// absent a geomagnetic field, or twice (charge -1, +1) when a field is
// present.
func (fm *Fluxmeter) runOne(obs Observer, charge float64) (value, asymmetry, weight float64, ok bool) {
	// The propagation direction is the negation of where the observer
	// is looking: the muon's own velocity points from the sky down
	// toward the observer, opposite the line of sight used to name it.
	propDir := coords.Negate(coords.DirectionToECEF(obs.Geodetic, obs.Azimuth, obs.Elevation))
	startHeight := obs.Geodetic.Height
	// use_external_layer is latched from the observer's starting
	// height before the ascent loop begins, not recomputed mid-flight.
	useExternal := startHeight >= fm.anchorsZTopGuess()+geometry.EpsFlt
	fm.ensureSteppers(useExternal)

	weight = 1.0
	state := physics.State{
		Kinetic:   obs.Kinetic,
		Position:  obs.Geodetic.ToECEF(),
		Direction: propDir,
	}

	needsAscent := obs.Geodetic.Height < fm.anchors.ZTop-geometry.EpsFlt
	if needsAscent {
		var success bool
		state, success = fm.ascendBackward(charge, state, useExternal)
		if !success {
			return 0, 0, 0, false
		}
	}

	g := coords.FromECEF(state.Position)
	if math.Abs(g.Height-fm.anchors.ZTop) > 1e-4 && needsAscent {
		return 0, 0, 0, false
	}

	if g.Height > fm.anchors.RefMax+geometry.EpsFlt {
		newState, jacobian, success := fm.csdaForwardStep(state)
		if !success {
			return 0, 0, 0, false
		}
		state = newState
		weight *= jacobian
	}

	gFinal := coords.FromECEF(state.Position)
	_, el := coords.ECEFToDirection(gFinal, coords.Negate(state.Direction))

	sample := fm.Reference.Flux(gFinal.Height, el, state.Kinetic)
	pDec := math.Exp(-state.Time / cTauMu)

	return sample.Value * pDec * weight, sample.Asymmetry, weight, true
}

// anchorsZTopGuess returns the current ztop anchor, used to decide the
// external-layer latch before building or rebuilding the steppers.
func (fm *Fluxmeter) anchorsZTopGuess() float64 {
	return fm.computeAnchors().ZTop
}

type errBadKinetic float64

func (e errBadKinetic) Error() string {
	return fmt.Sprintf("bad kinetic energy (%g)", float64(e))
}

// Flux evaluates the differential muon flux seen by obs, implementing
// the full state machine: backward ascent (with mode-dependent regime
// switching), an optional CSDA forward Jacobian step, reference
// sampling, decay weighting, and the untagged/tagged/geomagnet-aware
// combination rule.
func (fm *Fluxmeter) Flux(obs Observer) Result {
	if obs.Kinetic <= 0 {
		xerrors.Signal(xerrors.BadInput, "fluxmeter.flux", errBadKinetic(obs.Kinetic))
		return Result{}
	}

	if obs.Tag != Untagged {
		charge := 1.0
		if obs.Tag == MuonTag {
			charge = -1.0
		}
		value, asymmetry0, weight, ok := fm.runOne(obs, charge)
		if !ok {
			return Result{}
		}
		tagCharge := 1.0
		if obs.Tag == MuonTag {
			tagCharge = -1.0
		}
		return Result{
			Value:     0.5 * (1 + tagCharge*asymmetry0) * value,
			Asymmetry: tagCharge,
			Weight:    weight,
		}
	}

	if _, isNull := fm.Geomagnet.(geomagnet.NullField); isNull {
		value, asymmetry, weight, ok := fm.runOne(obs, 1)
		if !ok {
			return Result{}
		}
		return Result{Value: value, Asymmetry: asymmetry, Weight: weight}
	}

	r0, _, w0, ok0 := fm.runOne(obs, -1)
	r1, _, w1, ok1 := fm.runOne(obs, 1)
	if !ok0 || !ok1 {
		return Result{}
	}
	sum := r0 + r1
	var asym float64
	if sum != 0 {
		asym = (r1 - r0) / sum
	}
	// The double run's weight is the value-weighted average of the two
	// charge-run Jacobians, so Weight stays 1 unless either leg actually
	// took the CSDA forward step.
	var weight float64
	if sum != 0 {
		weight = (w0*r0 + w1*r1) / sum
	} else {
		weight = 1
	}
	return Result{Value: sum, Asymmetry: asym, Weight: weight}
}

// Intersect runs forward transport with energy loss disabled and an
// event mask of "medium", returning the first medium index crossed and
// the geodetic position of the crossing. The geomagnetic field is
// always suppressed here.
func (fm *Fluxmeter) Intersect(pos coords.Geodetic, azimuth, elevation float64) (int, coords.Geodetic, bool) {
	useExternal := pos.Height >= fm.anchorsZTopGuess()+geometry.EpsFlt
	fm.ensureSteppers(useExternal)

	dir := coords.DirectionToECEF(pos, azimuth, elevation)
	state := physics.State{Position: pos.ToECEF(), Direction: dir, Kinetic: 1}
	g := coords.FromECEF(state.Position)
	_, _, up := coords.ENUBasis(g)
	elevationRad := math.Asin(clamp(coords.Dot(coords.Normalize(dir), up), -1, 1))

	ctx := &physics.Context{
		Registry:   fm.registry,
		Locator:    fm.layered,
		Properties: fm.propertiesFunc(g, elevationRad),
		Rand:       fm.Rand,
		Direction:  physics.Forward,
		LossMode:   physics.LossDisabled,
	}
	newState, ev, err := ctx.Transport(state, 1)
	if err != nil || ev.Kind != physics.KindMedium {
		return 0, coords.Geodetic{}, false
	}
	return ev.EntryMedium, coords.FromECEF(newState.Position), true
}

// Grammage accumulates column depth along the ray from pos in the
// direction (azimuth, elevation), bucketed per medium index, until the
// driver reports outside-geometry. The geomagnetic field is suppressed.
func (fm *Fluxmeter) Grammage(pos coords.Geodetic, azimuth, elevation float64) (total float64, perLayer map[int]float64) {
	useExternal := pos.Height >= fm.anchorsZTopGuess()+geometry.EpsFlt
	fm.ensureSteppers(useExternal)

	dir := coords.DirectionToECEF(pos, azimuth, elevation)
	state := physics.State{Position: pos.ToECEF(), Direction: dir, Kinetic: 1}
	perLayer = make(map[int]float64)

	for i := 0; i < 100000; i++ {
		g := coords.FromECEF(state.Position)
		dist, idx := fm.layered.Step(state.Position, state.Direction)
		if idx == geometry.Outside {
			break
		}
		props, err := fm.propertiesFunc(g, 0)(idx)
		if err != nil {
			break
		}
		dg := props.Density * dist
		total += dg
		perLayer[idx] += dg
		state.Position = addVec(state.Position, scaleVec(state.Direction, dist))
	}
	return total, perLayer
}

func addVec(a, b fmom.Vec3) fmom.Vec3         { return fmom.Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func scaleVec(v fmom.Vec3, s float64) fmom.Vec3 { return fmom.Vec3{v[0] * s, v[1] * s, v[2] * s} }

// WhereAmI is a single stepper query returning the 0-based layer index
// the position lies within, or -1 when outside any user layer (the
// atmosphere and external slab both also report -1).
func (fm *Fluxmeter) WhereAmI(pos coords.Geodetic) int {
	useExternal := pos.Height >= fm.anchorsZTopGuess()+geometry.EpsFlt
	fm.ensureSteppers(useExternal)

	n := len(fm.Geometry.Layers())
	_, idx := fm.layered.Step(pos.ToECEF(), fmom.Vec3{0, 0, 1})
	if idx >= 1 && idx <= n {
		return idx - 1
	}
	return -1
}
