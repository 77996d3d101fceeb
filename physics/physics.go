// Package physics implements the adapter interfaces to the external
// Physics & Monte Carlo transport driver, plus a working in-process
// engine that satisfies them: a Context carrying
// direction/energy-loss-mode/scattering-mode/energy cuts, a
// locator-driven step loop (sbinet-tmvl/pumas.go's
// propagateWithLocator), and per-material CSDA energy-loss tables
// (sbinet-tmvl/pumas/impl.go's loadTables), generalised from a single
// hard-coded 5-material PDG table load to a small closed-form model so
// it needs no external data file.
//
// The driver itself is treated as an external collaborator; only the
// adapter surface is specified here. This engine exists so the module
// is runnable end to end without a real PUMAS/GEANT4 binding.
package physics

import (
	"math"
	"math/rand"

	"github.com/go-hep/fmom"

	"github.com/niess/mulder/internal/xerrors"
)

// Direction selects forward or backward propagation.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// LossMode selects the energy-loss treatment, per the Glossary (CSDA,
// Mixed, Detailed/straggled).
type LossMode int

const (
	LossDisabled LossMode = iota
	LossCSDA
	LossMixed
	LossStraggled
)

// ScatterMode selects the multiple-scattering treatment.
type ScatterMode int

const (
	ScatterDisabled ScatterMode = iota
	ScatterMixed
)

// EventMask selects the additional stop causes requested of Transport,
// beyond the implicit stop at every medium boundary.
type EventMask int

const (
	EventNone        EventMask = 0
	EventEnergyLimit EventMask = 1 << iota
	EventAbort
)

// Kind classifies the terminal event of a single Transport call.
type Kind int

const (
	KindMedium Kind = iota
	KindEnergyLimit
	KindOutside
	KindAbort
)

func (k Kind) String() string {
	switch k {
	case KindMedium:
		return "medium"
	case KindEnergyLimit:
		return "energy-limit"
	case KindOutside:
		return "outside"
	case KindAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Event is the terminal outcome of a single Transport call.
type Event struct {
	Kind         Kind
	EntryMedium  int
	ExitMedium   int
}

// State is the particle state threaded through Transport, mirroring
// sbinet-tmvl/pumas.go's pumas.State (Medium/Kinetic/Distance/Time/Position/Direction).
type State struct {
	Kinetic   float64 // GeV
	Distance  float64 // m travelled so far
	Time      float64 // accumulated c*tau (proper time * c), metres
	Position  fmom.Vec3
	Direction fmom.Vec3
}

// Material is a CSDA energy-loss model: mass stopping power
// dE/dX(K) = A + B*K, in GeV m^2/kg, close enough in shape to
// sbinet-tmvl/pumas/impl.go's tabulated ionisation-plus-radiative loss
// to drive a believable backward/forward transport without a bundled
// PDG table.
type Material struct {
	Name string
	A, B float64 // GeV m^2/kg, GeV m^2/kg per GeV
}

// StoppingPower returns dE/dX at kinetic energy k, in GeV m^2/kg.
func (m Material) StoppingPower(k float64) float64 {
	return m.A + m.B*k
}

// Grammage returns the column depth, in kg/m^2, a particle starting at
// kinetic energy k would traverse before stopping under this material's
// CSDA loss law; the closed-form inverse of StoppingPower's ODE
// dK/dX = -(A+B*K).
func (m Material) Grammage(k float64) float64 {
	if k <= 0 {
		return 0
	}
	if m.B == 0 {
		return k / m.A
	}
	return math.Log(1+m.B*k/m.A) / m.B
}

// Kinetic is the inverse of Grammage: the kinetic energy remaining after
// traversing grammage x from Grammage(k0) = x.
func (m Material) Kinetic(x float64) float64 {
	if x <= 0 {
		return 0
	}
	if m.B == 0 {
		return m.A * x
	}
	return (m.A / m.B) * (math.Exp(m.B*x) - 1)
}

// builtinMaterials mirrors the five media sbinet-tmvl/pumas/impl.go's
// loadTables hard-coded, with A/B fitted so stopping power is of
// the right order of magnitude (a few MeV cm^2/g) for standard rock,
// air, concrete, iron and lead.
var builtinMaterials = []Material{
	{Name: "StandardRock", A: 1.98e-4, B: 3.70e-6},
	{Name: "DryAir", A: 1.82e-4, B: 3.40e-6},
	{Name: "Concrete", A: 1.97e-4, B: 3.65e-6},
	{Name: "Iron", A: 1.45e-4, B: 3.15e-6},
	{Name: "Lead", A: 1.12e-4, B: 2.80e-6},
}

// Registry resolves material names to indices and Material values, the
// adapter's material_index(name) operation.
type Registry struct {
	materials []Material
	byName    map[string]int
}

// NewRegistry builds a Registry seeded with the builtin materials, plus
// any overrides supplied (by name; an override with an existing name
// replaces it, a new name is appended). Overrides come from the config
// package's material table.
func NewRegistry(overrides ...Material) *Registry {
	r := &Registry{byName: make(map[string]int)}
	for _, m := range builtinMaterials {
		r.add(m)
	}
	for _, m := range overrides {
		r.add(m)
	}
	return r
}

func (r *Registry) add(m Material) {
	if i, ok := r.byName[m.Name]; ok {
		r.materials[i] = m
		return
	}
	r.byName[m.Name] = len(r.materials)
	r.materials = append(r.materials, m)
}

// MaterialIndex resolves a material by name, failing with PhysicsSetup
// if unknown.
func (r *Registry) MaterialIndex(name string) (int, error) {
	i, ok := r.byName[name]
	if !ok {
		return -1, xerrors.New(xerrors.PhysicsSetup, "physics.MaterialIndex", errUnknownMaterial(name))
	}
	return i, nil
}

// Material returns the Material at index i.
func (r *Registry) Material(i int) Material { return r.materials[i] }

type errUnknownMaterial string

func (e errUnknownMaterial) Error() string { return "unknown material: " + string(e) }

// Locator matches geometry.LayeredStepper/OpenskyStepper's Step method:
// given the current position and propagation direction, return the
// distance to the next boundary and the medium index occupied now.
type Locator interface {
	Step(pos, dir fmom.Vec3) (distance float64, index int)
}

// MediumProperties are the per-medium local properties the driver
// consults every step: bulk density, and optionally a magnetic field
// and a recommended step length.
type MediumProperties struct {
	Density    float64 // kg/m^3
	Material   int     // index into a Registry
	Step       float64 // recommended step length, m; 0 = no recommendation
	Magnetized bool
	Field      fmom.Vec3
}

// PropertiesFunc resolves a medium index (as returned by a Locator) to
// its local properties.
type PropertiesFunc func(index int) (MediumProperties, error)

// physEscat2 is sbinet-tmvl/pumas/impl.go's scattering-variance
// constant, reused here to scale the small-angle deflection Transport
// applies under ScatterMixed.
const physEscat2 = 184.96e-6 // GeV^2

// Context is the transport configuration threaded through Transport
// calls, mirroring sbinet-tmvl/pumas.go's pumas.Context but generalised
// from a single propagation mode to the direction/loss/scatter/cap
// knobs the fluxmeter orchestrator reconfigures between regimes.
type Context struct {
	Registry    *Registry
	Locator     Locator
	Properties  PropertiesFunc
	Rand        *rand.Rand
	Direction   Direction
	LossMode    LossMode
	Scattering  ScatterMode
	EventMask   EventMask
	EnergyLimit float64 // GeV; the cap that triggers KindEnergyLimit (an upper bound backward, a lower bound forward)
}

// maxSubsteps bounds Transport's internal substep loop (one medium's
// recommended step length can be much shorter than the true distance to
// its boundary); this is a backstop against a misconfigured Properties
// callback, not a value any real boundary crossing should approach.
const maxSubsteps = 1 << 16

// Transport advances state to the next true stop cause: a medium
// boundary actually crossed, the energy cap reached, or a host abort.
// A medium's recommended step length (MediumProperties.Step) only
// bounds the resolution of each internal energy-loss substep; it is not
// itself a stop cause, so Transport keeps substepping within the same
// medium index until the locator itself reports a different one.
func (ctx *Context) Transport(state State, charge float64) (State, Event, error) {
	startIdx := 0
	haveStart := false

	for i := 0; i < maxSubsteps; i++ {
		// state.Direction always holds the muon's fixed physical
		// propagation direction (unchanged across backward/forward
		// regimes, since CSDA carries no scattering). Backward context
		// walks the locator and the position opposite to it, retracing
		// time rather than the trajectory.
		moveDir := state.Direction
		if ctx.Direction == Backward {
			moveDir = scaleVec(state.Direction, -1)
		}
		dist, idx := ctx.Locator.Step(state.Position, moveDir)
		if idx == 0 {
			return state, Event{Kind: KindOutside, ExitMedium: 0}, nil
		}
		if !haveStart {
			startIdx = idx
			haveStart = true
		} else if idx != startIdx {
			return state, Event{Kind: KindMedium, EntryMedium: idx, ExitMedium: startIdx}, nil
		}

		props, err := ctx.Properties(idx)
		if err != nil {
			return state, Event{}, xerrors.New(xerrors.PhysicsSetup, "physics.Transport", err)
		}
		hop := dist
		if props.Step > 0 && hop > props.Step {
			hop = props.Step
		}

		if ctx.LossMode == LossDisabled {
			state.Position = addVec(state.Position, scaleVec(moveDir, hop))
			state.Distance += hop
			continue // next iteration's Step call detects any crossing
		}

		mat := ctx.Registry.Material(props.Material)
		sign := 1.0
		if ctx.Direction == Backward {
			sign = -1.0
		}
		meanDK := sign * props.Density * hop * mat.StoppingPower(state.Kinetic)
		if meanDK < 0 {
			meanDK = -meanDK // backward ascent always gains energy in magnitude
		}
		if ctx.Direction == Forward {
			meanDK = -meanDK
		}

		dK := meanDK
		if ctx.LossMode == LossMixed || ctx.LossMode == LossStraggled {
			sigma := 0.05 * math.Abs(meanDK)
			if ctx.Rand != nil && sigma > 0 {
				dK += ctx.Rand.NormFloat64() * sigma
			}
		}

		newK := state.Kinetic + dK
		cap := ctx.EnergyLimit
		// Backward transport gains energy and meets the cap from below;
		// forward transport loses energy and meets it from above.
		reached := newK >= cap
		if ctx.Direction == Forward {
			reached = newK <= cap
		}
		capped := (ctx.EventMask&EventEnergyLimit != 0) && reached

		if capped {
			// Scale the substep proportionally so the state lands
			// exactly at the cap, matching the "K reached the energy
			// cap exactly" regime-switch semantics.
			if dK != 0 {
				frac := (cap - state.Kinetic) / dK
				hop *= frac
			}
			newK = cap
		}

		gamma := 1 + 0.5*(state.Kinetic+newK)/muonMassGeV
		beta := math.Sqrt(math.Max(0, 1-1/(gamma*gamma)))
		if beta > 0 && gamma > 0 {
			state.Time += hop / (beta * gamma)
		}
		state.Distance += hop
		state.Kinetic = newK

		newPos := addVec(state.Position, scaleVec(moveDir, hop))
		newDir := state.Direction
		if ctx.Scattering == ScatterMixed && ctx.Rand != nil && props.Density > 0 {
			newDir = scatter(newDir, hop, ctx.Rand)
		}
		if props.Magnetized && charge != 0 {
			p := math.Sqrt(math.Max(0, (state.Kinetic+muonMassGeV)*(state.Kinetic+muonMassGeV)-muonMassGeV*muonMassGeV))
			if p > 0 {
				newDir = deflect(newDir, props.Field, charge, p, hop)
			}
		}
		state.Position = newPos
		state.Direction = newDir

		if capped {
			return state, Event{Kind: KindEnergyLimit, EntryMedium: idx, ExitMedium: idx}, nil
		}
		// Otherwise keep substepping; the next loop iteration re-locates
		// and either detects a true crossing or continues in-medium.
	}
	return state, Event{Kind: KindAbort, EntryMedium: startIdx, ExitMedium: startIdx}, nil
}

const muonMassGeV = 0.10566

func addVec(a, b fmom.Vec3) fmom.Vec3   { return fmom.Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func scaleVec(v fmom.Vec3, s float64) fmom.Vec3 { return fmom.Vec3{v[0] * s, v[1] * s, v[2] * s} }

// scatter applies a small-angle random deflection to dir, variance
// scaled by physEscat2 and the step length, in the spirit of the
// teacher's Larmor/scattering integrals (pumas/impl.go) without
// reproducing their exact Taylor-series machinery (the transport
// driver itself is treated as an external collaborator).
func scatter(dir fmom.Vec3, dist float64, rng *rand.Rand) fmom.Vec3 {
	theta := math.Sqrt(physEscat2*dist) * rng.NormFloat64() * 1e-3
	phi := rng.Float64() * 2 * math.Pi

	// Build an orthonormal frame around dir and tilt by theta.
	ref := fmom.Vec3{0, 0, 1}
	if math.Abs(dir[2]) > 0.9 {
		ref = fmom.Vec3{1, 0, 0}
	}
	e1 := cross(dir, ref)
	e1 = normalize(e1)
	e2 := cross(dir, e1)

	sinT, cosT := math.Sincos(theta)
	sinP, cosP := math.Sincos(phi)
	var out fmom.Vec3
	for i := 0; i < 3; i++ {
		out[i] = cosT*dir[i] + sinT*(cosP*e1[i]+sinP*e2[i])
	}
	return normalize(out)
}

// larmorConst converts (charge in e, field in Tesla, momentum in GeV/c)
// to a curvature in rad/m: kappa = 0.2998*q*B_perp/p, the standard
// magnetic-rigidity relation.
const larmorConst = 0.2998

// deflect rotates dir by the Lorentz-force curvature accumulated over a
// step of length dist through field (ECEF Tesla), for a particle of the
// given charge (in e) and momentum magnitude p (GeV/c). A field
// component along dir contributes no curvature (axis degenerates to the
// zero vector), matching the real force law's v x B term.
func deflect(dir, field fmom.Vec3, charge, p, dist float64) fmom.Vec3 {
	axis := cross(dir, field)
	bPerp := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
	if bPerp == 0 {
		return dir
	}
	axis = scaleVec(axis, 1/bPerp)
	theta := larmorConst * charge * bPerp * dist / p

	sinT, cosT := math.Sincos(theta)
	var out fmom.Vec3
	for i := 0; i < 3; i++ {
		out[i] = cosT*dir[i] + sinT*axis[i]
	}
	return normalize(out)
}

func cross(a, b fmom.Vec3) fmom.Vec3 {
	return fmom.Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v fmom.Vec3) fmom.Vec3 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return v
	}
	return fmom.Vec3{v[0] / n, v[1] / n, v[2] / n}
}
