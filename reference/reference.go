// Package reference implements the reference flux consulted at the
// opensky boundary: either a built-in Gaisser x Guan-correction
// parameterisation, or a tri-linear interpolation over a packed
// (energy, cos theta, altitude) table.
package reference

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"

	"github.com/niess/mulder/internal/xerrors"
)

// Physical constants, exact.
const (
	MuonMass = 0.10566 // GeV/c^2
	ChargeRatio = 1.2766 // CMS
)

// Sample is a reference-flux evaluation: the summed (muon + anti-muon)
// differential flux, in GeV^-1 m^-2 s^-1 sr^-1, and the charge
// asymmetry (f0-f1)/(f0+f1).
type Sample struct {
	Value     float64
	Asymmetry float64
}

// Flux is satisfied by both the default closed-form parameterisation
// and a Table; the fluxmeter orchestrator only ever calls Flux.
type Flux interface {
	// Flux evaluates the reference flux at altitude h (m), elevation
	// angle elevation (degrees, measured up from horizontal) and
	// kinetic energy k (GeV).
	Flux(h, elevation, k float64) Sample
	// Support returns the altitude range over which this reference is
	// defined.
	Support() (heightMin, heightMax float64)
	// EnergyRange returns the kinetic-energy range over which this
	// reference is defined. The backward-ascent regime cap and the CSDA
	// forward step's stopping cap are both drawn from this, never from
	// Support's altitude bounds.
	EnergyRange() (kMin, kMax float64)
}

// Default is the built-in Gaisser x Guan-correction parameterisation,
// valid over the whole atmosphere. EnergyMin/EnergyMax are optional;
// zero (the default) selects the built-in wide energy bounds.
type Default struct {
	HeightMin, HeightMax float64
	EnergyMin, EnergyMax float64
}

// NewDefault builds the built-in parameterisation with full
// atmosphere-wide support. Most callers should use this rather than
// constructing Default directly, but a narrower support is a legitimate
// way to force CSDA-forward-step behaviour in tests.
func NewDefault() *Default {
	return &Default{HeightMin: -11000, HeightMax: 120000}
}

// Support implements Flux.
func (d *Default) Support() (float64, float64) { return d.HeightMin, d.HeightMax }

// EnergyRange implements Flux, defaulting to [1e-3, 1e6] GeV when left
// unset.
func (d *Default) EnergyRange() (float64, float64) {
	kMin, kMax := d.EnergyMin, d.EnergyMax
	if kMax <= 0 {
		kMax = 1e6
	}
	if kMin <= 0 {
		kMin = 1e-3
	}
	return kMin, kMax
}

// Flux implements Flux using the Gaisser parameterisation with Volkova's
// curvature correction and the Guan et al. 2015 correction factor.
func (d *Default) Flux(h, elevation, k float64) Sample {
	if h < d.HeightMin || h > d.HeightMax {
		return Sample{}
	}
	c := math.Cos((90 - elevation) * math.Pi / 180)
	if c < 0 {
		return Sample{}
	}

	e := k + MuonMass
	gaisser := func(cc, kk float64) float64 {
		ee := kk + MuonMass
		return 1.4e3 * math.Pow(ee, -2.7) *
			(1/(1+1.1*ee*cc/115) + 0.054/(1+1.1*ee*cc/850))
	}

	cstar2 := (c*c + 0.102573*0.102573 +
		(-0.068287)*math.Pow(c, 0.958633) +
		0.0407253*math.Pow(c, 0.817285)) /
		(1 + 0.102573*0.102573 + (-0.068287) + 0.0407253)
	var cstar float64
	if cstar2 > 0 {
		cstar = math.Sqrt(cstar2)
	}

	value := math.Pow(1+3.64/(e*math.Pow(cstar, 1.29)), -2.7) * gaisser(cstar, k)

	f := ChargeRatio / (1 + ChargeRatio)
	asymmetry := 2*f - 1

	return Sample{Value: value, Asymmetry: asymmetry}
}

// --- Tabulated reference -------------------------------------------------

// Table is a tri-linear interpolated reference flux backed by a packed
// (energy, cos theta, altitude) grid and its binary layout.
type Table struct {
	nk, nc, nh int
	kMin, kMax float64
	cMin, cMax float64
	hMin, hMax float64
	data       []float32 // 2*nk*nc*nh, energy fastest, then cos, then height

	kNodes, cNodes, hNodes []float64 // precomputed grid coordinates
}

// axisNodes returns the n grid coordinates spanning [vmin, vmax],
// log-spaced (via gonum/floats.Span over the log-transformed bounds)
// when both bounds are strictly positive, linearly spaced (via
// floats.Span directly) otherwise.
func axisNodes(vmin, vmax float64, n int) []float64 {
	if n <= 1 {
		return []float64{vmin}
	}
	if vmin > 0 && vmax > 0 {
		nodes := floats.Span(make([]float64, n), math.Log(vmin), math.Log(vmax))
		for i, l := range nodes {
			nodes[i] = math.Exp(l)
		}
		return nodes
	}
	return floats.Span(make([]float64, n), vmin, vmax)
}

// Support implements Flux.
func (t *Table) Support() (float64, float64) { return t.hMin, t.hMax }

// Shape returns the table's grid counts (n_k, n_c, n_h).
func (t *Table) Shape() (nk, nc, nh int) { return t.nk, t.nc, t.nh }

// EnergyRange returns [k_min, k_max].
func (t *Table) EnergyRange() (float64, float64) { return t.kMin, t.kMax }

// CosineRange returns [c_min, c_max].
func (t *Table) CosineRange() (float64, float64) { return t.cMin, t.cMax }

// NewTable builds a Table from its grid description and packed data,
// validating the body size against the header.
func NewTable(nk, nc, nh int, kMin, kMax, cMin, cMax, hMin, hMax float64, data []float32) (*Table, error) {
	want := 2 * nk * nc * nh
	if len(data) != want {
		return nil, xerrors.New(xerrors.Format, "reference.NewTable",
			fmt.Errorf("body has %d floats, header implies %d", len(data), want))
	}
	if nk < 2 || nc < 2 || nh < 1 {
		return nil, xerrors.New(xerrors.Format, "reference.NewTable",
			fmt.Errorf("degenerate grid shape (nk=%d, nc=%d, nh=%d)", nk, nc, nh))
	}
	return &Table{
		nk: nk, nc: nc, nh: nh,
		kMin: kMin, kMax: kMax,
		cMin: cMin, cMax: cMax,
		hMin: hMin, hMax: hMax,
		data:   data,
		kNodes: axisNodes(kMin, kMax, nk),
		cNodes: axisNodes(cMin, cMax, nc),
		hNodes: axisNodes(hMin, hMax, nh),
	}, nil
}

// LoadTable reads a packed reference table from path: a header of three
// little-endian int64 grid counts (n_k, n_c, n_h) followed by six
// little-endian float64 bounds (k_min, k_max, c_min, c_max, h_min,
// h_max), then the body of 2*n_k*n_c*n_h little-endian float32 values
// (energy fastest, then cos theta, then altitude; muon channel before
// anti-muon channel in each cell).
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.IO, "reference.LoadTable", err)
	}
	defer f.Close()

	var dims [3]int64
	if err := binary.Read(f, binary.LittleEndian, &dims); err != nil {
		return nil, xerrors.New(xerrors.Format, "reference.LoadTable", fmt.Errorf("reading grid counts: %w", err))
	}
	var bounds [6]float64
	if err := binary.Read(f, binary.LittleEndian, &bounds); err != nil {
		return nil, xerrors.New(xerrors.Format, "reference.LoadTable", fmt.Errorf("reading grid bounds: %w", err))
	}
	nk, nc, nh := int(dims[0]), int(dims[1]), int(dims[2])
	if nk < 0 || nc < 0 || nh < 0 {
		return nil, xerrors.New(xerrors.Format, "reference.LoadTable", fmt.Errorf("negative grid count (%d, %d, %d)", nk, nc, nh))
	}

	n := 2 * nk * nc * nh
	data := make([]float32, n)
	if err := binary.Read(f, binary.LittleEndian, data); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, xerrors.New(xerrors.Format, "reference.LoadTable", fmt.Errorf("body shorter than header implies (%d floats)", n))
		}
		return nil, xerrors.New(xerrors.Format, "reference.LoadTable", fmt.Errorf("reading body: %w", err))
	}

	t, err := NewTable(nk, nc, nh, bounds[0], bounds[1], bounds[2], bounds[3], bounds[4], bounds[5], data)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// cellIndex returns the flat index of (ik, ic, ih)'s first channel
// (muon flux); the anti-muon channel is the next element.
func (t *Table) cellIndex(ik, ic, ih int) int {
	return 2 * (ih*t.nc*t.nk + ic*t.nk + ik)
}

// axisFraction locates x on a [vmin, vmax] axis of n points, returning
// the lower index and fractional offset, using log spacing when log is
// true (energy and, when both endpoints are positive, altitude), linear
// otherwise (cos theta always; altitude and energy fall back to linear
// when an endpoint is non-positive).
func axisFraction(x, vmin, vmax float64, n int, log bool) (i0 int, frac float64) {
	if log && vmin > 0 && vmax > 0 {
		lx := math.Log(clampPositive(x, vmin, vmax))
		l0, l1 := math.Log(vmin), math.Log(vmax)
		return splitAxis(lx, l0, l1, n)
	}
	return splitAxis(clampRange(x, vmin, vmax), vmin, vmax, n)
}

func splitAxis(x, v0, v1 float64, n int) (int, float64) {
	if n == 1 {
		return 0, 0
	}
	step := (v1 - v0) / float64(n-1)
	if step == 0 {
		return 0, 0
	}
	f := (x - v0) / step
	i0 := int(math.Floor(f))
	if i0 < 0 {
		i0 = 0
	}
	if i0 > n-2 {
		i0 = n - 2
	}
	return i0, f - float64(i0)
}

func clampRange(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func clampPositive(x, lo, hi float64) float64 {
	x = clampRange(x, lo, hi)
	if x <= 0 {
		return lo
	}
	return x
}

// interp1 performs log-linear interpolation between (x0, y0) and
// (x1, y1) at x when both endpoints are strictly positive, linear
// otherwise, per the per-dimension interpolation policy.
func interp1(x, x0, x1, y0, y1 float64) float64 {
	if y0 > 0 && y1 > 0 && x0 > 0 && x1 > 0 {
		t := (math.Log(x) - math.Log(x0)) / (math.Log(x1) - math.Log(x0))
		return math.Exp(math.Log(y0) + t*(math.Log(y1)-math.Log(y0)))
	}
	if x1 == x0 {
		return y0
	}
	t := (x - x0) / (x1 - x0)
	return y0 + t*(y1-y0)
}

// channel returns the interpolated value of flux channel ch (0=muon,
// 1=anti-muon) at (k, c, h): cos theta linear, energy and altitude
// log-linear when possible.
func (t *Table) channel(ch int, k, c, h float64) float64 {
	ik0, _ := axisFraction(k, t.kMin, t.kMax, t.nk, true)
	ic0, fc := axisFraction(c, t.cMin, t.cMax, t.nc, false)
	ih0, _ := axisFraction(h, t.hMin, t.hMax, t.nh, true)
	ih1 := ih0
	if t.nh > 1 {
		ih1 = ih0 + 1
	}

	at := func(ik, ic, ih int) float64 {
		return float64(t.data[t.cellIndex(ik, ic, ih)+ch])
	}

	kv0, kv1 := t.kNodes[ik0], t.kNodes[ik0+1]

	kAt := func(ic, ih int) float64 {
		return interp1(k, kv0, kv1, at(ik0, ic, ih), at(ik0+1, ic, ih))
	}
	cAt := func(ih int) float64 {
		y0, y1 := kAt(ic0, ih), kAt(ic0+1, ih)
		return y0 + fc*(y1-y0)
	}

	if t.nh == 1 {
		return cAt(ih0)
	}
	return interp1(h, t.hNodes[ih0], t.hNodes[ih1], cAt(ih0), cAt(ih1))
}

// Flux implements Flux via independent tri-linear interpolation of the
// muon and anti-muon channels, summed for the value and differenced for
// the asymmetry (zero when the sum is not positive).
func (t *Table) Flux(h, elevation, k float64) Sample {
	if h < t.hMin || h > t.hMax {
		return Sample{}
	}
	c := math.Cos((90 - elevation) * math.Pi / 180)
	f0 := t.channel(0, k, c, h)
	f1 := t.channel(1, k, c, h)
	sum := f0 + f1
	if sum <= 0 {
		return Sample{Value: sum}
	}
	return Sample{Value: sum, Asymmetry: (f0 - f1) / sum}
}

