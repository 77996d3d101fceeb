package fluxmeter

// Grid pairs an azimuth range and an elevation range with a step,
// describing the (azimuth, elevation) pairs a camera-style sky scan
// would visit from a single observer position. Restored from the
// camera/grid direction iteration in the original sky-map renderer,
// trimmed to pure numerics since rendering itself is out of scope: the
// CLI uses this to batch Flux calls across a sky, not to draw one.
type Grid struct {
	AzMin, AzMax, AzStep float64
	ElMin, ElMax, ElStep float64
}

// naz returns the number of azimuth samples the grid visits, at least 1.
func (g Grid) naz() int {
	if g.AzStep <= 0 || g.AzMax <= g.AzMin {
		return 1
	}
	return int((g.AzMax-g.AzMin)/g.AzStep) + 1
}

// nel returns the number of elevation samples the grid visits, at
// least 1.
func (g Grid) nel() int {
	if g.ElStep <= 0 || g.ElMax <= g.ElMin {
		return 1
	}
	return int((g.ElMax-g.ElMin)/g.ElStep) + 1
}

// Len returns the total number of (azimuth, elevation) pairs the grid
// visits.
func (g Grid) Len() int { return g.naz() * g.nel() }

// At returns the i'th (azimuth, elevation) pair, in row-major order
// (elevation the outer index, azimuth the inner one).
func (g Grid) At(i int) (azimuth, elevation float64) {
	na := g.naz()
	iaz, iel := i%na, i/na
	az := g.AzMin + float64(iaz)*g.AzStep
	el := g.ElMin + float64(iel)*g.ElStep
	if g.naz() == 1 {
		az = g.AzMin
	}
	if g.nel() == 1 {
		el = g.ElMin
	}
	return az, el
}

// Each calls f for every (azimuth, elevation) pair the grid visits.
func (g Grid) Each(f func(azimuth, elevation float64)) {
	for i := 0; i < g.Len(); i++ {
		az, el := g.At(i)
		f(az, el)
	}
}

// Scan evaluates Flux once per (azimuth, elevation) pair in grid,
// holding every other field of base fixed, and returns the results in
// the grid's row-major iteration order.
func (fm *Fluxmeter) Scan(base Observer, grid Grid) []Result {
	out := make([]Result, grid.Len())
	for i := range out {
		az, el := grid.At(i)
		obs := base
		obs.Azimuth, obs.Elevation = az, el
		out[i] = fm.Flux(obs)
	}
	return out
}
