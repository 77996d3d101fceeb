package geometry

import "math"

// atmosphere shell boundary altitudes and CORSIKA parameters,
// reproduced bit-for-bit from the four-shell US-standard fit.
var (
	shellHC = [4]float64{4e3, 1e4, 4e4, 1e5}
	shellB  = [4]float64{1222.6562, 1144.9069, 1305.5948, 540.1778}
	shellC  = [4]float64{994186.38, 878153.55, 636143.04, 772170.16}
)

// AtmosphereDensity returns the analytic US-standard atmospheric
// density at altitude h (metres), in kg/m^3, per the four-shell CORSIKA
// parameterisation.
func AtmosphereDensity(h float64) float64 {
	i := len(shellHC) - 1
	for j, hc := range shellHC {
		if h <= hc {
			i = j
			break
		}
	}
	lambda := shellC[i] * 1e-2
	return 10 * shellB[i] / lambda * math.Exp(-h/lambda)
}

// atmosphereLambda returns the scale height of the shell containing
// altitude h, used by AtmosphereStep.
func atmosphereLambda(h float64) float64 {
	i := len(shellHC) - 1
	for j, hc := range shellHC {
		if h <= hc {
			i = j
			break
		}
	}
	return shellC[i] * 1e-2
}

// AtmosphereStep returns the recommended step length for a ray with
// local elevation angle elevationRad (radians, from horizontal) at
// altitude h: the shell's scale height divided by |sin(elevation)|, with
// |sin(elevation)| floored at 0.1 so the step never exceeds lambda/0.1,
// so path length stays bounded relative to the altitude over which
// density varies appreciably.
func AtmosphereStep(h, elevationRad float64) float64 {
	lambda := atmosphereLambda(h)
	s := math.Abs(math.Sin(elevationRad))
	if s < 0.1 {
		s = 0.1
	}
	return lambda / s
}
