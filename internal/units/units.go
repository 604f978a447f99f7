// Package units provides acceleration unit handling and timezone validation
// shared by the node packages.
package units

import "gonum.org/v1/gonum/floats"

// Acceleration units reported by IMU drivers. Auto infers milli-g from the
// magnitude of each reading.
const (
	Auto   = "auto"
	G      = "g"
	MilliG = "mg"
)

// ValidAccelUnits contains all accepted acceleration units.
var ValidAccelUnits = []string{Auto, G, MilliG}

// IsValidAccelUnit reports whether unit is a known acceleration unit.
func IsValidAccelUnit(unit string) bool {
	for _, u := range ValidAccelUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// Default milli-g detection parameters. Some IMU firmware reports acceleration
// in milli-g without saying so; a magnitude above the threshold is taken as
// milli-g and scaled by the divisor.
const (
	DefaultMilliGThreshold = 100.0
	DefaultMilliGDivisor   = 1000.0
)

// Magnitude returns the Euclidean norm of an acceleration vector.
func Magnitude(x, y, z float64) float64 {
	return floats.Norm([]float64{x, y, z}, 2)
}

// ToG converts a magnitude reported in unit to g. MilliG always divides by
// divisor, G is returned as is and Auto applies NormalizeG.
func ToG(magnitude float64, unit string, threshold, divisor float64) float64 {
	switch unit {
	case G:
		return magnitude
	case MilliG:
		if divisor <= 0 {
			return magnitude
		}
		return magnitude / divisor
	default:
		return NormalizeG(magnitude, threshold, divisor)
	}
}

// NormalizeG converts a magnitude to g, applying the milli-g heuristic when
// the value exceeds threshold. A non-positive divisor disables the scaling.
func NormalizeG(magnitude, threshold, divisor float64) float64 {
	if divisor <= 0 {
		return magnitude
	}
	if magnitude > threshold {
		return magnitude / divisor
	}
	return magnitude
}
