package telemetry

import (
	"math"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/units"
)

// Thresholds configures the aggregator's classification and unit heuristics.
type Thresholds struct {
	// MovingG is the peak magnitude above which a window is MOVING.
	MovingG float64
	// FallG is the magnitude above which a sample marks a fall candidate.
	FallG float64
	// MilliGThreshold is the magnitude above which a reading is assumed to
	// be in milli-g.
	MilliGThreshold float64
	// MilliGDivisor scales a milli-g reading to g.
	MilliGDivisor float64
	// Unit is the acceleration unit of the sensor, one of units.ValidAccelUnits.
	Unit string
}

// DefaultThresholds returns the thresholds the node ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MovingG:         1.1,
		FallG:           2.5,
		MilliGThreshold: units.DefaultMilliGThreshold,
		MilliGDivisor:   units.DefaultMilliGDivisor,
		Unit:            units.Auto,
	}
}

// WindowStats is the aggregator state captured at a window boundary.
type WindowStats struct {
	PeakG    float64
	Fall     bool
	Observed int
}

// Status classifies the window from its peak magnitude.
func (w WindowStats) Status(th Thresholds) Status {
	if w.PeakG > th.MovingG {
		return Moving
	}
	return Resting
}

// Aggregator tracks the peak acceleration magnitude and a sticky fall flag
// over the current window. It is owned by a single goroutine.
type Aggregator struct {
	th       Thresholds
	peak     float64
	fall     bool
	observed int
}

// NewAggregator returns an Aggregator starting an empty window.
func NewAggregator(th Thresholds) *Aggregator {
	return &Aggregator{th: th}
}

// Thresholds returns the aggregator configuration.
func (a *Aggregator) Thresholds() Thresholds {
	return a.th
}

// Observe ingests one sample. Samples that are not ready or whose magnitude
// is not finite are ignored.
func (a *Aggregator) Observe(s imu.Sample) {
	if !s.Ready {
		return
	}
	g := a.Magnitude(s.Accel)
	if math.IsNaN(g) || math.IsInf(g, 0) {
		return
	}
	if g > a.peak {
		a.peak = g
	}
	if g > a.th.FallG {
		a.fall = true
	}
	a.observed++
}

// Magnitude returns the unit-corrected magnitude of an acceleration vector.
func (a *Aggregator) Magnitude(v imu.Vector) float64 {
	return units.ToG(units.Magnitude(v.X, v.Y, v.Z), a.th.Unit, a.th.MilliGThreshold, a.th.MilliGDivisor)
}

// Summarize returns the current window and resets the aggregator to
// (0, false) for the next one.
func (a *Aggregator) Summarize() WindowStats {
	w := WindowStats{PeakG: a.peak, Fall: a.fall, Observed: a.observed}
	a.peak = 0
	a.fall = false
	a.observed = 0
	return w
}

// Observed returns the number of samples accepted in the current window.
func (a *Aggregator) Observed() int {
	return a.observed
}
