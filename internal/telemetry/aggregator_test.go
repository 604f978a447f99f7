package telemetry

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/units"
)

func sampleZ(g float64) imu.Sample {
	return imu.Sample{Accel: imu.Vector{Z: g}, Ready: true}
}

func TestAggregator_Windows(t *testing.T) {
	tests := []struct {
		name       string
		magnitudes []float64
		want       WindowStats
		status     Status
	}{
		{
			name:       "impact in window",
			magnitudes: []float64{0.5, 3.0, 1.0},
			want:       WindowStats{PeakG: 3.0, Fall: true, Observed: 3},
			status:     Moving,
		},
		{
			name:       "at rest",
			magnitudes: []float64{0.3, 0.4},
			want:       WindowStats{PeakG: 0.4, Fall: false, Observed: 2},
			status:     Resting,
		},
		{
			name:       "moving without fall",
			magnitudes: []float64{1.0, 1.2, 2.5},
			want:       WindowStats{PeakG: 2.5, Fall: false, Observed: 3},
			status:     Moving,
		},
		{
			name:       "threshold is exclusive",
			magnitudes: []float64{1.1},
			want:       WindowStats{PeakG: 1.1, Observed: 1},
			status:     Resting,
		},
		{
			name:       "milli-g readings are rescaled",
			magnitudes: []float64{980, 2900},
			want:       WindowStats{PeakG: 2.9, Fall: true, Observed: 2},
			status:     Moving,
		},
		{
			name:   "empty window",
			want:   WindowStats{},
			status: Resting,
		},
	}

	opt := cmpopts.EquateApprox(0, 1e-9)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(DefaultThresholds())
			for _, m := range tt.magnitudes {
				a.Observe(sampleZ(m))
			}
			got := a.Summarize()
			if diff := cmp.Diff(tt.want, got, opt); diff != "" {
				t.Errorf("Summarize() mismatch (-want +got):\n%s", diff)
			}
			if s := got.Status(a.Thresholds()); s != tt.status {
				t.Errorf("Status() = %s, want %s", s, tt.status)
			}
		})
	}
}

func TestAggregator_ResetsEachWindow(t *testing.T) {
	a := NewAggregator(DefaultThresholds())
	a.Observe(sampleZ(3.2))
	if w := a.Summarize(); !w.Fall {
		t.Fatalf("first window should be a fall candidate: %+v", w)
	}

	if a.Observed() != 0 {
		t.Errorf("Observed() after Summarize = %d, want 0", a.Observed())
	}
	if w := a.Summarize(); w.PeakG != 0 || w.Fall {
		t.Errorf("second window = %+v, want reset state", w)
	}

	a.Observe(sampleZ(0.9))
	if w := a.Summarize(); w.PeakG != 0.9 || w.Fall {
		t.Errorf("third window = %+v, want peak 0.9 without fall", w)
	}
}

func TestAggregator_IgnoresUnreadySamples(t *testing.T) {
	a := NewAggregator(DefaultThresholds())
	a.Observe(imu.Sample{Accel: imu.Vector{Z: 9}})
	if a.Observed() != 0 {
		t.Fatalf("unready sample was counted")
	}
	if w := a.Summarize(); w.PeakG != 0 || w.Fall {
		t.Errorf("unready sample changed the window: %+v", w)
	}
}

func TestAggregator_EuclideanMagnitude(t *testing.T) {
	a := NewAggregator(DefaultThresholds())
	got := a.Magnitude(imu.Vector{X: 1, Y: 2, Z: 2})
	if got != 3 {
		t.Errorf("Magnitude = %v, want 3", got)
	}

	a.Observe(imu.Sample{Accel: imu.Vector{X: -1.5, Y: 2, Z: 0}, Ready: true})
	if w := a.Summarize(); math.Abs(w.PeakG-2.5) > 1e-9 || w.Fall {
		t.Errorf("window = %+v, want peak 2.5 without fall", w)
	}
}

func TestAggregator_ConfigurableMilliG(t *testing.T) {
	th := DefaultThresholds()
	th.MilliGDivisor = 0
	a := NewAggregator(th)
	a.Observe(sampleZ(500))
	if w := a.Summarize(); w.PeakG != 500 || !w.Fall {
		t.Errorf("with rescaling disabled window = %+v, want raw peak 500", w)
	}

	th = DefaultThresholds()
	th.MilliGThreshold = 10
	a = NewAggregator(th)
	a.Observe(sampleZ(20))
	if w := a.Summarize(); math.Abs(w.PeakG-0.02) > 1e-9 {
		t.Errorf("with threshold 10 window = %+v, want peak 0.02", w)
	}
}

func TestAggregator_SkipsNonFiniteSamples(t *testing.T) {
	a := NewAggregator(DefaultThresholds())
	a.Observe(sampleZ(0.8))
	a.Observe(sampleZ(math.Inf(1)))
	a.Observe(imu.Sample{Accel: imu.Vector{X: math.NaN()}, Ready: true})

	if a.Observed() != 1 {
		t.Fatalf("Observed() = %d, want 1", a.Observed())
	}
	w := a.Summarize()
	if math.Abs(w.PeakG-0.8) > 1e-9 || w.Fall {
		t.Errorf("window = %+v, want peak 0.8 without fall", w)
	}
	line := WindowSummary{Timestamp: "t", DeviceID: "d", Status: w.Status(DefaultThresholds()), PeakG: w.PeakG}.String()
	if line != "t,d,RESTING,0,0,0.80,0\n" {
		t.Errorf("encoded line = %q", line)
	}
}

func TestAggregator_FixedUnit(t *testing.T) {
	th := DefaultThresholds()
	th.Unit = units.MilliG
	a := NewAggregator(th)
	a.Observe(sampleZ(50))
	if w := a.Summarize(); math.Abs(w.PeakG-0.05) > 1e-9 {
		t.Errorf("mg window = %+v, want peak 0.05", w)
	}

	th.Unit = units.G
	a = NewAggregator(th)
	a.Observe(sampleZ(150))
	if w := a.Summarize(); math.Abs(w.PeakG-150) > 1e-9 || !w.Fall {
		t.Errorf("g window = %+v, want unscaled peak 150", w)
	}
}
