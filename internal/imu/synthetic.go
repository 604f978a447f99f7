package imu

import (
	"context"
	"math"
	"math/rand"
	"sync"
)

// Synthetic is a development sensor producing plausible wrist motion: rest
// under gravity, walking bursts that advance the step counter and an
// occasional impact spike.
type Synthetic struct {
	mu    sync.Mutex
	rng   *rand.Rand
	tick  int
	steps uint32
	last  Sample

	// WalkEvery starts a walking burst every N polls. Zero disables walking.
	WalkEvery int
	// ImpactEvery injects a fall-sized spike every N polls. Zero disables it.
	ImpactEvery int
}

// NewSynthetic returns a synthetic sensor seeded for reproducible output.
func NewSynthetic(seed int64) *Synthetic {
	return &Synthetic{
		rng:         rand.New(rand.NewSource(seed)),
		WalkEvery:   40,
		ImpactEvery: 600,
	}
}

// Init always succeeds.
func (s *Synthetic) Init(context.Context, []string, SensorConfig) error { return nil }

// DataReady is always true; every poll generates a fresh sample.
func (s *Synthetic) DataReady() bool { return true }

// Acceleration generates the next sample.
func (s *Synthetic) Acceleration() (Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	noise := func() float64 { return (s.rng.Float64() - 0.5) * 0.04 }
	accel := Vector{X: noise(), Y: noise(), Z: 1 + noise()}
	gyro := Vector{X: noise() * 50, Y: noise() * 50, Z: noise() * 50}

	if s.WalkEvery > 0 && s.tick%s.WalkEvery < s.WalkEvery/4 {
		phase := float64(s.tick%s.WalkEvery) * math.Pi / 2
		accel.Z += 0.35 * math.Abs(math.Sin(phase))
		accel.X += 0.2 * math.Cos(phase)
		gyro.Y += 80 * math.Sin(phase)
		if s.tick%2 == 0 {
			s.steps++
		}
	}
	if s.ImpactEvery > 0 && s.tick%s.ImpactEvery == 0 {
		accel = Vector{X: 1.8 + s.rng.Float64(), Y: -1.2, Z: 1.9}
		gyro = Vector{X: 350, Y: -220, Z: 140}
	}

	s.last = Sample{Accel: accel, Gyro: gyro, Ready: true}
	return accel, nil
}

// Gyroscope returns the angular velocity of the last generated sample.
func (s *Synthetic) Gyroscope() (Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.last.Ready {
		return Vector{}, ErrNotReady
	}
	return s.last.Gyro, nil
}

// StepCount returns the simulated pedometer count.
func (s *Synthetic) StepCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}
