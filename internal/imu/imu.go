// Package imu defines the motion sensor contract consumed by the pipeline and
// the sensor implementations the node can run with.
package imu

import (
	"context"
	"errors"
)

// ErrNoSensor is returned by Init when no candidate sensor responded.
var ErrNoSensor = errors.New("imu: no sensor responded")

// ErrNotReady is returned when a vector is read before any sample arrived.
var ErrNotReady = errors.New("imu: no sample available")

// Vector is a three-axis reading.
type Vector struct {
	X, Y, Z float64
}

// Sample is one poll of the sensor: acceleration in g, angular velocity in
// degrees per second, and whether the sensor had fresh data.
type Sample struct {
	Accel Vector
	Gyro  Vector
	Ready bool
}

// Sensor is the motion sensor interface. Implementations are polled from a
// single goroutine.
type Sensor interface {
	// Init tries the candidate addresses in order and applies cfg to the
	// first one that can be opened.
	Init(ctx context.Context, candidates []string, cfg SensorConfig) error
	// DataReady reports whether a new sample is available.
	DataReady() bool
	// Acceleration returns the latest acceleration vector in g.
	Acceleration() (Vector, error)
	// Gyroscope returns the latest angular-velocity vector in dps.
	Gyroscope() (Vector, error)
	// StepCount returns the pedometer counter. It never decreases.
	StepCount() uint32
}

// Poll reads one sample from s. The sample is not ready when the sensor had
// no fresh data or the acceleration read failed.
func Poll(s Sensor) Sample {
	if !s.DataReady() {
		return Sample{}
	}
	accel, err := s.Acceleration()
	if err != nil {
		return Sample{}
	}
	gyro, _ := s.Gyroscope()
	return Sample{Accel: accel, Gyro: gyro, Ready: true}
}

// Disabled is a sensor that never produces data. The node falls back to it
// when initialization fails so sampling yields nothing for the session.
type Disabled struct{}

func (Disabled) Init(context.Context, []string, SensorConfig) error { return nil }
func (Disabled) DataReady() bool                                    { return false }
func (Disabled) Acceleration() (Vector, error)                      { return Vector{}, ErrNotReady }
func (Disabled) Gyroscope() (Vector, error)                         { return Vector{}, ErrNotReady }
func (Disabled) StepCount() uint32                                  { return 0 }
