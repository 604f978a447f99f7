package imu

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/serialmux"
)

// DefaultBridgePorts are the serial devices an IMU bridge enumerates as.
var DefaultBridgePorts = []string{"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyUSB0"}

// ErrBadLine is returned by ParseLine for lines that are not IMU samples.
var ErrBadLine = errors.New("imu: not a sample line")

const samplePrefix = "imu,"

// ParseLine decodes a bridge sample line "imu,ax,ay,az,gx,gy,gz,steps".
func ParseLine(line string) (Sample, uint32, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, samplePrefix) {
		return Sample{}, 0, ErrBadLine
	}
	fields := strings.Split(line[len(samplePrefix):], ",")
	if len(fields) != 7 {
		return Sample{}, 0, fmt.Errorf("%w: got %d values, want 7", ErrBadLine, len(fields))
	}

	var v [6]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return Sample{}, 0, fmt.Errorf("%w: value %d: %v", ErrBadLine, i, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Sample{}, 0, fmt.Errorf("%w: value %d is not finite", ErrBadLine, i)
		}
		v[i] = f
	}
	steps, err := strconv.ParseUint(strings.TrimSpace(fields[6]), 10, 32)
	if err != nil {
		return Sample{}, 0, fmt.Errorf("%w: steps: %v", ErrBadLine, err)
	}

	return Sample{
		Accel: Vector{X: v[0], Y: v[1], Z: v[2]},
		Gyro:  Vector{X: v[3], Y: v[4], Z: v[5]},
		Ready: true,
	}, uint32(steps), nil
}

// Bridge is a Sensor reached through a microcontroller that streams IMU
// samples over a serial line and accepts configuration commands.
type Bridge struct {
	opts serialmux.PortOptions
	open serialmux.PortOpener
	logf func(format string, v ...interface{})

	mu       sync.Mutex
	mux      *serialmux.SerialMux[serialmux.SerialPorter]
	path     string
	latest   Sample
	steps    uint32
	fresh    bool
	received bool
	rejected uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridge returns an uninitialized bridge sensor. A nil opener opens real
// serial ports.
func NewBridge(opts serialmux.PortOptions, open serialmux.PortOpener) *Bridge {
	return &Bridge{opts: opts, open: open, logf: monitoring.Component("imu")}
}

// Init opens the first candidate port that can be opened, writes the sensor
// configuration and starts streaming samples. The port is not checked for
// sample lines; a silent port leaves DataReady false and Rejected counts any
// other traffic.
func (b *Bridge) Init(ctx context.Context, candidates []string, cfg SensorConfig) error {
	if len(candidates) == 0 {
		candidates = DefaultBridgePorts
	}
	mux, path, err := serialmux.OpenFirst(candidates, b.opts, b.open)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoSensor, err)
	}

	for _, cmd := range cfg.Commands() {
		if err := ctx.Err(); err != nil {
			mux.Close()
			return err
		}
		if err := mux.SendCommand(cmd); err != nil {
			mux.Close()
			return fmt.Errorf("failed to send %q to %s: %w", cmd, path, err)
		}
	}

	monCtx, cancel := context.WithCancel(context.Background())
	id, lines := mux.Subscribe()

	b.mu.Lock()
	b.mux = mux
	b.path = path
	b.cancel = cancel
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	go func() {
		if err := mux.Monitor(monCtx); err != nil && !errors.Is(err, context.Canceled) {
			b.logf("bridge monitor on %s stopped: %v", path, err)
		}
	}()
	go func() {
		defer close(done)
		defer mux.Unsubscribe(id)
		for line := range lines {
			b.handleLine(line)
		}
	}()

	b.logf("bridge ready on %s", path)
	return nil
}

func (b *Bridge) handleLine(line string) {
	s, steps, err := ParseLine(line)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.rejected++
		return
	}
	b.latest = s
	if steps > b.steps {
		b.steps = steps
	}
	b.fresh = true
	b.received = true
}

// DataReady reports whether a sample arrived since the last Acceleration read.
func (b *Bridge) DataReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fresh
}

// Acceleration returns the latest acceleration and consumes the sample.
func (b *Bridge) Acceleration() (Vector, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.received {
		return Vector{}, ErrNotReady
	}
	b.fresh = false
	return b.latest.Accel, nil
}

// Gyroscope returns the latest angular velocity.
func (b *Bridge) Gyroscope() (Vector, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.received {
		return Vector{}, ErrNotReady
	}
	return b.latest.Gyro, nil
}

// StepCount returns the highest pedometer count reported by the bridge.
func (b *Bridge) StepCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.steps
}

// Rejected returns the number of lines that were not valid samples.
func (b *Bridge) Rejected() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected
}

// Path returns the serial device the bridge was found on.
func (b *Bridge) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Mux returns the underlying serial mux, or nil before Init succeeds.
func (b *Bridge) Mux() serialmux.SerialMuxInterface {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mux == nil {
		return nil
	}
	return b.mux
}

// Close stops streaming and closes the serial port.
func (b *Bridge) Close() error {
	b.mu.Lock()
	mux, cancel, done := b.mux, b.cancel, b.done
	b.mux = nil
	b.mu.Unlock()

	if mux == nil {
		return nil
	}
	cancel()
	err := mux.Close()
	<-done
	return err
}
