// Package pipeline runs the node's sampling loop: it polls the motion sensor,
// closes a summary window on every window tick and hands full batches to the
// upload sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/telemetry"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// Default cadence of the loop.
const (
	DefaultPollInterval = 15 * time.Millisecond
	DefaultWindow       = time.Second
)

// Battery reports the charge level as a percentage in [0, 100].
type Battery interface {
	Percent() int
}

// Stamper renders the timestamp carried by each window summary.
type Stamper interface {
	Stamp() string
}

// Latch keeps the node powered. Reassert is called on every poll.
type Latch interface {
	Reassert() error
}

// Config contains the collaborators and cadence of a Pipeline.
type Config struct {
	DeviceID string
	// Sensor is polled on every tick; nil selects imu.Disabled.
	Sensor imu.Sensor
	// Aggregator collects the window peak; nil builds one with the default thresholds.
	Aggregator *telemetry.Aggregator
	// Batch buffers encoded summaries; nil selects a batch of DefaultCapacity.
	Batch *telemetry.Batch
	// Sink receives full batches.
	Sink    telemetry.Sink
	Battery Battery
	Stamper Stamper
	// Latch is optional.
	Latch Latch
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock

	PollInterval time.Duration
	Window       time.Duration
}

// Status is a point-in-time view of the pipeline for the debug endpoints.
type Status struct {
	SessionID     string    `json:"session_id"`
	DeviceID      string    `json:"device_id"`
	StartedAt     time.Time `json:"started_at"`
	Windows       uint64    `json:"windows"`
	Buffered      int       `json:"buffered"`
	Capacity      int       `json:"capacity"`
	Flushes       uint64    `json:"flushes"`
	FlushFailures uint64    `json:"flush_failures"`
	LastFlushCode int       `json:"last_flush_code"`
	QueuedSink    bool      `json:"queued_sink"`
	LastError     string    `json:"last_error,omitempty"`
	LastLine      string    `json:"last_line,omitempty"`
}

// Pipeline owns the sampling state. Poll and Run must be called from a single
// goroutine; Status may be called from any.
type Pipeline struct {
	deviceID string
	sensor   imu.Sensor
	agg      *telemetry.Aggregator
	batch    *telemetry.Batch
	sink     telemetry.Sink
	battery  Battery
	stamper  Stamper
	latch    Latch
	clock    timeutil.Clock
	poll     time.Duration
	window   time.Duration
	queued   bool

	lastSummary time.Time
	steps       uint32
	flushReq    chan struct{}

	mu     sync.Mutex
	status Status
}

// New returns a Pipeline whose first window starts now.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Sink == nil {
		return nil, errors.New("pipeline: sink is required")
	}
	if cfg.Battery == nil {
		return nil, errors.New("pipeline: battery monitor is required")
	}
	if cfg.Stamper == nil {
		return nil, errors.New("pipeline: stamper is required")
	}
	if err := telemetry.ValidateDeviceID(cfg.DeviceID); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		deviceID: cfg.DeviceID,
		sensor:   cfg.Sensor,
		agg:      cfg.Aggregator,
		batch:    cfg.Batch,
		sink:     cfg.Sink,
		battery:  cfg.Battery,
		stamper:  cfg.Stamper,
		latch:    cfg.Latch,
		clock:    cfg.Clock,
		poll:     cfg.PollInterval,
		window:   cfg.Window,
		flushReq: make(chan struct{}, 1),
	}
	if p.sensor == nil {
		p.sensor = imu.Disabled{}
	}
	if p.agg == nil {
		p.agg = telemetry.NewAggregator(telemetry.DefaultThresholds())
	}
	if p.batch == nil {
		p.batch = telemetry.NewBatch(telemetry.DefaultCapacity)
	}
	if p.clock == nil {
		p.clock = timeutil.RealClock{}
	}
	if p.poll <= 0 {
		p.poll = DefaultPollInterval
	}
	if p.window <= 0 {
		p.window = DefaultWindow
	}
	if q, ok := p.sink.(telemetry.QueuedSink); ok {
		p.queued = q.Queued()
	}
	if p.poll > p.window {
		return nil, fmt.Errorf("pipeline: poll interval %s exceeds window %s", p.poll, p.window)
	}

	p.lastSummary = p.clock.Now()
	p.status = Status{
		SessionID:  uuid.NewString(),
		DeviceID:   p.deviceID,
		StartedAt:  p.lastSummary,
		Capacity:   p.batch.Cap(),
		QueuedSink: p.queued,
	}
	return p, nil
}

// Run polls on every tick of the poll interval until ctx is cancelled.
// Lines still buffered when it returns are discarded.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.poll)
	defer ticker.Stop()

	monitoring.Logf("pipeline: session %s started for %s (poll %s, window %s, batch %d)",
		p.Status().SessionID, p.deviceID, p.poll, p.window, p.batch.Cap())

	for {
		select {
		case <-ctx.Done():
			if n := p.batch.Len(); n > 0 {
				monitoring.Logf("pipeline: stopping with %d unsent lines", n)
			}
			return ctx.Err()
		case <-ticker.C():
			p.Poll(ctx)
		case <-p.flushReq:
			if p.batch.Len() > 0 {
				p.flush(ctx)
			}
		}
	}
}

// Poll runs one iteration of the loop: reassert the power latch, ingest a
// sample if the sensor has one, and close the window once it has elapsed.
// The window timer restarts after any flush, so upload time lengthens the
// window that triggered it.
func (p *Pipeline) Poll(ctx context.Context) {
	if p.latch != nil {
		// the latch logs its own failures
		_ = p.latch.Reassert()
	}

	if s := imu.Poll(p.sensor); s.Ready {
		p.agg.Observe(s)
		p.refreshSteps()
	}

	if p.clock.Since(p.lastSummary) >= p.window {
		p.closeWindow(ctx)
		p.lastSummary = p.clock.Now()
	}
}

// refreshSteps reads the pedometer. The counter never moves backwards.
func (p *Pipeline) refreshSteps() {
	if n := p.sensor.StepCount(); n > p.steps {
		p.steps = n
	}
}

func (p *Pipeline) closeWindow(ctx context.Context) {
	p.refreshSteps()
	w := p.agg.Summarize()
	summary := telemetry.WindowSummary{
		Timestamp: p.stamper.Stamp(),
		DeviceID:  p.deviceID,
		Status:    w.Status(p.agg.Thresholds()),
		Battery:   p.battery.Percent(),
		Steps:     p.steps,
		PeakG:     w.PeakG,
		Fall:      w.Fall,
	}
	p.batch.Append(summary)

	monitoring.Logf("[%d/%d] %s Status: %s | Bat: %d%%",
		p.batch.Len(), p.batch.Cap(), summary.Timestamp, summary.Status, summary.Battery)

	p.mu.Lock()
	p.status.Windows++
	p.status.LastLine = summary.String()
	p.status.Buffered = p.batch.Len()
	p.mu.Unlock()

	if p.batch.IsFull() {
		p.flush(ctx)
	}
}

func (p *Pipeline) flush(ctx context.Context) {
	n := p.batch.Len()
	monitoring.Logf("pipeline: uploading batch of %d lines", n)
	code, err := p.batch.Flush(ctx, p.sink)
	switch {
	case err != nil:
		monitoring.Logf("pipeline: batch upload fail: %v", err)
	case p.queued:
		monitoring.Logf("pipeline: batch of %d lines queued", n)
	default:
		monitoring.Logf("pipeline: batch upload success: %d", code)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Flushes++
	p.status.LastFlushCode = code
	p.status.Buffered = p.batch.Len()
	if err != nil {
		p.status.FlushFailures++
		p.status.LastError = err.Error()
	} else {
		p.status.LastError = ""
	}
}

// RequestFlush asks Run to upload the buffered lines before the batch is
// full. It reports false when a request is already pending.
func (p *Pipeline) RequestFlush() bool {
	select {
	case p.flushReq <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns a snapshot of the pipeline counters.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
