package upload

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/telemetry"
)

// ErrQueueFull is returned when a batch arrives while the queue is full.
var ErrQueueFull = errors.New("upload: queue full, batch dropped")

// DefaultQueueDepth is the number of batches waiting for the worker.
const DefaultQueueDepth = 4

// QueueStats counts the outcome of queued batches.
type QueueStats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
	LastError string `json:"last_error,omitempty"`
}

// Queue decouples the sampling loop from the network. Send copies the
// payload into a bounded queue and returns at once; Run delivers queued
// batches to the wrapped sink one at a time.
type Queue struct {
	sink telemetry.Sink
	ch   chan []byte
	logf func(format string, v ...interface{})

	mu    sync.Mutex
	stats QueueStats
}

// NewQueue wraps sink with a queue of the given depth. A non-positive depth
// selects DefaultQueueDepth.
func NewQueue(sink telemetry.Sink, depth int) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Queue{
		sink: sink,
		ch:   make(chan []byte, depth),
		logf: monitoring.Component("upload"),
	}
}

// Queued reports that Send only enqueues.
func (q *Queue) Queued() bool { return true }

// Send enqueues payload and returns 202 Accepted. It never blocks; when the
// queue is full the batch is dropped and ErrQueueFull returned.
func (q *Queue) Send(_ context.Context, payload []byte) (int, error) {
	p := append([]byte(nil), payload...)
	select {
	case q.ch <- p:
		return http.StatusAccepted, nil
	default:
	}

	q.mu.Lock()
	q.stats.Dropped++
	q.mu.Unlock()
	q.logf("queue full, dropping batch of %d bytes", len(payload))
	return 0, ErrQueueFull
}

// Run delivers queued batches until ctx is cancelled. Batches still queued
// at cancellation are counted as dropped.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.discard()
			return ctx.Err()
		case p := <-q.ch:
			q.deliver(ctx, p)
		}
	}
}

func (q *Queue) deliver(ctx context.Context, payload []byte) {
	_, err := q.sink.Send(ctx, payload)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		q.stats.Failed++
		q.stats.LastError = err.Error()
		q.logf("batch upload failed: %v", err)
		return
	}
	q.stats.Delivered++
}

func (q *Queue) discard() {
	for {
		select {
		case <-q.ch:
			q.mu.Lock()
			q.stats.Dropped++
			q.mu.Unlock()
		default:
			return
		}
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.ch)
	return s
}
