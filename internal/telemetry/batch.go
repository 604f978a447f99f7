package telemetry

import (
	"bytes"
	"context"
)

// DefaultCapacity is the number of window summaries sent per batch.
const DefaultCapacity = 30

// Sink receives a batch payload. It returns the transport status code, if
// any, and a non-nil error when the batch was not delivered.
type Sink interface {
	Send(ctx context.Context, payload []byte) (int, error)
}

// QueuedSink is implemented by sinks that accept a batch for later delivery.
// A nil error from Send then means the batch was queued, not delivered.
type QueuedSink interface {
	Sink
	Queued() bool
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, payload []byte) (int, error)

// Send calls f(ctx, payload).
func (f SinkFunc) Send(ctx context.Context, payload []byte) (int, error) {
	return f(ctx, payload)
}

// Batch accumulates encoded window summaries in chronological order.
//
// By default every flush attempt clears the buffer whatever the sink
// reports. With RetainOnFailure set, a failed batch stays buffered and
// appends to a full buffer evict the oldest line, so the count never
// exceeds the capacity.
type Batch struct {
	capacity        int
	retainOnFailure bool
	lines           [][]byte
	scratch         []byte
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// RetainOnFailure keeps a batch buffered when its sink reports failure.
func RetainOnFailure(retain bool) BatchOption {
	return func(b *Batch) { b.retainOnFailure = retain }
}

// NewBatch returns an empty batch holding up to capacity lines. A
// non-positive capacity selects DefaultCapacity.
func NewBatch(capacity int, opts ...BatchOption) *Batch {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Batch{capacity: capacity, lines: make([][]byte, 0, capacity)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append encodes s and appends it to the buffer.
func (b *Batch) Append(s WindowSummary) {
	if len(b.lines) >= b.capacity {
		// only reachable when a failed batch was retained
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:len(b.lines)-1]
	}
	b.scratch = s.AppendCSV(b.scratch[:0])
	b.lines = append(b.lines, append([]byte(nil), b.scratch...))
}

// Len returns the number of buffered lines.
func (b *Batch) Len() int {
	return len(b.lines)
}

// Cap returns the batch capacity.
func (b *Batch) Cap() int {
	return b.capacity
}

// IsFull reports whether the buffer has reached capacity.
func (b *Batch) IsFull() bool {
	return len(b.lines) >= b.capacity
}

// Payload returns a copy of the buffered lines concatenated in order.
func (b *Batch) Payload() []byte {
	return bytes.Join(b.lines, nil)
}

// Flush hands the full buffer to sink as one payload and returns the sink's
// result. An empty buffer is not sent.
func (b *Batch) Flush(ctx context.Context, sink Sink) (int, error) {
	if len(b.lines) == 0 {
		return 0, nil
	}
	code, err := sink.Send(ctx, b.Payload())
	if err != nil && b.retainOnFailure {
		return code, err
	}
	b.lines = b.lines[:0]
	return code, err
}
