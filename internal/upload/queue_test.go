package upload

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.report/internal/telemetry"
)

// gatedSink blocks each Send until release is signalled.
type gatedSink struct {
	mu       sync.Mutex
	release  chan struct{}
	payloads []string
	err      error
}

func (s *gatedSink) Send(ctx context.Context, payload []byte) (int, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, string(payload))
	return 200, s.err
}

func (s *gatedSink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

func TestQueue_DeliversInOrder(t *testing.T) {
	sink := &gatedSink{}
	q := NewQueue(sink, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	for _, p := range []string{"a\n", "b\n", "c\n"} {
		code, err := q.Send(ctx, []byte(p))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, code)
		assert.Eventually(t, func() bool { return q.Stats().Pending == 0 }, time.Second, time.Millisecond)
	}
	assert.Eventually(t, func() bool { return q.Stats().Delivered == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a\n", "b\n", "c\n"}, sink.received())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestQueue_SendCopiesPayload(t *testing.T) {
	q := NewQueue(&gatedSink{}, 1)
	buf := []byte("line\n")
	_, err := q.Send(context.Background(), buf)
	require.NoError(t, err)

	queued := <-q.ch
	buf[0] = 'X'
	assert.Equal(t, "line\n", string(queued))
}

func TestQueue_FullDrops(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	q := NewQueue(sink, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	// first batch is taken by the worker and blocks in the sink
	_, err := q.Send(ctx, []byte("1\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Stats().Pending == 0 }, time.Second, time.Millisecond)

	// second waits in the queue, third overflows
	_, err = q.Send(ctx, []byte("2\n"))
	require.NoError(t, err)
	_, err = q.Send(ctx, []byte("3\n"))
	assert.ErrorIs(t, err, ErrQueueFull)

	s := q.Stats()
	assert.Equal(t, uint64(1), s.Dropped)
	assert.Equal(t, 1, s.Pending)

	close(sink.release)
	assert.Eventually(t, func() bool { return q.Stats().Delivered == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"1\n", "2\n"}, sink.received())
}

func TestQueue_CountsFailures(t *testing.T) {
	sink := &gatedSink{err: errors.New("HTTP 500")}
	q := NewQueue(sink, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	_, err := q.Send(ctx, []byte("x\n"))
	require.NoError(t, err, "enqueue succeeds even if delivery will fail")
	assert.Eventually(t, func() bool { return q.Stats().Failed == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "HTTP 500", q.Stats().LastError)
}

func TestQueue_CancelDropsPending(t *testing.T) {
	q := NewQueue(&gatedSink{}, 3)
	_, _ = q.Send(context.Background(), []byte("1\n"))
	_, _ = q.Send(context.Background(), []byte("2\n"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Run(ctx), context.Canceled)

	s := q.Stats()
	assert.Zero(t, s.Pending)
	assert.Equal(t, uint64(2), s.Dropped+s.Delivered+s.Failed)
}

func TestQueue_ImplementsSink(t *testing.T) {
	var _ telemetry.Sink = NewQueue(&gatedSink{}, 1)
	var _ telemetry.Sink = &HTTPUploader{}
	var _ telemetry.Sink = &MQTTSink{}
}
