package upload

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.report/internal/connectivity"
	"github.com/banshee-data/motion.report/internal/httputil"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

const payload = "2026-10-14 09:00:00,Device_Watchc01,RESTING,80,10,1.00,0\n"

func newUploader(t *testing.T, client httputil.HTTPClient, link connectivity.Link, clock timeutil.Clock, opts Options) *HTTPUploader {
	t.Helper()
	if opts.Endpoint == "" {
		opts.Endpoint = "https://collector.example/exec"
	}
	u, err := NewHTTPUploader(client, link, clock, opts)
	require.NoError(t, err)
	return u
}

func TestHTTPUploader_Success(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "Saved. Match: false")
	u := newUploader(t, mock, connectivity.Static(true), nil, Options{})

	code, err := u.Send(context.Background(), []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	req, body := mock.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://collector.example/exec", req.URL.String())
	assert.Equal(t, "text/csv", req.Header.Get("Content-Type"))
	assert.Contains(t, req.Header.Get("User-Agent"), "motion.report/")
	_, err = uuid.Parse(req.Header.Get("X-Request-ID"))
	assert.NoError(t, err, "X-Request-ID should be a uuid")
	assert.Equal(t, payload, body)
}

func TestHTTPUploader_OfflineSkipsRequest(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	u := newUploader(t, mock, connectivity.Static(false), nil, Options{Retries: 3})

	code, err := u.Send(context.Background(), []byte(payload))
	assert.ErrorIs(t, err, ErrOffline)
	assert.Zero(t, code)
	assert.Zero(t, mock.RequestCount())
}

func TestHTTPUploader_StatusError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusBadRequest, "  bad rows \n")
	u := newUploader(t, mock, connectivity.Static(true), nil, Options{Retries: 2})

	code, err := u.Send(context.Background(), []byte(payload))
	assert.Equal(t, http.StatusBadRequest, code)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "bad rows", se.Body)
	assert.Equal(t, 1, mock.RequestCount(), "4xx is not retried")
}

func TestHTTPUploader_Redirect(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusFound, "")
	mock.AddResponse(http.StatusFound, "")

	strict := newUploader(t, mock, nil, nil, Options{})
	code, err := strict.Send(context.Background(), []byte(payload))
	assert.Equal(t, http.StatusFound, code)
	assert.Error(t, err)

	accepting := newUploader(t, mock, nil, nil, Options{AcceptRedirect: true})
	code, err = accepting.Send(context.Background(), []byte(payload))
	assert.Equal(t, http.StatusFound, code)
	assert.NoError(t, err)
}

func TestHTTPUploader_TransportErrorNoRetryByDefault(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(httputil.ErrMockTransport)
	u := newUploader(t, mock, nil, nil, Options{})

	_, err := u.Send(context.Background(), []byte(payload))
	assert.ErrorIs(t, err, httputil.ErrMockTransport)
	assert.Equal(t, 1, mock.RequestCount())
}

// sendAsync runs Send on its own goroutine and advances clock whenever the
// uploader is parked on a backoff wait, recording each wait.
func sendAsync(t *testing.T, u *HTTPUploader, clock *timeutil.MockClock, step time.Duration, steps int) (int, error) {
	t.Helper()
	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := u.Send(context.Background(), []byte(payload))
		done <- result{code, err}
	}()

	for i := 0; i < steps; i++ {
		require.Eventually(t, func() bool { return clock.Waiters() > 0 }, time.Second, time.Millisecond)
		clock.Advance(step)
	}
	select {
	case r := <-done:
		return r.code, r.err
	case <-time.After(time.Second):
		t.Fatal("Send did not return")
		return 0, nil
	}
}

func TestHTTPUploader_RetriesWithBackoff(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusServiceUnavailable, "busy")
	mock.AddErrorResponse(httputil.ErrMockTransport)
	mock.AddResponse(http.StatusOK, "Saved")

	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	u := newUploader(t, mock, nil, clock, Options{Retries: 3, Backoff: 500 * time.Millisecond})

	// first backoff is 500ms, the second 1s; advancing 1s covers both
	code, err := sendAsync(t, u, clock, time.Second, 2)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, mock.RequestCount())
	assert.Equal(t, 2*time.Second, clock.Since(start))

	// each attempt carries its own request id
	r0, _ := mock.GetRequest(0)
	r2, _ := mock.GetRequest(2)
	assert.NotEqual(t, r0.Header.Get("X-Request-ID"), r2.Header.Get("X-Request-ID"))
}

func TestHTTPUploader_RetriesExhausted(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	for i := 0; i < 3; i++ {
		mock.AddResponse(http.StatusBadGateway, "")
	}
	clock := timeutil.NewMockClock(time.Unix(1_800_000_000, 0))
	u := newUploader(t, mock, nil, clock, Options{Retries: 2})

	code, err := sendAsync(t, u, clock, DefaultMaxBackoff, 2)
	assert.Equal(t, http.StatusBadGateway, code)
	var se *StatusError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, 3, mock.RequestCount())
}

func TestHTTPUploader_LinkDropsBetweenAttempts(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(httputil.ErrMockTransport)

	var checks atomic.Int32
	link := connectivity.LinkFunc(func(context.Context) bool { return checks.Add(1) == 1 })
	clock := timeutil.NewMockClock(time.Unix(1_800_000_000, 0))
	u := newUploader(t, mock, link, clock, Options{Retries: 5})

	_, err := sendAsync(t, u, clock, DefaultBackoff, 1)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestHTTPUploader_Backoff(t *testing.T) {
	u := newUploader(t, nil, nil, nil, Options{Backoff: 500 * time.Millisecond, MaxBackoff: 3 * time.Second})
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, u.backoff(i), "attempt %d", i)
	}
}

func TestHTTPUploader_CancelledDuringBackoff(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(httputil.ErrMockTransport)
	clock := timeutil.NewMockClock(time.Unix(1_800_000_000, 0))
	u := newUploader(t, mock, nil, clock, Options{Retries: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := u.Send(ctx, []byte(payload))
		done <- err
	}()
	require.Eventually(t, func() bool { return clock.Waiters() > 0 }, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestNewHTTPUploader_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "ftp://example.com", "://bad"} {
		_, err := NewHTTPUploader(nil, nil, nil, Options{Endpoint: endpoint})
		assert.Error(t, err, "endpoint %q", endpoint)
	}
}

func TestHTTPUploader_AgainstServer(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("followed redirect with %s", r.Method)
		}
		http.Redirect(w, r, "/output", http.StatusFound)
	}))
	defer server.Close()

	u := newUploader(t, httputil.NewStrictClient(0), nil, nil, Options{Endpoint: server.URL + "/exec"})
	code, err := u.Send(context.Background(), []byte(payload))
	assert.Equal(t, http.StatusFound, code)
	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, int32(1), hits.Load())
}
