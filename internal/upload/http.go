// Package upload delivers batch payloads to the remote collector.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motion.report/internal/connectivity"
	"github.com/banshee-data/motion.report/internal/httputil"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/timeutil"
	"github.com/banshee-data/motion.report/internal/version"
)

// ContentType is the media type of a batch payload.
const ContentType = "text/csv"

// ErrOffline is returned when a send is skipped because the link is down.
var ErrOffline = errors.New("upload: network not connected")

// StatusError reports a response outside the accepted status range.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upload: collector returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("upload: collector returned HTTP %d: %s", e.Code, e.Body)
}

// Options configures an HTTPUploader.
type Options struct {
	// Endpoint is the collector URL batches are posted to.
	Endpoint string
	// Timeout bounds each attempt. Zero selects DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	Retries int
	// Backoff is the wait before the first retry; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// AcceptRedirect treats a 3xx answer to the POST as delivered. Hosted
	// script collectors store the rows and then redirect to their output.
	AcceptRedirect bool
}

// Defaults for Options.
const (
	DefaultTimeout    = 15 * time.Second
	DefaultBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff = 8 * time.Second
)

// bodySnippet bounds how much of an error response is kept.
const bodySnippet = 256

// HTTPUploader posts batches to the collector over HTTP.
type HTTPUploader struct {
	client httputil.HTTPClient
	link   connectivity.Link
	clock  timeutil.Clock
	opts   Options
	logf   func(format string, v ...interface{})
}

// NewHTTPUploader returns an uploader posting to opts.Endpoint with client.
// Sends are skipped while link reports no connection.
func NewHTTPUploader(client httputil.HTTPClient, link connectivity.Link, clock timeutil.Clock, opts Options) (*HTTPUploader, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", opts.Endpoint)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = opts.Backoff
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if client == nil {
		client = httputil.NewStrictClient(0)
	}
	if link == nil {
		link = connectivity.Static(true)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &HTTPUploader{
		client: client,
		link:   link,
		clock:  clock,
		opts:   opts,
		logf:   monitoring.Component("upload"),
	}, nil
}

// Send posts payload and returns the HTTP status of the final attempt.
// Transport errors and 5xx responses are retried up to Options.Retries
// times; the link is checked before every attempt.
func (u *HTTPUploader) Send(ctx context.Context, payload []byte) (int, error) {
	for attempt := 0; ; attempt++ {
		if !u.link.Connected(ctx) {
			return 0, ErrOffline
		}

		code, err := u.post(ctx, payload)
		if err == nil {
			u.logf("batch of %d bytes delivered: HTTP %d", len(payload), code)
			return code, nil
		}
		if attempt >= u.opts.Retries || !retryable(ctx, err) {
			return code, err
		}

		wait := u.backoff(attempt)
		u.logf("attempt %d failed: %v; retrying in %s", attempt+1, err, wait)
		select {
		case <-ctx.Done():
			return code, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-u.clock.After(wait):
		}
	}
}

func (u *HTTPUploader) backoff(attempt int) time.Duration {
	d := u.opts.Backoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= u.opts.MaxBackoff {
			return u.opts.MaxBackoff
		}
	}
	return d
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

func (u *HTTPUploader) post(ctx context.Context, payload []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, u.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to post batch: %w", err)
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	if code >= 200 && code < 300 {
		io.Copy(io.Discard, resp.Body)
		return code, nil
	}
	if u.opts.AcceptRedirect && code >= 300 && code < 400 {
		return code, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippet))
	return code, &StatusError{Code: code, Body: string(bytes.TrimSpace(body))}
}
