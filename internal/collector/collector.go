// Package collector implements a development receiver for node batches. It
// answers the same requests as the hosted collector: CSV batch uploads,
// context events registered by the companion app, and the battery query used
// by the dashboard.
package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/motion.report/internal/httputil"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/telemetry"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

const (
	// MatchWindow is how close a row's timestamp must be to a registered
	// event for the row to carry the event context.
	MatchWindow = 3500 * time.Millisecond
	// StaleAfter expires an unmatched event once the newest row of a batch
	// is this far past it.
	StaleAfter = 10 * time.Second
	// UnknownDevice names rows whose device column is empty.
	UnknownDevice = "Unknown"

	maxBodySize = 1 << 20
	minLineLen  = 5
)

var logf = monitoring.Component("collector")

// Event is a context annotation registered for a device.
type Event struct {
	User      string    `json:"user"`
	Device    string    `json:"device"`
	Event     string    `json:"event"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// Row is a stored batch line with the event context it matched, if any.
type Row struct {
	telemetry.WindowSummary
	Raw        string
	Event      *Event
	ServerTime time.Time
}

// BatteryReport is the getBattery response body.
type BatteryReport struct {
	Timestamp string           `json:"timestamp"`
	Device    string           `json:"device,omitempty"`
	Status    telemetry.Status `json:"status"`
	Battery   int              `json:"battery"`
}

// Options configures a Handler.
type Options struct {
	// Timezone the node timestamps are written in. Empty selects
	// timeutil.DefaultTimezone.
	Timezone string
	// Redirect answers batch uploads with 302 Found, as the hosted collector
	// does.
	Redirect bool
	// Clock stamps server receive times; nil selects timeutil.RealClock.
	Clock timeutil.Clock
}

// Handler is an http.Handler that stores the latest row per device in memory.
// A batch is filed under the device named by its first line.
type Handler struct {
	loc      *time.Location
	redirect bool
	clock    timeutil.Clock

	mu       sync.Mutex
	latest   map[string]Row
	events   map[string]Event
	rows     uint64
	rejected uint64
	matched  uint64
}

// NewHandler returns an empty collector.
func NewHandler(opts Options) (*Handler, error) {
	tz := opts.Timezone
	if tz == "" {
		tz = timeutil.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Handler{
		loc:      loc,
		redirect: opts.Redirect,
		clock:    clock,
		latest:   make(map[string]Row),
		events:   make(map[string]Event),
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.handleGet(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("action") != "getBattery" {
		httputil.WriteText(w, http.StatusOK, "Collector Running")
		return
	}

	report := h.Battery(q.Get("device"))
	callback := q.Get("callback")
	if callback == "" {
		httputil.WriteJSON(w, http.StatusOK, report)
		return
	}
	httputil.WriteJSONP(w, callback, report)
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}
	if len(body) > maxBodySize {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if len(body) == 0 {
		httputil.WriteText(w, http.StatusOK, "Manual Run: OK")
		return
	}

	var msg string
	if ev, ok := h.parseEvent(body); ok {
		h.RegisterEvent(ev)
		msg = "Event Registered for " + ev.Device
	} else {
		msg = h.Ingest(string(body))
	}

	if h.redirect {
		w.Header().Set("X-Collector-Result", msg)
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
		return
	}
	httputil.WriteText(w, http.StatusOK, msg)
}

// eventRequest is the companion app payload. Timestamp is free-form.
type eventRequest struct {
	User      string `json:"user"`
	Device    string `json:"device"`
	Event     string `json:"event"`
	Context   string `json:"context"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) parseEvent(body []byte) (Event, bool) {
	var req eventRequest
	if err := json.Unmarshal(body, &req); err != nil || req.User == "" || req.Device == "" {
		return Event{}, false
	}
	ev := Event{User: req.User, Device: req.Device, Event: req.Event, Context: req.Context}
	if ts, err := h.parseTime(req.Timestamp); err == nil {
		ev.Timestamp = ts
	}
	return ev, true
}

// parseTime accepts RFC 3339 or a local "YYYY-MM-DD HH:MM:SS" timestamp.
func (h *Handler) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(timeutil.StampLayout, strings.Replace(s, "T", " ", 1), h.loc)
}

// RegisterEvent replaces the pending event for ev.Device.
func (h *Handler) RegisterEvent(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[ev.Device] = ev
	logf("event %q registered for %s by %s", ev.Event, ev.Device, ev.User)
}

// PendingEvent returns the event waiting to be matched for device.
func (h *Handler) PendingEvent(device string) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev, ok := h.events[device]
	return ev, ok
}

// Ingest stores a CSV batch and returns the reply text. Rows within
// MatchWindow of the device's pending event carry its context; the event is
// cleared once matched or once it is StaleAfter older than the newest row.
func (h *Handler) Ingest(body string) string {
	lines := strings.Split(body, "\n")
	first := strings.TrimSpace(lines[0])
	if len(first) < minLineLen {
		return "Empty Data"
	}
	device := UnknownDevice
	if cols := strings.Split(first, ","); len(cols) > 1 && cols[1] != "" {
		device = cols[1]
	}

	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	ev, pending := h.events[device]
	if pending && ev.Timestamp.IsZero() {
		pending = false
	}

	var (
		matched bool
		newest  time.Time
		stored  int
	)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < minLineLen {
			continue
		}
		summary, err := telemetry.DecodeLine(line)
		if err != nil {
			h.rejected++
			logf("rejecting line from %s: %v", device, err)
			continue
		}
		row := Row{WindowSummary: summary, Raw: line, ServerTime: now}
		if ts, err := h.parseTime(summary.Timestamp); err == nil {
			if ts.After(newest) {
				newest = ts
			}
			if pending && absDuration(ts.Sub(ev.Timestamp)) < MatchWindow {
				e := ev
				row.Event = &e
				matched = true
				h.matched++
			}
		}
		h.latest[device] = row
		h.rows++
		stored++
	}

	if pending && (matched || (!newest.IsZero() && ev.Timestamp.Before(newest.Add(-StaleAfter)))) {
		delete(h.events, device)
	}
	logf("saved %d rows for %s (match: %t)", stored, device, matched)
	return fmt.Sprintf("Saved. Match: %t", matched)
}

// Latest returns the newest row stored for device.
func (h *Handler) Latest(device string) (Row, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	row, ok := h.latest[device]
	return row, ok
}

// Battery reports the newest row for device in the getBattery format.
func (h *Handler) Battery(device string) BatteryReport {
	row, ok := h.Latest(device)
	if !ok {
		return BatteryReport{Status: "No Data"}
	}
	return BatteryReport{
		Timestamp: row.Timestamp,
		Device:    row.DeviceID,
		Status:    row.Status,
		Battery:   row.Battery,
	}
}

// Stats holds the collector counters.
type Stats struct {
	Rows     uint64 `json:"rows"`
	Rejected uint64 `json:"rejected"`
	Matched  uint64 `json:"matched"`
	Devices  int    `json:"devices"`
	Pending  int    `json:"pending_events"`
}

// Stats returns the collector counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Rows:     h.rows,
		Rejected: h.rejected,
		Matched:  h.matched,
		Devices:  len(h.latest),
		Pending:  len(h.events),
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// AttachAdminRoutes exposes the collector counters on the tsweb debugger.
func (h *Handler) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Collector rows", func() any { return h.Stats().Rows })
	debug.KVFunc("Collector devices", func() any { return h.Stats().Devices })
	debug.HandleFunc("collector-stats", "collector counters as JSON", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, h.Stats())
	})
}
