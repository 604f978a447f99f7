// Package connectivity answers whether the node currently has a usable
// network link and waits for the link at startup.
package connectivity

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// PollInterval is how often AutoConnect re-checks the link.
const PollInterval = 500 * time.Millisecond

// DefaultProbeTimeout bounds a single reachability probe.
const DefaultProbeTimeout = 2 * time.Second

var logf = monitoring.Component("net")

// Link reports whether the network is currently connected.
type Link interface {
	Connected(ctx context.Context) bool
}

// LinkFunc adapts a function to the Link interface.
type LinkFunc func(ctx context.Context) bool

// Connected calls f(ctx).
func (f LinkFunc) Connected(ctx context.Context) bool { return f(ctx) }

// Static is a link whose state never changes.
type Static bool

// Connected returns the fixed state.
func (s Static) Connected(context.Context) bool { return bool(s) }

// Probe treats the link as connected when a TCP connection to Addr can be
// opened within Timeout.
type Probe struct {
	Addr    string
	Timeout time.Duration

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewProbe returns a probe for a host:port address.
func NewProbe(addr string, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	var d net.Dialer
	return &Probe{Addr: addr, Timeout: timeout, dial: d.DialContext}
}

// ProbeForURL returns a probe for the host serving rawURL, using the scheme's
// default port when none is given.
func ProbeForURL(rawURL string, timeout time.Duration) (*Probe, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("endpoint %q has no host", rawURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http", "ws":
			port = "80"
		case "tcp", "mqtt":
			port = "1883"
		default:
			port = "443"
		}
	}
	return NewProbe(net.JoinHostPort(u.Hostname(), port), timeout), nil
}

// Connected dials Addr and closes the connection straight away.
func (p *Probe) Connected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// AutoConnect waits until link reports a connection, re-checking every
// PollInterval, and gives up after timeout. It reports whether the link came
// up. A non-positive timeout checks once.
func AutoConnect(ctx context.Context, link Link, timeout time.Duration, clock timeutil.Clock) bool {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()
	for {
		if link.Connected(ctx) {
			logf("network connected after %s", clock.Since(start))
			return true
		}
		if clock.Since(start) >= timeout {
			logf("failed to connect within %s, continuing offline", timeout)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-clock.After(PollInterval):
		}
	}
}
