package power

import (
	"fmt"
	"sync"

	"github.com/banshee-data/motion.report/internal/monitoring"
)

// GPIO is the power-enable output line.
type GPIO interface {
	// SetHigh drives the line high.
	SetHigh() error
	// Hold latches the current level so it survives low-power transitions.
	Hold(enabled bool) error
}

// NopGPIO is a line that accepts every request. It stands in for the latch
// on hosts without a power-enable pin.
type NopGPIO struct{}

func (NopGPIO) SetHigh() error  { return nil }
func (NopGPIO) Hold(bool) error { return nil }

// Latch keeps the node's own power supply enabled.
type Latch struct {
	pin GPIO

	mu       sync.Mutex
	failures uint64
	failing  bool
}

// NewLatch returns a latch driving pin.
func NewLatch(pin GPIO) *Latch {
	return &Latch{pin: pin}
}

// Engage asserts the enable line and holds it across sleep. The hold is
// released first because a held line ignores level changes.
func (l *Latch) Engage() error {
	if err := l.pin.Hold(false); err != nil {
		return fmt.Errorf("release power hold: %w", err)
	}
	if err := l.pin.SetHigh(); err != nil {
		return fmt.Errorf("assert power enable: %w", err)
	}
	if err := l.pin.Hold(true); err != nil {
		return fmt.Errorf("hold power enable: %w", err)
	}
	return nil
}

// Reassert drives the enable line high again. It is idempotent and called on
// every poll; a failure is logged once until the line recovers.
func (l *Latch) Reassert() error {
	err := l.pin.SetHigh()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.failures++
		if !l.failing {
			monitoring.Logf("power: failed to reassert enable line: %v", err)
		}
		l.failing = true
		return err
	}
	l.failing = false
	return nil
}

// Failures returns the number of failed reasserts.
func (l *Latch) Failures() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}
