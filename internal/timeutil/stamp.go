package timeutil

import (
	"fmt"
	"time"

	"github.com/banshee-data/motion.report/internal/units"
)

// NotSynced is the timestamp reported while the wall clock has not been
// synchronized yet.
const NotSynced = "Time_Syncing"

// StampLayout is the local timestamp format carried in window summaries.
const StampLayout = "2006-01-02 15:04:05"

// DefaultTimezone matches the EST5EDT,M3.2.0,M11.1.0 rule the node was
// deployed with.
const DefaultTimezone = "America/New_York"

// SyncCheck reports whether t comes from a synchronized wall clock.
type SyncCheck func(t time.Time) bool

// YearSynced treats any time after 2016 as synchronized. An unsynchronized
// node boots with its clock at the epoch.
func YearSynced(t time.Time) bool {
	return t.Year() > 2016
}

// Stamper formats local timestamps for window summaries.
type Stamper struct {
	clock  Clock
	loc    *time.Location
	synced SyncCheck
}

// NewStamper returns a Stamper formatting clock readings in the named zone.
// A nil sync check defaults to YearSynced.
func NewStamper(clock Clock, timezone string, synced SyncCheck) (*Stamper, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	if !units.IsTimezoneValid(timezone) {
		return nil, fmt.Errorf("invalid timezone %q", timezone)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", timezone, err)
	}
	if synced == nil {
		synced = YearSynced
	}
	return &Stamper{clock: clock, loc: loc, synced: synced}, nil
}

// Stamp returns the current local time, or NotSynced when the clock cannot be
// trusted yet.
func (s *Stamper) Stamp() string {
	now := s.clock.Now()
	if !s.synced(now) {
		return NotSynced
	}
	return now.In(s.loc).Format(StampLayout)
}

// Location returns the zone timestamps are rendered in.
func (s *Stamper) Location() *time.Location {
	return s.loc
}
