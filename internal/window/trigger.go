package window

import "time"

// Stamp selects how a window-close time is written to the sinks.
type Stamp int

const (
	// StampWallClock writes the display-zone wall clock as a UTC timestamp,
	// so 17:00:01 at UTC+07:00 is stored as 17:00:01Z.
	StampWallClock Stamp = iota
	// StampInstant writes the true instant; the zone is kept for display only.
	StampInstant
)

// ParseStamp maps a config value ("wall_clock", "instant") to a Stamp.
func ParseStamp(s string) (Stamp, bool) {
	switch s {
	case "", "wall_clock":
		return StampWallClock, true
	case "instant":
		return StampInstant, true
	}
	return 0, false
}

// Trigger tracks when the open window started and decides when it closes.
type Trigger struct {
	interval time.Duration
	loc      *time.Location
	stamp    Stamp
	last     time.Time
}

func NewTrigger(interval time.Duration, loc *time.Location, stamp Stamp, start time.Time) *Trigger {
	if loc == nil {
		loc = time.UTC
	}
	return &Trigger{interval: interval, loc: loc, stamp: stamp, last: start}
}

// Due reports whether at least one interval has elapsed since the last seal.
func (t *Trigger) Due(now time.Time) bool {
	return now.Sub(t.last) >= t.interval
}

// Seal closes the window at now and returns its timestamp, truncated to the
// second and stamped according to the trigger's Stamp.
func (t *Trigger) Seal(now time.Time) time.Time {
	t.last = now
	z := now.In(t.loc).Truncate(time.Second)
	if t.stamp == StampInstant {
		return z
	}
	return time.Date(z.Year(), z.Month(), z.Day(), z.Hour(), z.Minute(), z.Second(), 0, time.UTC)
}

func (t *Trigger) Last() time.Time { return t.last }
