package policy

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// TimeOfDayOf returns the minute-granularity time of day of t in loc.
func TimeOfDayOf(t time.Time, loc *time.Location) TimeOfDay {
	if loc != nil {
		t = t.In(loc)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// String formats the time of day as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Window is the inclusive [Start, End] operating window.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Contains reports whether tod falls inside the window, both ends included.
func (w Window) Contains(tod TimeOfDay) bool {
	return tod >= w.Start && tod <= w.End
}

// String formats the window as "HH:MM-HH:MM".
func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// WithinWindow reports whether now, read in the cooperative's timezone, falls
// inside the snapshot's allowed window. Comparison is at minute granularity,
// so 22:00:59 is still inside a window ending at 22:00.
func WithinWindow(now time.Time, snap *Snapshot) bool {
	return snap.AllowedWindow.Contains(TimeOfDayOf(now, snap.Location))
}
