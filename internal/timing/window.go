package timing

import (
	"fmt"
	"time"
)

// Window is the half-open interval [Start, End) a polling cycle is
// responsible for.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether Start <= t < End.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// NextWindow returns the interval that starts at the first boundary after
// now. Boundaries are multiples of interval minutes within the hour of now's
// location, so with a 15 minute interval any time in 10:00:00-10:14:59
// yields [10:15, 10:30). Sub-minute parts of interval are ignored.
func NextWindow(now time.Time, interval time.Duration) Window {
	step := int(interval / time.Minute)
	if step <= 0 {
		step = 1
	}
	base := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, now.Location())
	start := base.Add(time.Duration(step-base.Minute()%step) * time.Minute)
	return Window{
		Start: start,
		End:   start.Add(time.Duration(step) * time.Minute),
	}
}
