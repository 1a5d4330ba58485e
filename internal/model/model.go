package model

import "time"

// Event is a single concrete calendar entry as returned by a calendar
// gateway for one polling window. Recurring events have already been
// expanded, so every Event has absolute start and end instants.
type Event struct {
	SourceID string // calendar or feed identifier
	UID      string // iCalendar UID

	Summary string

	// Description carries the option block (see internal/options).
	Description string

	// Switch names the target in the switch registry. Calendars declare it
	// in the event's LOCATION field.
	Switch string

	Start time.Time
	End   time.Time
}

// Overlaps reports whether the event touches [start, end]. Both bounds are
// inclusive so that an event ending exactly at start is still delivered.
func (e Event) Overlaps(start, end time.Time) bool {
	if e.End.Before(start) {
		return false
	}
	if end.Before(e.Start) {
		return false
	}
	return true
}
