package calendar

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "caltimer/internal/log"
	"caltimer/internal/model"
)

// maxInstances caps the instances one recurring event may produce for a
// single window.
const maxInstances = 1000

// vevent is a VEVENT as read from either gateway, before recurrence
// expansion.
type vevent struct {
	SourceID string
	UID      string

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time

	// RecurrenceID is set on an override of one instance of a recurring
	// event.
	RecurrenceID *time.Time
}

// expand turns parsed VEVENTs into the concrete events overlapping
// [start, end], sorted by start. Instances replaced by a RECURRENCE-ID
// override take the override's times and texts.
func expand(events []vevent, start, end time.Time, loc *time.Location) ([]model.Event, error) {
	if end.Before(start) {
		return nil, errors.New("expand: range end before start")
	}
	if loc == nil {
		loc = time.Local
	}

	masters := make(map[string][]vevent)
	overrides := make(map[string][]vevent)
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		masters[ev.UID] = append(masters[ev.UID], ev)
	}

	var out []model.Event
	for uid, list := range masters {
		for _, ev := range list {
			if ev.RRule == "" {
				if ev.overlaps(start, end) {
					out = append(out, ev.instance(loc))
				}
				continue
			}
			instances, truncated := expandRecurring(ev, overrides[uid], start, end, loc)
			if truncated {
				appLog.Warn("recurrence expansion truncated", "uid", uid, "cap", maxInstances)
			}
			out = append(out, instances...)
		}
	}

	// Overrides can move an instance into the window from outside it, so
	// they are matched against the window on their own times.
	for uid, list := range overrides {
		for _, ov := range list {
			if len(masters[uid]) == 0 && ov.overlaps(start, end) {
				out = append(out, ov.instance(loc))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].UID < out[j].UID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func expandRecurring(ev vevent, overrides []vevent, start, end time.Time, loc *time.Location) ([]model.Event, bool) {
	rule, err := rrule.StrToRRule(strings.TrimPrefix(ev.RRule, "RRULE:"))
	if err != nil {
		appLog.Warn("skipping event with unparsable RRULE", "uid", ev.UID, "rrule", ev.RRule, "error", err)
		return nil, false
	}
	rule.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// An instance that started before the window can still end inside it.
	dur := ev.End.Sub(ev.Start)
	from := start.Add(-dur).In(ev.Start.Location())
	to := end.In(ev.Start.Location())
	starts := set.Between(from, to, true)

	truncated := false
	if len(starts) > maxInstances {
		starts = starts[:maxInstances]
		truncated = true
	}

	var out []model.Event
	for _, s := range starts {
		inst := ev
		inst.Start = s
		inst.End = s.Add(dur)
		inst.RRule = ""
		if ov, ok := findOverride(overrides, s); ok {
			inst = ov
		}
		if inst.overlaps(start, end) {
			out = append(out, inst.instance(loc))
		}
	}

	// Overrides whose original slot fell outside the expanded range but
	// whose new time lands in the window.
	for _, ov := range overrides {
		if !ov.RecurrenceID.Before(from) && !ov.RecurrenceID.After(to) {
			continue
		}
		if ov.overlaps(start, end) {
			out = append(out, ov.instance(loc))
		}
	}
	return out, truncated
}

func findOverride(overrides []vevent, start time.Time) (vevent, bool) {
	for _, ov := range overrides {
		if ov.RecurrenceID.Equal(start) {
			return ov, true
		}
	}
	return vevent{}, false
}

func (ev vevent) overlaps(start, end time.Time) bool {
	return model.Event{Start: ev.Start, End: ev.End}.Overlaps(start, end)
}

func (ev vevent) instance(loc *time.Location) model.Event {
	return model.Event{
		SourceID:    ev.SourceID,
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Switch:      strings.TrimSpace(ev.Location),
		Start:       ev.Start.In(loc),
		End:         ev.End.In(loc),
	}
}
