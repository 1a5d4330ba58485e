package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "caltimer/internal/log"
	"caltimer/internal/model"
)

// ICS reads events from one or more ICS subscriptions.
type ICS struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
}

func NewICS(fetcher *Fetcher, sources []Source, loc *time.Location) *ICS {
	return &ICS{fetcher: fetcher, sources: sources, loc: loc}
}

// Query fetches every feed and returns the events overlapping [start, end].
// A feed that fails is skipped with a warning; the query fails only when no
// feed could be read.
func (g *ICS) Query(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	if len(g.sources) == 0 {
		return nil, &GatewayError{Op: "query", Err: ErrNoFeeds}
	}

	var all []vevent
	var errs []error
	for _, src := range g.sources {
		body, _, err := g.fetcher.Fetch(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", src.ID, err))
			appLog.Warn("skipping feed", "feed", src.ID, "url", redactURL(src.URL), "error", err)
			continue
		}
		events, err := parseICS(src.ID, body, g.loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", src.ID, err))
			appLog.Warn("skipping unparsable feed", "feed", src.ID, "error", err)
			continue
		}
		all = append(all, events...)
	}
	if len(errs) == len(g.sources) {
		return nil, &GatewayError{Op: "query", Err: errors.Join(errs...)}
	}

	out, err := expand(all, start, end, g.loc)
	if err != nil {
		return nil, &GatewayError{Op: "query", Err: err}
	}
	return out, nil
}

// parseICS reads the VEVENTs of an ICS body. Events without a UID or a
// start are skipped.
func parseICS(sourceID string, body []byte, loc *time.Location) ([]vevent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ics body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var out []vevent
	for _, ve := range cal.Events() {
		ev, err := fromICS(sourceID, ve, loc)
		if err != nil {
			appLog.Warn("skipping vevent", "feed", sourceID, "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func fromICS(sourceID string, ve *ical.VEvent, loc *time.Location) (vevent, error) {
	ev := vevent{SourceID: sourceID}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = uid.Value
	ev.Summary = propValue(ve, ical.ComponentPropertySummary)
	ev.Description = propValue(ve, ical.ComponentPropertyDescription)
	ev.Location = propValue(ve, ical.ComponentPropertyLocation)

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, errors.New("missing DTSTART")
	}
	ev.AllDay = isDate(dtstart)

	start, err := ve.GetStartAt()
	if err != nil {
		return ev, fmt.Errorf("DTSTART: %w", err)
	}
	ev.Start = start
	if ev.AllDay {
		ev.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	}

	end, err := ve.GetEndAt()
	switch {
	case err == nil && ev.AllDay:
		ev.End = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	case err == nil:
		ev.End = end
	case ev.AllDay:
		ev.End = ev.Start.AddDate(0, 0, 1)
	default:
		ev.End = ev.Start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tz := paramValue(p.ICalParameters, "TZID")
		for _, v := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(v, tz, loc); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		t, err := parseICSTime(p.Value, paramValue(p.ICalParameters, "TZID"), loc)
		if err != nil {
			return ev, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		ev.RecurrenceID = &t
	}
	return ev, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func paramValue(params map[string][]string, name string) string {
	if vs := params[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func isDate(p *ical.IANAProperty) bool {
	if strings.EqualFold(paramValue(p.ICalParameters, "VALUE"), "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime parses a DATE or DATE-TIME value. Floating and date values
// are taken in tzid when given, else in loc.
func parseICSTime(v, tzid string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	if loc == nil {
		loc = time.Local
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
