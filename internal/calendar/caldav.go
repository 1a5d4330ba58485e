package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	appLog "caltimer/internal/log"
	"caltimer/internal/model"
)

// davClient is the part of *caldav.Client used here.
type davClient interface {
	FindCurrentUserPrincipal(ctx context.Context) (string, error)
	FindCalendarHomeSet(ctx context.Context, principal string) (string, error)
	FindCalendars(ctx context.Context, calendarHomeSet string) ([]caldav.Calendar, error)
	QueryCalendar(ctx context.Context, calendar string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error)
}

// basicAuthTransport adds credentials to every request.
type basicAuthTransport struct {
	username, password string
	next               http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	req.Header.Set("User-Agent", "caltimer/1.0")
	return t.next.RoundTrip(req)
}

// CalDAV reads events from the calendar with a given display name.
type CalDAV struct {
	client davClient
	name   string
	loc    *time.Location

	// path of the selected calendar, resolved on first use. Overlapping
	// cycles share a gateway.
	mu   sync.Mutex
	path string
}

// NewCalDAV prepares a client for endpoint. No request is made until the
// first Query or Calendars call.
func NewCalDAV(endpoint, username, password, name string, loc *time.Location) (*CalDAV, error) {
	if endpoint == "" {
		return nil, &GatewayError{Op: "setup", Err: errors.New("caldav url is empty")}
	}
	hc := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &basicAuthTransport{username: username, password: password, next: http.DefaultTransport},
	}
	c, err := caldav.NewClient(hc, endpoint)
	if err != nil {
		return nil, &GatewayError{Op: "setup", Err: err}
	}
	return &CalDAV{client: c, name: name, loc: loc}, nil
}

// Calendars lists the calendars visible to the account, sorted by name.
func (g *CalDAV) Calendars(ctx context.Context) ([]caldav.Calendar, error) {
	principal, err := g.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, &GatewayError{Op: "find principal", Err: err}
	}
	home, err := g.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, &GatewayError{Op: "find calendar home", Err: err}
	}
	cals, err := g.client.FindCalendars(ctx, home)
	if err != nil {
		return nil, &GatewayError{Op: "list calendars", Err: err}
	}
	sort.Slice(cals, func(i, j int) bool { return cals[i].Name < cals[j].Name })
	return cals, nil
}

func (g *CalDAV) calendarPath(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.path != "" {
		return g.path, nil
	}
	cals, err := g.Calendars(ctx)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(cals))
	for _, c := range cals {
		if c.Name == g.name {
			g.path = c.Path
			appLog.Ctx(ctx).Debug("calendar selected", "name", c.Name, "path", c.Path)
			return g.path, nil
		}
		names = append(names, c.Name)
	}
	return "", &GatewayError{
		Op:  "select calendar",
		Err: fmt.Errorf("%w: %q (available: %s)", ErrCalendarNotFound, g.name, strings.Join(names, ", ")),
	}
}

// Query returns the events of the selected calendar overlapping
// [start, end]. The server filters by time range; recurring events are
// expanded locally.
func (g *CalDAV) Query(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	path, err := g.calendarPath(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{Name: "VEVENT", AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}
	objects, err := g.client.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, &GatewayError{Op: "query", Err: err}
	}

	var all []vevent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			v, err := fromDAV(path, ev, g.loc)
			if err != nil {
				appLog.Ctx(ctx).Warn("skipping vevent", "object", obj.Path, "error", err)
				continue
			}
			all = append(all, v)
		}
	}

	out, err := expand(all, start, end, g.loc)
	if err != nil {
		return nil, &GatewayError{Op: "query", Err: err}
	}
	return out, nil
}

func fromDAV(sourceID string, ev ical.Event, loc *time.Location) (vevent, error) {
	v := vevent{SourceID: sourceID}

	uid, err := ev.Props.Text(ical.PropUID)
	if err != nil || uid == "" {
		return v, errors.New("missing UID")
	}
	v.UID = uid
	v.Summary, _ = ev.Props.Text(ical.PropSummary)
	v.Description, _ = ev.Props.Text(ical.PropDescription)
	v.Location, _ = ev.Props.Text(ical.PropLocation)

	dtstart := ev.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return v, errors.New("missing DTSTART")
	}
	v.AllDay = dtstart.ValueType() == ical.ValueDate

	if v.Start, err = ev.DateTimeStart(loc); err != nil {
		return v, fmt.Errorf("DTSTART: %w", err)
	}
	if v.End, err = ev.DateTimeEnd(loc); err != nil {
		return v, fmt.Errorf("DTEND: %w", err)
	}
	if v.End.IsZero() {
		v.End = v.Start
	}

	if p := ev.Props.Get(ical.PropRecurrenceRule); p != nil {
		v.RRule = p.Value
	}
	for _, p := range ev.Props.Values(ical.PropExceptionDates) {
		tz := p.Params.Get(ical.ParamTimezoneID)
		for _, s := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(s, tz, loc); err == nil {
				v.ExDates = append(v.ExDates, t)
			}
		}
	}
	if p := ev.Props.Get(ical.PropRecurrenceID); p != nil {
		t, err := p.DateTime(loc)
		if err != nil {
			return v, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		v.RecurrenceID = &t
	}
	return v, nil
}
