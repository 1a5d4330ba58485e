package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caltimer/internal/model"
)

var fixture = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//caltimer//test//EN",
	"BEGIN:VEVENT",
	"UID:lamp-1",
	"DTSTAMP:20240501T000000Z",
	"DTSTART:20240601T060000Z",
	"DTEND:20240601T070000Z",
	"SUMMARY:Lamp",
	"LOCATION:lamp",
	"DESCRIPTION:jitter",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:garden-daily",
	"DTSTAMP:20240501T000000Z",
	"DTSTART:20240530T061000Z",
	"DTEND:20240530T062000Z",
	"RRULE:FREQ=DAILY;COUNT=5",
	"EXDATE:20240531T061000Z",
	"SUMMARY:Garden",
	"LOCATION:garden",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:garden-daily",
	"DTSTAMP:20240501T000000Z",
	"RECURRENCE-ID:20240602T061000Z",
	"DTSTART:20240602T063000Z",
	"DTEND:20240602T064000Z",
	"SUMMARY:Garden late",
	"LOCATION:garden",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func switchesOf(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Switch)
	}
	return out
}

func TestParseAndExpandICS(t *testing.T) {
	parsed, err := parseICS("home", []byte(fixture), time.UTC)
	require.NoError(t, err)
	require.Len(t, parsed, 3)

	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		switches []string
		summary  []string
	}{
		{
			name:     "single and recurring instance",
			start:    utc("2024-06-01T06:00:00Z"),
			end:      utc("2024-06-01T06:15:00Z"),
			switches: []string{"lamp", "garden"},
			summary:  []string{"Lamp", "Garden"},
		},
		{
			name:  "excluded date",
			start: utc("2024-05-31T06:00:00Z"),
			end:   utc("2024-05-31T06:15:00Z"),
		},
		{
			name:  "instance moved out of the window",
			start: utc("2024-06-02T06:00:00Z"),
			end:   utc("2024-06-02T06:15:00Z"),
		},
		{
			name:     "instance moved into the window",
			start:    utc("2024-06-02T06:30:00Z"),
			end:      utc("2024-06-02T06:45:00Z"),
			switches: []string{"garden"},
			summary:  []string{"Garden late"},
		},
		{
			name:     "instance ending inside the window",
			start:    utc("2024-06-03T06:15:00Z"),
			end:      utc("2024-06-03T06:30:00Z"),
			switches: []string{"garden"},
			summary:  []string{"Garden"},
		},
		{
			name:  "after the last occurrence",
			start: utc("2024-06-04T06:00:00Z"),
			end:   utc("2024-06-04T06:15:00Z"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := expand(parsed, tt.start, tt.end, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, len(tt.switches), len(events))
			if len(tt.switches) == 0 {
				return
			}
			assert.Equal(t, tt.switches, switchesOf(events))
			for i, e := range events {
				assert.Equal(t, tt.summary[i], e.Summary)
				assert.Equal(t, "home", e.SourceID)
			}
		})
	}
}

func TestExpandKeepsDurationAndDescription(t *testing.T) {
	parsed, err := parseICS("home", []byte(fixture), time.UTC)
	require.NoError(t, err)

	events, err := expand(parsed, utc("2024-06-01T06:00:00Z"), utc("2024-06-01T06:15:00Z"), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "jitter", events[0].Description)
	assert.Equal(t, utc("2024-06-01T06:10:00Z"), events[1].Start)
	assert.Equal(t, utc("2024-06-01T06:20:00Z"), events[1].End)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	_, err := expand(nil, utc("2024-06-01T07:00:00Z"), utc("2024-06-01T06:00:00Z"), time.UTC)
	assert.Error(t, err)
}

func TestParseICSEmpty(t *testing.T) {
	_, err := parseICS("home", []byte("  \n"), time.UTC)
	assert.Error(t, err)
}

func TestParseICSTime(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	got, err := parseICSTime("20240601T080000", "Europe/Berlin", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, utc("2024-06-01T06:00:00Z"), got.UTC())

	got, err = parseICSTime("20240601", "", berlin)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, berlin), got)

	got, err = parseICSTime("20240601T060000Z", "Europe/Berlin", berlin)
	require.NoError(t, err)
	assert.Equal(t, utc("2024-06-01T06:00:00Z"), got)
}

func TestFetcherCachesWithETag(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(fixture))
	}))

	f := NewFetcher(t.TempDir(), time.Hour)
	src := Source{ID: "home", URL: srv.URL + "/private/token.ics"}
	ctx := context.Background()

	body, cached, err := f.Fetch(ctx, src)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, fixture, string(body))

	body, cached, err = f.Fetch(ctx, src)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, fixture, string(body))
	assert.Equal(t, int32(1), notModified.Load())

	srv.Close()
	body, cached, err = f.Fetch(ctx, src)
	require.NoError(t, err, "an unreachable feed falls back to the cached copy")
	assert.True(t, cached)
	assert.Equal(t, fixture, string(body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcherStaleCacheExpires(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(fixture))
	}))
	defer srv.Close()

	clock := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	f := NewFetcher(t.TempDir(), time.Hour)
	f.now = func() time.Time { return clock }
	src := Source{ID: "home", URL: srv.URL}
	ctx := context.Background()

	_, cached, err := f.Fetch(ctx, src)
	require.NoError(t, err)
	assert.False(t, cached)

	fail.Store(true)
	clock = clock.Add(59 * time.Minute)
	_, cached, err = f.Fetch(ctx, src)
	require.NoError(t, err)
	assert.True(t, cached)

	clock = clock.Add(2 * time.Minute)
	_, _, err = f.Fetch(ctx, src)
	assert.ErrorIs(t, err, ErrStaleCache)
	assert.ErrorContains(t, err, "503")

	g := NewICS(f, []Source{src}, time.UTC)
	_, err = g.Query(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.ErrorIs(t, err, ErrStaleCache)
}

func TestFetcherNotModifiedRefreshesAge(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case down.Load():
			http.Error(w, "down", http.StatusBadGateway)
		case r.Header.Get("If-None-Match") == `"v1"`:
			w.WriteHeader(http.StatusNotModified)
		default:
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(fixture))
		}
	}))
	defer srv.Close()

	clock := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	f := NewFetcher(t.TempDir(), time.Hour)
	f.now = func() time.Time { return clock }
	src := Source{ID: "home", URL: srv.URL}
	ctx := context.Background()

	_, _, err := f.Fetch(ctx, src)
	require.NoError(t, err)

	clock = clock.Add(50 * time.Minute)
	_, cached, err := f.Fetch(ctx, src)
	require.NoError(t, err)
	assert.True(t, cached)

	down.Store(true)
	clock = clock.Add(50 * time.Minute)
	_, cached, err = f.Fetch(ctx, src)
	require.NoError(t, err, "the 304 confirmed the copy 50 minutes ago")
	assert.True(t, cached)
}

func TestFetcherErrorStatusWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, _, err := NewFetcher(t.TempDir(), time.Hour).Fetch(context.Background(), Source{ID: "x", URL: srv.URL})
	assert.ErrorContains(t, err, "410")
}

func TestICSGatewayQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fixture))
	}))
	defer srv.Close()

	g := NewICS(NewFetcher(t.TempDir(), time.Hour), []Source{
		{ID: "home", URL: srv.URL},
		{ID: "broken", URL: "http://127.0.0.1:1/missing.ics"},
	}, time.UTC)

	events, err := g.Query(context.Background(), utc("2024-06-01T06:00:00Z"), utc("2024-06-01T06:15:00Z"))
	require.NoError(t, err, "one readable feed is enough")
	assert.Equal(t, []string{"lamp", "garden"}, switchesOf(events))
}

func TestICSGatewayAllFeedsFail(t *testing.T) {
	g := NewICS(NewFetcher(t.TempDir(), time.Hour), []Source{{ID: "broken", URL: "http://127.0.0.1:1/missing.ics"}}, time.UTC)

	_, err := g.Query(context.Background(), utc("2024-06-01T06:00:00Z"), utc("2024-06-01T06:15:00Z"))
	var ge *GatewayError
	assert.True(t, errors.As(err, &ge))

	_, err = NewICS(NewFetcher(t.TempDir(), time.Hour), nil, time.UTC).Query(context.Background(), time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrNoFeeds)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/...(redacted)", redactURL("https://cal.example.com/u/secret.ics?token=abc"))
	assert.Equal(t, "(redacted)", redactURL("not a url"))
}

type fakeDAV struct {
	calendars []caldav.Calendar
	objects   map[string][]caldav.CalendarObject
	queries   []*caldav.CalendarQuery
	err       error
}

func (f *fakeDAV) FindCurrentUserPrincipal(context.Context) (string, error) {
	return "/principals/me/", f.err
}

func (f *fakeDAV) FindCalendarHomeSet(_ context.Context, principal string) (string, error) {
	return principal + "calendars/", nil
}

func (f *fakeDAV) FindCalendars(context.Context, string) ([]caldav.Calendar, error) {
	return append([]caldav.Calendar(nil), f.calendars...), nil
}

func (f *fakeDAV) QueryCalendar(_ context.Context, path string, q *caldav.CalendarQuery) ([]caldav.CalendarObject, error) {
	f.queries = append(f.queries, q)
	return f.objects[path], nil
}

func decodeFixture(t *testing.T) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(strings.NewReader(fixture)).Decode()
	require.NoError(t, err)
	return cal
}

func TestCalDAVQuery(t *testing.T) {
	dav := &fakeDAV{
		calendars: []caldav.Calendar{
			{Name: "Work", Path: "/cal/work/"},
			{Name: "Timer", Path: "/cal/timer/"},
		},
		objects: map[string][]caldav.CalendarObject{
			"/cal/timer/": {{Path: "/cal/timer/all.ics", Data: decodeFixture(t)}},
		},
	}
	g := &CalDAV{client: dav, name: "Timer", loc: time.UTC}

	start, end := utc("2024-06-01T06:00:00Z"), utc("2024-06-01T06:15:00Z")
	events, err := g.Query(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, []string{"lamp", "garden"}, switchesOf(events))
	assert.Equal(t, "jitter", events[0].Description)
	assert.Equal(t, "/cal/timer/", events[0].SourceID)

	require.Len(t, dav.queries, 1)
	filter := dav.queries[0].CompFilter.Comps[0]
	assert.Equal(t, "VEVENT", filter.Name)
	assert.Equal(t, start, filter.Start)
	assert.Equal(t, end, filter.End)

	events, err = g.Query(context.Background(), utc("2024-06-02T06:30:00Z"), utc("2024-06-02T06:45:00Z"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Garden late", events[0].Summary)
}

func TestCalDAVCalendarNotFound(t *testing.T) {
	dav := &fakeDAV{calendars: []caldav.Calendar{
		{Name: "Work", Path: "/cal/work/"},
		{Name: "Home", Path: "/cal/home/"},
	}}
	g := &CalDAV{client: dav, name: "Timer", loc: time.UTC}

	_, err := g.Query(context.Background(), time.Now(), time.Now().Add(time.Minute))
	var ge *GatewayError
	require.True(t, errors.As(err, &ge))
	assert.ErrorIs(t, err, ErrCalendarNotFound)
	assert.Contains(t, err.Error(), "available: Home, Work")
}

func TestCalDAVUnreachable(t *testing.T) {
	g := &CalDAV{client: &fakeDAV{err: errors.New("connection refused")}, name: "Timer", loc: time.UTC}

	_, err := g.Calendars(context.Background())
	var ge *GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "find principal", ge.Op)
}

func TestBasicAuthTransport(t *testing.T) {
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
	}))
	defer srv.Close()

	hc := &http.Client{Transport: &basicAuthTransport{username: "alice", password: "s3cret", next: http.DefaultTransport}}
	resp, err := hc.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "alice", user)
	assert.Equal(t, "s3cret", pass)
}
