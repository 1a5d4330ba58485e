// Package calendar fetches the events of one polling window from a CalDAV
// server or from ICS subscriptions.
//
// Both gateways return concrete, already expanded events whose raw time
// range overlaps the requested window. The event's LOCATION names the
// switch and its DESCRIPTION carries the option block.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caltimer/internal/config"
	"caltimer/internal/model"
)

// Gateway returns the events overlapping [start, end].
type Gateway interface {
	Query(ctx context.Context, start, end time.Time) ([]model.Event, error)
}

// GatewayError means the calendar could not be read. A cycle that gets one
// schedules nothing.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("calendar %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

var (
	ErrCalendarNotFound = errors.New("calendar not found")
	ErrNoFeeds          = errors.New("no ics feeds configured")
)

// New builds the gateway selected by cfg.Type. Events are returned in loc.
func New(cfg config.CalendarConfig, loc *time.Location) (Gateway, error) {
	switch cfg.Type {
	case config.CalendarCalDAV, "":
		return NewCalDAV(cfg.URL, cfg.Username, cfg.Password, cfg.Name, loc)
	case config.CalendarICS:
		sources := make([]Source, 0, len(cfg.Feeds))
		for _, f := range cfg.Feeds {
			sources = append(sources, Source{ID: f.ID, URL: f.URL})
		}
		return NewICS(NewFetcher(cfg.CacheDir, time.Duration(cfg.MaxStaleMinutes)*time.Minute), sources, loc), nil
	}
	return nil, &GatewayError{Op: "setup", Err: fmt.Errorf("unknown calendar type %q", cfg.Type)}
}
