package main

import (
	"time"

	"caltimer/internal/actuator"
	"caltimer/internal/calendar"
	"caltimer/internal/config"
	"caltimer/internal/cycle"
	"caltimer/internal/scheduler"
	"caltimer/internal/solar"
	"caltimer/internal/switches"
	"caltimer/internal/timing"
)

// newRunner wires the cycle collaborators from cfg. With dryRun every
// action only logs.
func newRunner(cfg *config.Config, dryRun bool) (*cycle.Runner, error) {
	loc, err := cfg.TimeLocation()
	if err != nil {
		return nil, err
	}
	basis, err := timing.ParseBasis(cfg.WindowBasis)
	if err != nil {
		return nil, err
	}
	gw, err := calendar.New(cfg.Calendar, loc)
	if err != nil {
		return nil, err
	}

	var radio actuator.Transmitter = actuator.NewCommandTransmitter(cfg.RF433)
	var pins actuator.Pins = actuator.NewGPIO()
	if dryRun {
		radio, pins = actuator.DryRun{}, actuator.DryRun{}
	}

	return &cycle.Runner{
		Gateway:    gw,
		Solar:      solar.New(cfg.Location.Latitude, cfg.Location.Longitude, loc),
		Dispatcher: switches.NewDispatcher(cfg, radio, pins, cfg.MaxPulseDuration()),
		Resolver: timing.Resolver{
			Jitter: timing.NewJitter(time.Now().UnixNano()),
			Basis:  basis,
		},
		Clock:    scheduler.WallClock(),
		Interval: cfg.Interval(),
		Location: loc,
	}, nil
}

// previewRunner is r with actuators that only log, for planning without
// side effects.
func previewRunner(r *cycle.Runner, cfg *config.Config) *cycle.Runner {
	p := *r
	p.Dispatcher = switches.NewDispatcher(cfg, actuator.DryRun{}, actuator.DryRun{}, cfg.MaxPulseDuration())
	return &p
}
