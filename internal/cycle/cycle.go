// Package cycle drives one polling cycle: fetch the window's events, work
// out when each switch fires, schedule the actions and run them.
package cycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"caltimer/internal/calendar"
	"caltimer/internal/config"
	appLog "caltimer/internal/log"
	"caltimer/internal/model"
	"caltimer/internal/options"
	"caltimer/internal/scheduler"
	"caltimer/internal/switches"
	"caltimer/internal/timing"
)

// SolarSource yields sunrise and sunset for the day containing date.
type SolarSource interface {
	Calculate(date time.Time) (timing.Solar, error)
}

// Runner holds the collaborators of a cycle. All fields except Solar are
// required.
type Runner struct {
	Gateway    calendar.Gateway
	Solar      SolarSource
	Dispatcher *switches.Dispatcher
	Resolver   timing.Resolver
	Clock      scheduler.Clock
	Interval   time.Duration
	Location   *time.Location
}

// Item is one scheduled side of one event.
type Item struct {
	UID     string        `json:"uid"`
	Summary string        `json:"summary"`
	Switch  string        `json:"switch"`
	On      bool          `json:"on"`
	At      time.Time     `json:"at"`
	Jitter  time.Duration `json:"jitter_ns"`
	Actions []string      `json:"actions"`
}

// Plan is a cycle whose actions are queued but not yet executed.
type Plan struct {
	ID      string        `json:"id"`
	Window  timing.Window `json:"window"`
	Sun     *timing.Solar `json:"sun,omitempty"`
	Events  int           `json:"events"`
	Items   []Item        `json:"items"`
	Skipped int           `json:"skipped"`

	log   *appLog.Logger
	sched *scheduler.Scheduler
}

// Plan fetches the events of the window following now and queues their
// actions. A calendar failure is returned as is and nothing is queued;
// every other problem is logged and only drops the affected field, side or
// action.
func (r *Runner) Plan(ctx context.Context, now time.Time) (*Plan, error) {
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	clock := r.Clock
	if clock == nil {
		clock = scheduler.WallClock()
	}

	p := &Plan{
		ID:     uuid.NewString(),
		Window: timing.NextWindow(now.In(loc), r.Interval),
		sched:  scheduler.New(clock),
	}
	lg := appLog.Ctx(ctx).With("cycle", p.ID)
	p.log = lg
	ctx = appLog.WithContext(ctx, lg)

	lg.Info("cycle started", "window_start", p.Window.Start, "window_end", p.Window.End)

	events, err := r.Gateway.Query(ctx, p.Window.Start, p.Window.End)
	if err != nil {
		lg.Error("calendar query failed, nothing scheduled", err)
		return nil, err
	}
	p.Events = len(events)
	if len(events) == 0 {
		lg.Info("no switching events in this time interval")
		return p, nil
	}

	if r.Solar != nil {
		sun, err := r.Solar.Calculate(p.Window.Start)
		if err != nil {
			lg.Warn("no solar times, sunrise/sunset substitution skipped this cycle", "error", err)
		} else {
			p.Sun = &sun
			lg.Info("solar times", "sunrise", sun.Rise, "sunset", sun.Set)
		}
	}

	for _, ev := range events {
		r.planEvent(ctx, p, ev)
	}
	lg.Info("cycle planned", "events", p.Events, "actions", p.sched.Len(), "skipped", p.Skipped)
	return p, nil
}

func (r *Runner) planEvent(ctx context.Context, p *Plan, ev model.Event) {
	lg := appLog.Ctx(ctx).With("uid", ev.UID, "summary", ev.Summary, "switch", ev.Switch)

	opts, errs := options.Parse(ev.Description)
	for _, err := range errs {
		lg.Warn("ignoring event option", "error", err)
	}

	res := r.Resolver.Resolve(ev.Start, ev.End, opts, p.Sun, p.Window)
	if res.FiresStart {
		r.planSide(ctx, p, ev, true, res.StartAt(), res.StartJitter)
	}
	if res.FiresEnd {
		r.planSide(ctx, p, ev, false, res.EndAt(), res.EndJitter)
	}
}

func (r *Runner) planSide(ctx context.Context, p *Plan, ev model.Event, on bool, at time.Time, jitter time.Duration) {
	lg := appLog.Ctx(ctx).With("uid", ev.UID, "summary", ev.Summary, "switch", ev.Switch, "on", on)

	actions, err := r.Dispatcher.Dispatch(ctx, ev.Switch, on, at)
	if err != nil {
		var ce *config.ConfigError
		if !errors.As(err, &ce) {
			err = &config.ConfigError{Switch: ev.Switch, Err: err}
		}
		p.Skipped++
		lg.Error("cannot switch, skipping", err)
		return
	}

	item := Item{UID: ev.UID, Summary: ev.Summary, Switch: ev.Switch, On: on, At: at, Jitter: jitter}
	for _, a := range actions {
		if err := p.sched.Schedule(a.At, a.Action); err != nil {
			lg.Error("queueing action failed", err, "action", a.Action.String())
			continue
		}
		item.Actions = append(item.Actions, a.Action.String())
	}
	p.Items = append(p.Items, item)
	lg.Info("switch scheduled", "at", at, "jitter_min", jitter.Minutes())
}

// Execute runs the queued actions, sleeping until each one is due. It
// returns early only if ctx is canceled.
func (p *Plan) Execute(ctx context.Context) (scheduler.Result, error) {
	if p.log != nil {
		ctx = appLog.WithContext(ctx, p.log)
	}
	res, err := p.sched.Run(ctx)
	lg := appLog.Ctx(ctx)
	if err != nil {
		lg.Warn("cycle interrupted", "executed", res.Executed, "failed", res.Failed, "abandoned", res.Abandoned, "error", err)
		return res, err
	}
	lg.Info("cycle finished", "executed", res.Executed, "failed", res.Failed)
	return res, nil
}

// RunOnce plans the window following the current time and executes it.
func (r *Runner) RunOnce(ctx context.Context) (*Plan, scheduler.Result, error) {
	clock := r.Clock
	if clock == nil {
		clock = scheduler.WallClock()
	}
	p, err := r.Plan(ctx, clock.Now())
	if err != nil {
		return nil, scheduler.Result{}, err
	}
	res, err := p.Execute(ctx)
	return p, res, err
}
