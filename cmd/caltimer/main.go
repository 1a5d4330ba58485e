package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"caltimer/internal/calendar"
	"caltimer/internal/config"
	appLog "caltimer/internal/log"
)

const version = "0.1.0"

func main() {
	// A missing .env is fine; credentials may come from the config file.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "caltimer",
		Usage:   "switch radio sockets and GPIO outputs from calendar events",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "/etc/caltimer/config.yaml",
				Usage:   "path to config file (created with defaults if missing)",
				EnvVars: []string{"CALTIMER_CONFIG"},
			},
			&cli.StringFlag{Name: "log-level", Usage: "override log.level (debug, info, warn, error)"},
			dryRunFlag(),
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "schedule and execute the next polling window, then exit",
				Flags:  []cli.Flag{dryRunFlag()},
				Action: runAction,
			},
			{
				Name:   "watch",
				Usage:  "run a cycle on every refresh tick until interrupted",
				Flags:  []cli.Flag{dryRunFlag()},
				Action: watchAction,
			},
			{
				Name:   "calendars",
				Usage:  "list the CalDAV calendars of the configured account",
				Action: calendarsAction,
			},
			{
				Name:   "switches",
				Usage:  "print the switch registry and its problems",
				Action: switchesAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		appLog.Error("caltimer failed", err)
		os.Exit(1)
	}
}

func dryRunFlag() cli.Flag {
	return &cli.BoolFlag{Name: "dry-run", Usage: "log switch actions instead of performing them"}
}

// setup loads the config and configures logging.
func setup(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyEnv(os.Getenv)

	level := cfg.Log.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	appLog.Setup(os.Stderr, cfg.Log.Format, appLog.ParseLevel(level))

	for _, err := range cfg.ValidateSwitches() {
		appLog.Warn("switch will be skipped", "error", err)
	}
	appLog.Debug("config loaded",
		"path", path,
		"calendar", cfg.Calendar.Type,
		"interval_minutes", cfg.IntervalMinutes,
		"window_basis", cfg.WindowBasis,
		"switches", len(cfg.Switches),
	)
	return cfg, nil
}

func runAction(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	runner, err := newRunner(cfg, c.Bool("dry-run"))
	if err != nil {
		return err
	}

	_, _, err = runner.RunOnce(c.Context)
	if errors.Is(err, context.Canceled) {
		appLog.Info("interrupted, pending actions abandoned")
		return nil
	}
	return err
}

func calendarsAction(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	if cfg.Calendar.Type != config.CalendarCalDAV {
		return fmt.Errorf("calendars needs calendar.type %q, have %q", config.CalendarCalDAV, cfg.Calendar.Type)
	}
	loc, err := cfg.TimeLocation()
	if err != nil {
		return err
	}
	g, err := calendar.NewCalDAV(cfg.Calendar.URL, cfg.Calendar.Username, cfg.Calendar.Password, cfg.Calendar.Name, loc)
	if err != nil {
		return err
	}
	cals, err := g.Calendars(c.Context)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	for _, cal := range cals {
		mark := " "
		if cal.Name == cfg.Calendar.Name {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", mark, cal.Name, cal.Path)
	}
	return w.Flush()
}

func switchesAction(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	for _, name := range cfg.SwitchNames() {
		sw := cfg.Switches[name]
		status := "ok"
		if err := sw.Validate(); err != nil {
			status = err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, sw.Type, describe(sw), status)
	}
	return w.Flush()
}

func describe(sw config.SwitchConfig) string {
	pin := "?"
	if sw.Pin != nil {
		pin = fmt.Sprintf("GPIO%d", *sw.Pin)
	}
	switch sw.Type {
	case config.TypeRC:
		return fmt.Sprintf("on=%s off=%s protocol=%d pulse_length=%d", sw.OnCode, sw.OffCode, sw.Protocol, sw.PulseLength)
	case config.TypeGPIO:
		return pin
	case config.TypePulse:
		return fmt.Sprintf("%s on=%gs off=%gs", pin, sw.On, sw.Off)
	}
	return "-"
}
