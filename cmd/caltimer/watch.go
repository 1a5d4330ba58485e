package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"caltimer/internal/cycle"
	appLog "caltimer/internal/log"
	"caltimer/internal/web"
)

// cronLogger adapts the app logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

// watchAction runs one cycle right away and then one per refresh tick.
// Each cycle sleeps until the end of its window, so consecutive cycles
// overlap; they cover distinct windows.
func watchAction(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	runner, err := newRunner(cfg, c.Bool("dry-run"))
	if err != nil {
		return err
	}
	ctx := c.Context

	job := func() { runCycle(ctx, runner) }

	sched := cron.New(
		cron.WithLocation(runner.Location),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{})),
	)
	if _, err := sched.AddFunc(cfg.RefreshCron, job); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshCron, err)
	}

	if cfg.Listen != "" {
		go func() {
			if err := web.Serve(ctx, cfg, previewRunner(runner, cfg)); err != nil {
				appLog.Error("HTTP server failed", err, "listen", cfg.Listen)
			}
		}()
	}

	appLog.Info("watching calendar", "refresh", cfg.RefreshCron, "interval_minutes", cfg.IntervalMinutes, "dry_run", c.Bool("dry-run"))
	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		job()
	}()
	sched.Start()

	<-ctx.Done()
	appLog.Info("shutting down, pending actions abandoned")
	<-sched.Stop().Done()
	first.Wait()
	return nil
}

func runCycle(ctx context.Context, runner *cycle.Runner) {
	_, _, err := runner.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("cycle failed", err)
	}
}
