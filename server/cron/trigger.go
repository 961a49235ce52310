// Package cron provides cron-based scheduling for power cycles.
//
// The CronTrigger type wraps a Runnable and executes it according to a cron schedule.
// It is designed to be started once and run until the context is cancelled.
//
// Example usage:
//
//	trigger, err := cron.NewCronTrigger("0 2 * * *", runnable, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	trigger.Start(ctx)  // Returns immediately, runs in background
//	<-ctx.Done()        // Wait for shutdown signal
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// Runnable is implemented by anything that can be triggered by the cron scheduler.
type Runnable interface {
	Run() error
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc func() error

// Run calls f.
func (f RunnableFunc) Run() error {
	return f()
}

// CronTrigger executes a Runnable according to a cron schedule.
type CronTrigger struct {
	spec     string
	schedule cron.Schedule
	runnable Runnable
	logger   *slog.Logger
}

// NewCronTrigger creates a new CronTrigger with the given cron specification.
// The spec follows standard cron format (5 fields: minute, hour, day, month, weekday).
// Returns ErrInvalidCronSpec if the specification cannot be parsed.
func NewCronTrigger(spec string, runnable Runnable, logger *slog.Logger) (*CronTrigger, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}

	return &CronTrigger{
		spec:     spec,
		schedule: schedule,
		runnable: runnable,
		logger:   logger,
	}, nil
}

// Start launches a goroutine that triggers runs according to the cron schedule.
// Returns immediately. The goroutine exits when ctx is cancelled.
func (ct *CronTrigger) Start(ctx context.Context) {
	go ct.loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (ct *CronTrigger) NextRun() time.Time {
	return ct.schedule.Next(time.Now())
}

func (ct *CronTrigger) loop(ctx context.Context) {
	for {
		nextRun := ct.schedule.Next(time.Now())
		waitDuration := time.Until(nextRun)

		ct.logger.Debug("waiting for next scheduled cycle",
			"schedule", ct.spec,
			"next_run", nextRun,
			"wait_duration", waitDuration,
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			ct.logger.Info("cron trigger shutting down", "schedule", ct.spec)
			return
		case <-timer.C:
			ct.executeRun()
		}
	}
}

// executeRun starts the runnable and logs the result.
func (ct *CronTrigger) executeRun() {
	ct.logger.Info("starting scheduled cycle", "schedule", ct.spec)

	if err := ct.runnable.Run(); err != nil {
		ct.logger.Warn("scheduled cycle could not start", "schedule", ct.spec, "error", err)
	}
}
