package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nomis52/dpm/pm"
)

// CycleRunner starts a power cycle with a given sleep message.
type CycleRunner interface {
	RunWith(msg pm.Message) error
}

// CronTriggerManager runs one CronTrigger per schedule entry.
type CronTriggerManager struct {
	triggers []*CronTrigger
	specs    []TriggerSpec
	logger   *slog.Logger
}

// NewCronTriggerManager creates a manager from a schedule accepted by
// ParseTriggerSpecs. Entries without a message cycle with defaultMsg.
func NewCronTriggerManager(spec string, defaultMsg pm.Message, runner CycleRunner, logger *slog.Logger) (*CronTriggerManager, error) {
	triggerSpecs, err := ParseTriggerSpecs(spec, defaultMsg)
	if err != nil {
		return nil, err
	}

	triggers := make([]*CronTrigger, 0, len(triggerSpecs))
	for _, ts := range triggerSpecs {
		msg := ts.Message
		trigger, err := NewCronTrigger(ts.CronSpec, RunnableFunc(func() error {
			return runner.RunWith(msg)
		}), logger.With("message", msg))
		if err != nil {
			return nil, fmt.Errorf("creating trigger for '%s:%s': %w", msg, ts.CronSpec, err)
		}
		triggers = append(triggers, trigger)
	}

	for i, trigger := range triggers {
		logger.Info("trigger registered",
			"message", triggerSpecs[i].Message,
			"schedule", triggerSpecs[i].CronSpec,
			"next_run", trigger.NextRun(),
		)
	}

	return &CronTriggerManager{
		triggers: triggers,
		specs:    triggerSpecs,
		logger:   logger,
	}, nil
}

// Start launches all triggers. Each trigger runs in its own goroutine.
// Returns immediately. All goroutines exit when ctx is cancelled.
func (m *CronTriggerManager) Start(ctx context.Context) {
	for _, trigger := range m.triggers {
		trigger.Start(ctx)
	}
}

// NextRun returns the earliest scheduled run and the message it cycles
// with. ok is false if there are no triggers.
func (m *CronTriggerManager) NextRun() (next time.Time, msg pm.Message, ok bool) {
	for i, trigger := range m.triggers {
		t := trigger.NextRun()
		if !ok || t.Before(next) {
			next, msg, ok = t, m.specs[i].Message, true
		}
	}
	return next, msg, ok
}
