package pm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// runner invokes a device's resolved callbacks for one phase.
type runner struct {
	logger  *slog.Logger
	debug   bool
	metrics *Metrics
}

// run calls every step of dev's plan for phase, in tier order, and stops at
// the first failure. A device with nothing to do for the phase succeeds.
func (r *runner) run(ctx context.Context, dev *Device, phase Phase, msg Message) error {
	ctx = contextWithMessage(ctx, msg)
	for _, s := range dev.plan[phase] {
		if err := r.invoke(ctx, dev, phase, msg, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) invoke(ctx context.Context, dev *Device, phase Phase, msg Message, s step) error {
	logger := dev.logger
	if r.debug {
		logger.Info("calling", "phase", phase, "tier", s.tier, "legacy", s.legacy, "message", msg)
	}

	var err error
	var pc panics.Catcher
	start := time.Now()
	pc.Try(func() {
		err = s.invoke(ctx, dev, msg)
	})
	elapsed := time.Since(start)
	if rec := pc.Recovered(); rec != nil {
		err = fmt.Errorf("callback panicked: %w", rec.AsError())
	}

	if r.debug {
		logger.Info("call returned", "phase", phase, "tier", s.tier, "error", err, "elapsed", elapsed)
	}
	if err == nil {
		return nil
	}

	r.metrics.callbackFailed(phase, s.tier)
	logger.Error("callback failed",
		"phase", phase,
		"tier", s.tier,
		"legacy", s.legacy,
		"message", msg,
		"elapsed", elapsed,
		"error", err,
	)
	return &CallbackError{
		Device:  dev.name,
		Phase:   phase,
		Tier:    s.tier,
		Legacy:  s.legacy,
		Elapsed: elapsed,
		Err:     err,
	}
}
