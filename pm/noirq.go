package pm

import (
	"context"
	"errors"
	"slices"
	"time"
)

// suspendLate runs with interrupts disabled and entirely synchronously.
func (c *Controller) suspendLate(ctx context.Context, msg Message) error {
	start := time.Now()
	r := c.reg
	c.platform.DisableInterrupts()

	var err error
	devices := r.Devices()
	for _, dev := range slices.Backward(devices) {
		if status, ok := r.statusOf(dev); !ok || status != StatusOff {
			continue
		}
		if err = c.runner.run(ctx, dev, PhaseSuspendLate, msg); err != nil {
			break
		}
		r.setStatus(dev, StatusSuspendedLate)
	}

	if err != nil {
		rmsg := msg.ResumeMessage()
		c.logger.Error("late suspend aborted, resuming devices", "message", msg, "recovery", rmsg, "error", err)
		if rerr := c.resumeEarly(context.WithoutCancel(ctx), rmsg); rerr != nil {
			c.logger.Warn("errors while recovering from failed late suspend", "error", rerr)
		}
		return err
	}
	c.reportPhase(PhaseSuspendLate, msg, start)
	return nil
}

// resumeEarly brings every device past StatusOff back to StatusOff, front
// to back, then re-enables interrupts.
func (c *Controller) resumeEarly(ctx context.Context, msg Message) error {
	start := time.Now()
	r := c.reg

	var errs []error
	for _, dev := range r.Devices() {
		r.mu.Lock()
		if !r.registeredLocked(dev) || dev.status <= StatusOff {
			r.mu.Unlock()
			continue
		}
		dev.status = StatusOff
		r.mu.Unlock()

		if err := c.runner.run(ctx, dev, PhaseResumeEarly, msg); err != nil {
			errs = append(errs, err)
		}
	}

	c.platform.EnableInterrupts()
	c.reportPhase(PhaseResumeEarly, msg, start)
	return errors.Join(errs...)
}
