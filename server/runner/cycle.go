package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nomis52/dpm/pm"
)

// Transitioner carries out the four system transition operations.
type Transitioner interface {
	BeginSuspend(ctx context.Context, msg pm.Message) error
	SuspendLate(ctx context.Context, msg pm.Message) error
	ResumeEarly(ctx context.Context, msg pm.Message) error
	FinishResume(ctx context.Context, msg pm.Message) error
}

// Cycle takes every device down with msg, keeps them down for dwell and
// brings them back up.
//
// A failed BeginSuspend has already been unwound by the controller. A
// failed SuspendLate is unwound here with msg.ResumeMessage(). Canceling
// ctx cuts the dwell short but never skips the wake-up.
func Cycle(ctx context.Context, t Transitioner, msg pm.Message, dwell time.Duration) error {
	if err := t.BeginSuspend(ctx, msg); err != nil {
		return fmt.Errorf("begin suspend: %w", err)
	}

	if err := t.SuspendLate(ctx, msg); err != nil {
		rmsg := msg.ResumeMessage()
		return errors.Join(
			fmt.Errorf("suspend late: %w", err),
			wrap("finish resume ("+rmsg.String()+")", t.FinishResume(ctx, rmsg)),
		)
	}

	if dwell > 0 {
		timer := time.NewTimer(dwell)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	wake := msg.WakeMessage()
	return errors.Join(
		wrap("resume early", t.ResumeEarly(ctx, wake)),
		wrap("finish resume", t.FinishResume(ctx, wake)),
	)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
