package pm

import (
	"container/list"
	"context"
	"errors"
	"time"
)

// prepare walks the registry front to back and runs each device's prepare
// callbacks. Busy devices are skipped and left at StatusOn. Any other
// failure stops the walk.
func (c *Controller) prepare(ctx context.Context, msg Message) error {
	start := time.Now()
	r := c.reg
	prepared := list.New()
	var err error

	r.mu.Lock()
	c.tr.active = true
	for r.devices.Len() > 0 {
		dev := r.devices.Front().Value.(*Device)
		dev.status = StatusPreparing
		r.mu.Unlock()

		derr := c.prepareDevice(ctx, dev, msg)

		r.mu.Lock()
		if derr != nil {
			dev.status = StatusOn
			if errors.Is(derr, ErrBusy) || errors.Is(derr, ErrWakeupPending) {
				dev.logger.Info("device busy, skipping for this transition", "message", msg, "error", derr)
				r.relocate(dev, prepared, false)
				continue
			}
			err = derr
			break
		}
		dev.status = StatusSuspending
		r.relocate(dev, prepared, false)
	}
	r.spliceFront(prepared)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	c.reportPhase(PhasePrepare, msg, start)
	return nil
}

func (c *Controller) prepareDevice(ctx context.Context, dev *Device, msg Message) error {
	dev.getUsage()
	var err error
	if dev.wakeupPending != nil && dev.wakeupPending() {
		err = ErrWakeupPending
	} else {
		err = c.runner.run(ctx, dev, PhasePrepare, msg)
	}
	if err != nil {
		dev.putUsage()
	}
	return err
}
