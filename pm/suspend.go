package pm

import (
	"container/list"
	"context"
	"time"

	"github.com/sourcegraph/conc"
)

// suspend walks the registry back to front. Each device waits for its
// children before its callbacks run, so async devices are dispatched and
// the walk moves on immediately. The first failure, sync or async, stops
// the walk; async work already dispatched is always waited for.
func (c *Controller) suspend(ctx context.Context, msg Message) error {
	start := time.Now()
	r := c.reg
	c.tr.resetFault()

	var wg conc.WaitGroup
	done := list.New()
	var err error
	allowAsync := c.asyncAllowed()

	r.mu.Lock()
	for r.devices.Len() > 0 {
		dev := r.devices.Back().Value.(*Device)
		r.relocate(dev, done, true)
		if dev.status != StatusSuspending {
			continue
		}
		dev.completion.Rearm()
		async := allowAsync && dev.async
		r.mu.Unlock()

		if async {
			wg.Go(func() {
				_ = c.suspendDevice(ctx, dev, msg, true)
			})
		} else {
			err = c.suspendDevice(ctx, dev, msg, false)
		}

		r.mu.Lock()
		if err != nil || c.tr.fault() != nil {
			break
		}
	}
	r.repairOrder(done)
	r.spliceBack(done)
	r.mu.Unlock()

	wg.Wait()

	if err == nil {
		err = c.tr.fault()
	}
	if err != nil {
		return err
	}
	c.reportPhase(PhaseSuspend, msg, start)
	return nil
}

// suspendDevice suspends one device. Its completion is signaled on every
// path so parents waiting on it are never stranded.
func (c *Controller) suspendDevice(ctx context.Context, dev *Device, msg Message, async bool) (err error) {
	defer dev.completion.Signal()
	defer func() {
		if err != nil {
			c.tr.reportAsyncFault(err)
		}
	}()

	if err := c.waitForChildren(ctx, dev, async); err != nil {
		return err
	}

	wd := c.watchdog.Arm(dev, PhaseSuspend)
	defer wd.Disarm()

	if c.tr.fault() != nil {
		return nil
	}
	if err := c.runner.run(ctx, dev, PhaseSuspend, msg); err != nil {
		return err
	}
	c.reg.setStatus(dev, StatusOff)
	return nil
}
