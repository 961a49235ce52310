package pm

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// resume walks the registry front to back. Every suspended device is
// re-armed and the async ones dispatched before the walk starts, so a
// device only ever waits on a parent that is already accounted for.
// Failures never stop the walk.
func (c *Controller) resume(ctx context.Context, msg Message) error {
	start := time.Now()
	r := c.reg

	var (
		errMu sync.Mutex
		errs  []error
	)
	record := func(err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	var wg conc.WaitGroup
	done := list.New()

	allowAsync := c.asyncAllowed()
	r.mu.Lock()
	dispatched := make(map[*Device]bool)
	var async []*Device
	for e := r.devices.Front(); e != nil; e = e.Next() {
		dev := e.Value.(*Device)
		if dev.status < StatusOff {
			continue
		}
		dev.completion.Rearm()
		if allowAsync && dev.async {
			dispatched[dev] = true
			async = append(async, dev)
		}
	}
	for _, dev := range async {
		wg.Go(func() {
			if err := c.resumeDevice(ctx, dev, msg, true); err != nil {
				record(err)
			}
		})
	}

	for r.devices.Len() > 0 {
		dev := r.devices.Front().Value.(*Device)
		r.relocate(dev, done, false)
		if dispatched[dev] {
			continue
		}
		switch {
		case dev.status >= StatusOff:
			r.mu.Unlock()
			if err := c.resumeDevice(ctx, dev, msg, false); err != nil {
				record(err)
			}
			r.mu.Lock()
		case dev.status == StatusSuspending:
			// Prepared but never suspended.
			dev.status = StatusResuming
		}
	}
	r.spliceFront(done)
	r.mu.Unlock()

	wg.Wait()
	c.reportPhase(PhaseResume, msg, start)
	return errors.Join(errs...)
}

// resumeDevice resumes one device after its parent. Its completion is
// signaled on every path.
func (c *Controller) resumeDevice(ctx context.Context, dev *Device, msg Message, async bool) error {
	defer dev.completion.Signal()

	if parent := dev.Parent(); parent != nil {
		if err := c.wait(ctx, parent, async); err != nil {
			return err
		}
	}

	c.reg.setStatus(dev, StatusResuming)
	return c.runner.run(ctx, dev, PhaseResume, msg)
}
