package pm

import (
	"container/list"
	"context"
	"errors"
	"time"
)

// complete walks the registry back to front, returns every device that
// took part in the transition to StatusOn and releases the usage reference
// taken in prepare. It ends the transition.
func (c *Controller) complete(ctx context.Context, msg Message) error {
	start := time.Now()
	r := c.reg
	done := list.New()
	var errs []error

	r.mu.Lock()
	c.tr.active = false
	for r.devices.Len() > 0 {
		dev := r.devices.Back().Value.(*Device)
		r.relocate(dev, done, true)
		if dev.status <= StatusOn {
			continue
		}
		dev.status = StatusOn
		r.mu.Unlock()

		if err := c.runner.run(ctx, dev, PhaseComplete, msg); err != nil {
			errs = append(errs, err)
		}
		dev.putUsage()

		r.mu.Lock()
	}
	r.repairOrder(done)
	r.spliceFront(done)
	r.mu.Unlock()

	c.reportPhase(PhaseComplete, msg, start)
	return errors.Join(errs...)
}
