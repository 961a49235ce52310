// Package pm orchestrates whole-machine power transitions across an ordered,
// dynamically changing set of devices.
//
// Devices are registered with a Controller in depth-first discovery order
// (a device's dependency parent is always registered first). Each device
// carries a bundle of lifecycle callbacks resolved across three tiers
// (class, type and bus). The Controller walks the registry phase by phase:
//
//	BeginSuspend:  prepare (forward)       -> suspend (reverse)
//	SuspendLate:   suspend-late (reverse, interrupts disabled)
//	ResumeEarly:   resume-early (forward, interrupts re-enabled at the end)
//	FinishResume:  resume (forward)        -> complete (reverse)
//
// # Ordering
//
// A device suspends only after all of its children have finished suspending
// and resumes only after its parent has finished resuming. The ordering is
// enforced by each device's Completion signal rather than by scheduling
// order, so devices flagged as async run on their own goroutines while the
// controller moves on to the next device.
//
// # Failure handling
//
//   - A device returning ErrBusy (or one with a pending wakeup) during
//     prepare is skipped and left at StatusOn.
//   - Any other failure during prepare or suspend aborts the phase and the
//     controller unwinds: everything already touched is resumed and
//     completed with the matching recovery message.
//   - Resume never aborts. Each device's error is logged and returned to
//     the caller joined with the others.
//   - A suspend callback that does not return within the watchdog deadline
//     is fatal. The default fatal handler dumps every goroutine stack and
//     exits the process.
//
// # Example
//
//	ctrl := pm.NewController(
//		pm.WithLogger(logger),
//		pm.WithPlatform(platform),
//	)
//	disk := pm.NewDevice("sda", pm.Callbacks{Bus: &pm.TierOps{PM: &pm.Ops{
//		Suspend: func(ctx context.Context, dev *pm.Device) error { return flushCache() },
//	}}}, pm.WithAsync(true))
//	if err := ctrl.Register(disk, controllerDev); err != nil {
//		return err
//	}
//	if err := ctrl.BeginSuspend(ctx, pm.MsgSuspend); err != nil {
//		return err // devices have already been rolled back
//	}
package pm
