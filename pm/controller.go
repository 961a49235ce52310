package pm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nomis52/dpm/logging"
)

// Platform is the interrupt control the controller needs around the
// suspend-late and resume-early phases.
type Platform interface {
	DisableInterrupts()
	EnableInterrupts()
}

type nopPlatform struct{}

func (nopPlatform) DisableInterrupts() {}
func (nopPlatform) EnableInterrupts()  {}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the logger for the controller and the base of every
// device logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger.With("component", "pm")
	}
}

// WithAsyncTransitions enables or disables async transitions globally.
// Enabled by default.
func WithAsyncTransitions(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.asyncEnabled = enabled
	}
}

// WithTraceActive installs a predicate that forces every device to run
// synchronously while it returns true.
func WithTraceActive(f func() bool) ControllerOption {
	return func(c *Controller) {
		c.traceActive = f
	}
}

// WithInitcallDebug logs every callback invocation and its result.
func WithInitcallDebug(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.initcallDebug = enabled
	}
}

// WithWatchdogTimeout overrides DefaultWatchdogTimeout.
func WithWatchdogTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.watchdogTimeout = d
	}
}

// WithFatalHandler replaces the handler run on watchdog expiry.
func WithFatalHandler(h FatalHandler) ControllerOption {
	return func(c *Controller) {
		c.fatal = h
	}
}

// WithPlatform sets the interrupt control. Without it interrupt control is
// a no-op.
func WithPlatform(p Platform) ControllerOption {
	return func(c *Controller) {
		c.platform = p
	}
}

// WithMetrics records transition metrics.
func WithMetrics(m *Metrics) ControllerOption {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithDeviceLoggers derives each device's logger through hook, for example
// to capture per-device logs.
func WithDeviceLoggers(hook logging.LoggerHook) ControllerOption {
	return func(c *Controller) {
		c.loggerHook = hook
	}
}

// Controller drives power transitions over its registry of devices.
//
// The four transition operations are serialized with each other. Register,
// Unregister and Reposition may be called at any time, including from
// inside device callbacks.
type Controller struct {
	opMu sync.Mutex

	reg      *Registry
	tr       transition
	runner   runner
	watchdog *Watchdog

	logger          *slog.Logger
	loggerHook      logging.LoggerHook
	platform        Platform
	metrics         *Metrics
	asyncEnabled    bool
	traceActive     func() bool
	initcallDebug   bool
	watchdogTimeout time.Duration
	fatal           FatalHandler
}

// NewController creates a Controller with an empty registry.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		logger:       slog.Default().With("component", "pm"),
		platform:     nopPlatform{},
		asyncEnabled: true,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.reg = newRegistry(&c.tr, c.logger, c.loggerHook)
	c.reg.onSizeChange = c.metrics.registered
	c.runner = runner{logger: c.logger, debug: c.initcallDebug, metrics: c.metrics}
	c.watchdog = NewWatchdog(c.watchdogTimeout, c.fatal, c.logger)
	return c
}

// Registry returns the controller's device registry.
func (c *Controller) Registry() *Registry {
	return c.reg
}

// Register adds dev to the end of the registry. parent must already be
// registered, or be nil.
func (c *Controller) Register(dev, parent *Device) error {
	return c.reg.add(dev, parent)
}

// Unregister removes dev once any transition work on it has finished.
// Its children must already have been removed.
func (c *Controller) Unregister(ctx context.Context, dev *Device) error {
	return c.reg.remove(ctx, dev)
}

// Reposition moves dev relative to anchor. For ToTail the anchor is
// ignored and dev is moved together with its descendants.
func (c *Controller) Reposition(dev *Device, where Where, anchor *Device) error {
	c.reg.Lock()
	defer c.reg.Unlock()

	switch where {
	case Before:
		return c.reg.MoveBefore(dev, anchor)
	case After:
		return c.reg.MoveAfter(dev, anchor)
	case ToTail:
		return c.reg.MoveToTail(dev)
	}
	return fmt.Errorf("unknown reposition %d", where)
}

// WaitFor blocks until other has finished its current transition step.
// A callback of waiter uses it to depend on a device other than its
// parent or children. It returns immediately when neither device is
// transitioning asynchronously.
func (c *Controller) WaitFor(ctx context.Context, waiter, other *Device) error {
	return c.wait(ctx, other, c.isAsync(waiter))
}

// Devices returns a snapshot of every registered device in sequence order.
func (c *Controller) Devices() []DeviceInfo {
	allowAsync := c.asyncAllowed()
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	var out []DeviceInfo
	for i, dev := range c.reg.snapshotLocked() {
		out = append(out, DeviceInfo{
			Name:     dev.name,
			Driver:   dev.driver,
			Parent:   nameOf(dev.parent),
			Status:   dev.status,
			Async:    allowAsync && dev.async,
			Usage:    dev.usage.Load(),
			Position: i,
		})
	}
	return out
}

// InTransition reports whether a suspend has started and complete has not
// yet begun.
func (c *Controller) InTransition() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.tr.active
}

// BeginSuspend prepares every device and then suspends them, children
// before parents. msg must be a sleep message.
//
// On failure every device already touched is resumed and completed with
// msg.ResumeMessage() before the first error is returned, so the caller
// does not call FinishResume.
func (c *Controller) BeginSuspend(ctx context.Context, msg Message) error {
	if !msg.IsSleep() {
		return fmt.Errorf("%w: %s cannot begin a suspend", ErrInvalidMessage, msg)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.tr.message = msg

	err := c.prepare(ctx, msg)
	if err == nil {
		err = c.suspend(ctx, msg)
	}
	if err != nil {
		rmsg := msg.ResumeMessage()
		c.logger.Error("suspend aborted, resuming devices", "message", msg, "recovery", rmsg, "error", err)
		c.tr.message = rmsg
		rctx := context.WithoutCancel(ctx)
		if rerr := errors.Join(c.resume(rctx, rmsg), c.complete(rctx, rmsg)); rerr != nil {
			c.logger.Warn("errors while recovering from failed suspend", "error", rerr)
		}
	}

	c.metrics.operationDone("begin_suspend", err)
	return err
}

// SuspendLate runs the suspend-late callbacks, children before parents,
// with interrupts disabled. On failure the devices already handled are
// brought back through resume-early and interrupts are re-enabled.
func (c *Controller) SuspendLate(ctx context.Context, msg Message) error {
	if !msg.IsSleep() {
		return fmt.Errorf("%w: %s cannot suspend devices", ErrInvalidMessage, msg)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.tr.message = msg

	err := c.suspendLate(ctx, msg)
	c.metrics.operationDone("suspend_late", err)
	return err
}

// ResumeEarly runs the resume-early callbacks, parents before children,
// and re-enables interrupts. Failures are logged and returned joined; they
// never stop the phase.
func (c *Controller) ResumeEarly(ctx context.Context, msg Message) error {
	if !msg.IsWake() {
		return fmt.Errorf("%w: %s cannot resume devices", ErrInvalidMessage, msg)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.tr.message = msg

	err := c.resumeEarly(context.WithoutCancel(ctx), msg)
	c.metrics.operationDone("resume_early", err)
	return err
}

// FinishResume resumes every suspended device, parents before children,
// and then runs complete on every prepared device. It always visits every
// device; failures are logged and returned joined. Calling it again with
// nothing suspended is harmless.
func (c *Controller) FinishResume(ctx context.Context, msg Message) error {
	if !msg.IsWake() {
		return fmt.Errorf("%w: %s cannot resume devices", ErrInvalidMessage, msg)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.tr.message = msg

	rctx := context.WithoutCancel(ctx)
	err := errors.Join(c.resume(rctx, msg), c.complete(rctx, msg))
	c.metrics.operationDone("finish_resume", err)
	return err
}

// isAsync reports whether dev transitions on its own goroutine.
func (c *Controller) isAsync(dev *Device) bool {
	return dev != nil && dev.async && c.asyncAllowed()
}

// asyncAllowed evaluates the global switch and the trace predicate. Callers
// holding the registry lock evaluate it before taking the lock.
func (c *Controller) asyncAllowed() bool {
	if !c.asyncEnabled {
		return false
	}
	return c.traceActive == nil || !c.traceActive()
}

// wait blocks on dev's completion when either side runs asynchronously.
// Between two synchronous devices list order already guarantees dev is
// done.
func (c *Controller) wait(ctx context.Context, dev *Device, async bool) error {
	if dev == nil {
		return nil
	}
	if !async && !c.isAsync(dev) {
		return nil
	}
	return dev.completion.Wait(ctx)
}

func (c *Controller) waitForChildren(ctx context.Context, dev *Device, async bool) error {
	c.reg.mu.Lock()
	children := append([]*Device(nil), dev.children...)
	c.reg.mu.Unlock()

	for _, child := range children {
		if err := c.wait(ctx, child, async); err != nil {
			return fmt.Errorf("waiting for child %s: %w", child.name, err)
		}
	}
	return nil
}

// reportPhase logs and records how long a phase took.
func (c *Controller) reportPhase(phase Phase, msg Message, start time.Time) {
	elapsed := time.Since(start)
	c.logger.Info(phase.String()+" of devices complete", "message", msg, "elapsed", elapsed)
	c.metrics.phaseDone(phase, msg, elapsed)
}
