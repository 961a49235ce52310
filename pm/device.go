package pm

import (
	"container/list"
	"log/slog"
	"sync/atomic"
)

// Device is the power management record of one managed device.
//
// The owning driver registry creates the Device and decides its callbacks
// and async flag. Once registered, status, position and completion are
// owned by the Registry.
type Device struct {
	name          string
	driver        string
	callbacks     Callbacks
	plan          plan
	async         bool
	wakeupPending func() bool

	completion *Completion
	usage      atomic.Int32
	logger     *slog.Logger

	reg atomic.Pointer[Registry]

	// Guarded by Registry.mu.
	parent   *Device
	children []*Device
	status   Status
	elem     *list.Element
	owner    *list.List
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithDriver names the driver bound to the device. It is used in logs and
// watchdog reports.
func WithDriver(name string) DeviceOption {
	return func(d *Device) {
		d.driver = name
	}
}

// WithAsync marks the device as safe to transition on its own goroutine.
// It is honored only when async transitions are enabled on the controller
// and no trace is active.
func WithAsync(async bool) DeviceOption {
	return func(d *Device) {
		d.async = async
	}
}

// WithWakeupPending installs a predicate consulted before the device is
// prepared. A true result skips the device for this transition.
func WithWakeupPending(f func() bool) DeviceOption {
	return func(d *Device) {
		d.wakeupPending = f
	}
}

// NewDevice creates an unregistered device with the given callbacks.
// The dispatch plan is resolved once, here.
func NewDevice(name string, cbs Callbacks, opts ...DeviceOption) *Device {
	d := &Device{
		name:       name,
		callbacks:  cbs,
		plan:       resolvePlan(cbs),
		completion: NewCompletion(),
		status:     StatusOn,
		logger:     slog.Default().With("device", name),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Driver returns the driver name, if any.
func (d *Device) Driver() string {
	return d.driver
}

// AsyncEligible reports whether the driver opted in to async transitions.
func (d *Device) AsyncEligible() bool {
	return d.async
}

// Completion returns the device's completion signal.
func (d *Device) Completion() *Completion {
	return d.completion
}

// Logger returns the device-scoped logger. Callbacks should log through it
// so their output is attributed to the device.
func (d *Device) Logger() *slog.Logger {
	return d.logger
}

// UsageCount returns the reference count taken in prepare and released in
// complete.
func (d *Device) UsageCount() int32 {
	return d.usage.Load()
}

// Parent returns the dependency parent, or nil.
func (d *Device) Parent() *Device {
	r := d.reg.Load()
	if r == nil {
		return d.parent
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return d.parent
}

// Status returns the current power management status.
func (d *Device) Status() Status {
	r := d.reg.Load()
	if r == nil {
		return d.status
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return d.status
}

func (d *Device) getUsage() {
	d.usage.Add(1)
}

// putUsage drops one usage reference without going below zero.
func (d *Device) putUsage() {
	for {
		n := d.usage.Load()
		if n <= 0 {
			return
		}
		if d.usage.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// DeviceInfo is a point-in-time view of a registered device.
type DeviceInfo struct {
	Name     string `json:"name"`
	Driver   string `json:"driver,omitempty"`
	Parent   string `json:"parent,omitempty"`
	Status   Status `json:"status"`
	Async    bool   `json:"async"`
	Usage    int32  `json:"usage"`
	Position int    `json:"position"`
}
