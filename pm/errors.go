package pm

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBusy is returned by a prepare callback to ask for the device to be
	// left alone for this transition. It is tolerated in prepare only.
	ErrBusy = errors.New("pm: device busy, retry later")

	// ErrWakeupPending is reported when a device asked for a wakeup while
	// the transition was being prepared. It is handled like ErrBusy.
	ErrWakeupPending = errors.New("pm: wakeup requested during transition")

	// ErrInvalidMessage is returned when an operation is given a message it
	// cannot carry out.
	ErrInvalidMessage = errors.New("pm: invalid message")

	// ErrNotRegistered is returned for devices that are not in the registry.
	ErrNotRegistered = errors.New("pm: device not registered")

	// ErrAlreadyRegistered is returned when registering a device twice or
	// reusing a device name.
	ErrAlreadyRegistered = errors.New("pm: device already registered")

	// ErrParentNotRegistered is returned when a device names a parent that
	// is not in the registry.
	ErrParentNotRegistered = errors.New("pm: parent not registered")

	// ErrHasChildren is returned when unregistering a device whose children
	// are still registered.
	ErrHasChildren = errors.New("pm: device has registered children")

	// ErrOrderViolation is returned when a reposition would put a device
	// ahead of its parent or behind one of its children.
	ErrOrderViolation = errors.New("pm: move violates dependency order")
)

// CallbackError is returned when a device callback fails. The driver's error
// is kept verbatim and is reachable through errors.Is and errors.As.
type CallbackError struct {
	Device  string
	Phase   Phase
	Tier    Tier
	Legacy  bool
	Elapsed time.Duration
	Err     error
}

func (e *CallbackError) Error() string {
	kind := e.Tier.String()
	if e.Legacy {
		kind = "legacy " + kind
	}
	return fmt.Sprintf("device %s failed to %s (%s): %v", e.Device, e.Phase, kind, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Fault describes a watchdog expiry. It is handed to the fatal handler and
// is never returned from a phase.
type Fault struct {
	Device   string
	Driver   string
	Phase    Phase
	Deadline time.Duration
	// Stack holds the stacks of all goroutines at the time of expiry.
	Stack []byte
}

func (f *Fault) Error() string {
	driver := f.Driver
	if driver == "" {
		driver = "no driver"
	}
	return fmt.Sprintf("device %s (%s) did not %s within %s", f.Device, driver, f.Phase, f.Deadline)
}
