package pm

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// DefaultWatchdogTimeout bounds how long one device may take to suspend.
const DefaultWatchdogTimeout = 12 * time.Second

// FatalHandler is called when a device exceeds its watchdog deadline. The
// default handler exits the process.
type FatalHandler func(f *Fault)

// Watchdog detects devices that hang while suspending.
type Watchdog struct {
	timeout time.Duration
	fatal   FatalHandler
	logger  *slog.Logger
}

// NewWatchdog creates a Watchdog. A zero timeout selects
// DefaultWatchdogTimeout and a nil handler selects the exiting default.
func NewWatchdog(timeout time.Duration, fatal FatalHandler, logger *slog.Logger) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watchdog{timeout: timeout, fatal: fatal, logger: logger}
	if w.fatal == nil {
		w.fatal = w.exit
	}
	return w
}

// Timeout returns the deadline applied to each device.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// WatchdogHandle is an armed deadline for one device.
type WatchdogHandle struct {
	timer *time.Timer
	once  sync.Once
}

// Arm starts the deadline for dev in phase.
func (w *Watchdog) Arm(dev *Device, phase Phase) *WatchdogHandle {
	h := &WatchdogHandle{}
	h.timer = time.AfterFunc(w.timeout, func() {
		h.once.Do(func() {
			w.expire(dev, phase)
		})
	})
	return h
}

// Disarm cancels the deadline. The fatal handler may still run if it had
// already started.
func (h *WatchdogHandle) Disarm() {
	if h == nil {
		return
	}
	h.timer.Stop()
}

func (w *Watchdog) expire(dev *Device, phase Phase) {
	f := &Fault{
		Device:   dev.name,
		Driver:   dev.driver,
		Phase:    phase,
		Deadline: w.timeout,
		Stack:    allStacks(),
	}
	w.logger.Error("watchdog expired", "device", f.Device, "driver", f.Driver, "phase", phase, "deadline", w.timeout)
	w.fatal(f)
}

func (w *Watchdog) exit(f *Fault) {
	fmt.Fprintf(os.Stderr, "dpm: %v\n\n%s\n", f, f.Stack)
	os.Exit(2)
}

// allStacks returns the stacks of every goroutine, growing the buffer
// until the dump fits.
func allStacks() []byte {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}
