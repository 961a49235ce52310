package logging

import (
	"log/slog"
)

// DeviceKey is the attribute every device logger carries.
const DeviceKey = "device"

// LoggerHook derives the logger handed to a device's callbacks from the
// controller's logger. It lets the controller stay unaware of log capture.
type LoggerHook interface {
	LoggerForDevice(base *slog.Logger, device string) *slog.Logger
}

// CapturingLoggerHook creates device loggers whose records are also kept
// in a LogCollector.
type CapturingLoggerHook struct {
	collector *LogCollector
}

// NewCapturingLoggerHook creates a hook that captures all device logs.
func NewCapturingLoggerHook(collector *LogCollector) LoggerHook {
	return &CapturingLoggerHook{
		collector: collector,
	}
}

// LoggerForDevice wraps base in a CapturingHandler for device and tags
// every record with the device name.
func (p *CapturingLoggerHook) LoggerForDevice(base *slog.Logger, device string) *slog.Logger {
	h := NewCapturingHandler(base.Handler(), p.collector, device)
	return slog.New(h).With(DeviceKey, device)
}
