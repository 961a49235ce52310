// Package handlers provides HTTP handlers for the pmctl server.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports.
package handlers

import (
	"time"

	"github.com/nomis52/dpm/config"
	"github.com/nomis52/dpm/logging"
	"github.com/nomis52/dpm/pm"
	"github.com/nomis52/dpm/server/runner"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// DeviceProvider lists the registered devices.
type DeviceProvider interface {
	Devices() []pm.DeviceInfo
}

// LogProvider returns the captured log lines of a device.
type LogProvider interface {
	GetLogs(device string) []logging.LogEntry
}

// CycleRunner can start power cycles.
type CycleRunner interface {
	Run() error
	RunWith(msg pm.Message) error
}

// HistoryProvider provides access to run history.
type HistoryProvider interface {
	History() []runner.RunStatus
	HistoryRun(id string) (runner.RunStatus, bool)
}

// StatusProvider aggregates what the status endpoint reports.
type StatusProvider interface {
	Status() runner.RunStatus
	InTransition() bool
	NextRun() (time.Time, pm.Message, bool)
}
