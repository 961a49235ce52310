package runner

import (
	"fmt"
	"time"

	"github.com/nomis52/dpm/logging"
	"github.com/nomis52/dpm/pm"
)

// RunState represents the current state of a cycle run.
type RunState int

const (
	// RunStateIdle indicates no cycle is running.
	RunStateIdle RunState = iota
	// RunStateRunning indicates a cycle is in progress.
	RunStateRunning
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	switch s {
	case RunStateIdle:
		return "idle"
	case RunStateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RunState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = RunStateIdle
	case "running":
		*s = RunStateRunning
	default:
		return fmt.Errorf("unknown run state %q", text)
	}
	return nil
}

// RunStatus contains information about the current or last run.
type RunStatus struct {
	// ID identifies the run. Empty if no run has occurred.
	ID string `json:"id,omitempty"`
	// State is the current state of the run.
	State RunState `json:"state"`
	// Message is the sleep message the cycle started with.
	Message string `json:"message,omitempty"`
	// StartedAt is when the run started. Nil if no run has occurred.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// EndedAt is when the run ended. Nil if run is in progress or no run has occurred.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// Error contains the error message if the run failed. Empty on success.
	Error string `json:"error,omitempty"`
	// Devices is the state of every device, with the log lines it produced
	// during the run.
	Devices []DeviceResult `json:"devices,omitempty"`
}

// DeviceResult is one device's view of a run.
type DeviceResult struct {
	pm.DeviceInfo
	Logs []logging.LogEntry `json:"logs,omitempty"`
}
