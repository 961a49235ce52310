package pm

import (
	"encoding/json"
	"fmt"
)

// Status is the power management state of a single device.
//
// The numeric order matters: phases select the devices they operate on by
// comparing against it (resume handles everything at StatusOff or deeper,
// complete handles everything above StatusOn).
type Status int

const (
	// StatusOn is the initial and final state of every device.
	StatusOn Status = iota

	// StatusPreparing is set while the prepare callbacks run.
	StatusPreparing

	// StatusResuming is set once the resume phase has reached the device.
	StatusResuming

	// StatusSuspending means the device is prepared and may be suspended.
	StatusSuspending

	// StatusOff means the suspend callbacks completed successfully.
	StatusOff

	// StatusSuspendedLate means the no-interrupt suspend callbacks completed.
	StatusSuspendedLate
)

// String returns a human-readable representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusOn:
		return "on"
	case StatusPreparing:
		return "preparing"
	case StatusResuming:
		return "resuming"
	case StatusSuspending:
		return "suspending"
	case StatusOff:
		return "off"
	case StatusSuspendedLate:
		return "suspended_late"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st := StatusOn; st <= StatusSuspendedLate; st++ {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", name)
}
