package pm

import (
	"fmt"
	"strings"
)

// Phase is one of the six callback stages of a transition.
type Phase int

const (
	PhasePrepare Phase = iota
	PhaseSuspend
	PhaseSuspendLate
	PhaseResumeEarly
	PhaseResume
	PhaseComplete

	phaseCount = iota
)

var phaseNames = [phaseCount]string{
	PhasePrepare:     "prepare",
	PhaseSuspend:     "suspend",
	PhaseSuspendLate: "suspend_late",
	PhaseResumeEarly: "resume_early",
	PhaseResume:      "resume",
	PhaseComplete:    "complete",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= phaseCount {
		return "unknown"
	}
	return phaseNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePhase converts a phase name (as returned by String) to a Phase.
func ParsePhase(s string) (Phase, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Tier is the level of the capability bundle a callback comes from.
type Tier int

const (
	TierClass Tier = iota
	TierType
	TierBus
)

func (t Tier) String() string {
	switch t {
	case TierClass:
		return "class"
	case TierType:
		return "type"
	case TierBus:
		return "bus"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseTier converts a tier name (as returned by String) to a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "class":
		return TierClass, nil
	case "type":
		return TierType, nil
	case "bus":
		return TierBus, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}
