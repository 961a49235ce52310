package pm

import (
	"context"
	"fmt"
	"strings"
)

// Message identifies the system transition being carried out. It decides
// which recovery path is taken when a transition fails.
type Message int

const (
	MsgOn Message = iota
	MsgSuspend
	MsgResume
	MsgFreeze
	MsgQuiesce
	MsgHibernate
	MsgThaw
	MsgRestore
	MsgRecover
)

// String returns the verb used for the message in log output.
func (m Message) String() string {
	switch m {
	case MsgOn:
		return "on"
	case MsgSuspend:
		return "suspend"
	case MsgResume:
		return "resume"
	case MsgFreeze:
		return "freeze"
	case MsgQuiesce:
		return "quiesce"
	case MsgHibernate:
		return "hibernate"
	case MsgThaw:
		return "thaw"
	case MsgRestore:
		return "restore"
	case MsgRecover:
		return "recover"
	default:
		return "(unknown PM event)"
	}
}

// IsSleep reports whether m takes devices down.
func (m Message) IsSleep() bool {
	switch m {
	case MsgSuspend, MsgFreeze, MsgQuiesce, MsgHibernate:
		return true
	}
	return false
}

// IsWake reports whether m brings devices back up.
func (m Message) IsWake() bool {
	switch m {
	case MsgResume, MsgThaw, MsgRestore, MsgRecover:
		return true
	}
	return false
}

// ResumeMessage returns the message used to unwind a failed sleep
// transition. Messages that are not sleep messages map to MsgOn.
func (m Message) ResumeMessage() Message {
	switch m {
	case MsgSuspend:
		return MsgResume
	case MsgFreeze, MsgQuiesce:
		return MsgRecover
	case MsgHibernate:
		return MsgRestore
	}
	return MsgOn
}

// WakeMessage returns the message that ends a successful sleep transition.
func (m Message) WakeMessage() Message {
	switch m {
	case MsgSuspend:
		return MsgResume
	case MsgFreeze, MsgQuiesce:
		return MsgThaw
	case MsgHibernate:
		return MsgRestore
	}
	return MsgOn
}

// MarshalText implements encoding.TextMarshaler.
func (m Message) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMessage converts a message name (as returned by String) to a Message.
func ParseMessage(s string) (Message, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return MsgOn, nil
	case "suspend":
		return MsgSuspend, nil
	case "resume":
		return MsgResume, nil
	case "freeze":
		return MsgFreeze, nil
	case "quiesce":
		return MsgQuiesce, nil
	case "hibernate":
		return MsgHibernate, nil
	case "thaw":
		return MsgThaw, nil
	case "restore":
		return MsgRestore, nil
	case "recover":
		return MsgRecover, nil
	}
	return MsgOn, fmt.Errorf("%w: %q", ErrInvalidMessage, s)
}

type messageKey struct{}

func contextWithMessage(ctx context.Context, msg Message) context.Context {
	return context.WithValue(ctx, messageKey{}, msg)
}

// MessageFromContext returns the message of the transition a callback is
// running for. Structured callbacks use it to tell, for example, a freeze
// from a suspend.
func MessageFromContext(ctx context.Context) (Message, bool) {
	msg, ok := ctx.Value(messageKey{}).(Message)
	return msg, ok
}
