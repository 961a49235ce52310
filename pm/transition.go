package pm

import "sync/atomic"

// transition is the state of the transition in progress, if any.
type transition struct {
	// active is set from the start of prepare until complete begins.
	// Guarded by Registry.mu.
	active bool

	// message is the message of the most recent phase. Guarded by
	// Controller.opMu.
	message Message

	// asyncFault is the first error reported by an async device during
	// the current suspend phase. Later reports are dropped.
	asyncFault atomic.Pointer[error]
}

func (t *transition) reportAsyncFault(err error) {
	t.asyncFault.CompareAndSwap(nil, &err)
}

func (t *transition) fault() error {
	if p := t.asyncFault.Load(); p != nil {
		return *p
	}
	return nil
}

func (t *transition) resetFault() {
	t.asyncFault.Store(nil)
}
