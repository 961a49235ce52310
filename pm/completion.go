package pm

import (
	"context"
	"sync"
)

// Completion is a broadcast, re-armable signal. A signaled Completion
// releases every waiter at once and stays signaled until re-armed.
//
// The zero value is not usable; create one with NewCompletion.
type Completion struct {
	mu sync.Mutex
	ch chan struct{} // closed while signaled
}

// NewCompletion returns a Completion in the signaled state.
func NewCompletion() *Completion {
	ch := make(chan struct{})
	close(ch)
	return &Completion{ch: ch}
}

// Rearm clears the signal. It is a no-op if the Completion is already
// unsignaled.
func (c *Completion) Rearm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ch:
		c.ch = make(chan struct{})
	default:
	}
}

// Signal marks the Completion signaled and wakes all waiters. Signaling
// twice is harmless.
func (c *Completion) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ch:
	default:
		close(c.ch)
	}
}

// Done returns a channel that is closed once the Completion is signaled.
// The channel belongs to the current arming; a later Rearm does not reopen it.
func (c *Completion) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

// Signaled reports whether the Completion is currently signaled.
func (c *Completion) Signaled() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Wait blocks until the Completion is signaled or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
