package pm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletion_StartsSignaled(t *testing.T) {
	c := NewCompletion()
	assert.True(t, c.Signaled())
	assert.NoError(t, c.Wait(context.Background()))
}

func TestCompletion_RearmBlocksWaiters(t *testing.T) {
	c := NewCompletion()
	c.Rearm()
	assert.False(t, c.Signaled())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
}

func TestCompletion_SignalReleasesAllWaiters(t *testing.T) {
	c := NewCompletion()
	c.Rearm()

	const waiters = 5
	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			errs <- c.Wait(ctx)
		}()
	}

	c.Signal()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestCompletion_RepeatedCallsAreHarmless(t *testing.T) {
	c := NewCompletion()
	c.Signal()
	c.Signal()
	assert.True(t, c.Signaled())

	c.Rearm()
	c.Rearm()
	assert.False(t, c.Signaled())

	c.Signal()
	assert.True(t, c.Signaled())
}

func TestCompletion_DoneBelongsToArming(t *testing.T) {
	c := NewCompletion()
	c.Rearm()
	first := c.Done()
	c.Signal()

	select {
	case <-first:
	default:
		require.Fail(t, "channel of the signaled arming should be closed")
	}

	c.Rearm()
	select {
	case <-first:
	default:
		require.Fail(t, "rearming must not reopen an old channel")
	}
	assert.False(t, c.Signaled())
}
