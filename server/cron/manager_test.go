package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/dpm/pm"
)

type recordingRunner struct {
	mu   sync.Mutex
	msgs []pm.Message
}

func (r *recordingRunner) RunWith(msg pm.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestNewCronTriggerManager(t *testing.T) {
	m, err := NewCronTriggerManager("0 2 * * *;hibernate:0 3 * * 0", pm.MsgSuspend, &recordingRunner{}, quietLogger())
	require.NoError(t, err)
	assert.Len(t, m.triggers, 2)
	assert.Equal(t, pm.MsgHibernate, m.specs[1].Message)
}

func TestNewCronTriggerManager_InvalidSpec(t *testing.T) {
	for _, spec := range []string{"", "nap:0 2 * * *", "0 2 *"} {
		t.Run(spec, func(t *testing.T) {
			m, err := NewCronTriggerManager(spec, pm.MsgSuspend, &recordingRunner{}, quietLogger())
			assert.Error(t, err)
			assert.Nil(t, m)
		})
	}
}

func TestCronTriggerManager_NextRun(t *testing.T) {
	// Every minute fires before a daily schedule.
	m, err := NewCronTriggerManager("freeze:0 2 1 1 *;* * * * *", pm.MsgSuspend, &recordingRunner{}, quietLogger())
	require.NoError(t, err)

	next, msg, ok := m.NextRun()
	require.True(t, ok)
	assert.Equal(t, pm.MsgSuspend, msg)
	assert.True(t, next.After(time.Now()))
	assert.True(t, next.Before(time.Now().Add(time.Minute+time.Second)))
}

func TestCronTriggerManager_NextRun_NoTriggers(t *testing.T) {
	m := &CronTriggerManager{}
	_, _, ok := m.NextRun()
	assert.False(t, ok)
}

func TestCronTriggerManager_TriggerRunsMessage(t *testing.T) {
	runner := &recordingRunner{}
	m, err := NewCronTriggerManager("freeze:0 2 * * *", pm.MsgSuspend, runner, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	m.triggers[0].executeRun()
	assert.Equal(t, []pm.Message{pm.MsgFreeze}, runner.msgs)
}
