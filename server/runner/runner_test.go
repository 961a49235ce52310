package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/dpm/config"
	"github.com/nomis52/dpm/devicetree"
	"github.com/nomis52/dpm/logging"
	"github.com/nomis52/dpm/pm"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTree registers specs with a fresh controller whose device logs land
// in the returned collector.
func newTree(t *testing.T, specs []config.DeviceConfig) (*pm.Controller, *devicetree.Tree, *logging.LogCollector) {
	t.Helper()
	collector := logging.NewLogCollector(0)
	ctrl := pm.NewController(
		pm.WithLogger(quietLogger()),
		pm.WithPlatform(devicetree.NewPlatform(quietLogger())),
		pm.WithDeviceLoggers(logging.NewCapturingLoggerHook(collector)),
		pm.WithFatalHandler(func(f *pm.Fault) { t.Errorf("unexpected watchdog expiry: %v", f) }),
	)
	tree, err := devicetree.Build(specs)
	require.NoError(t, err)
	require.NoError(t, tree.Register(ctrl))
	return ctrl, tree, collector
}

func waitIdle(t *testing.T, r *Runner) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestRunner_Run(t *testing.T) {
	ctrl, _, collector := newTree(t, []config.DeviceConfig{
		{Name: "pci0"},
		{Name: "sda", Parent: "pci0", Async: true},
	})
	r := New(quietLogger(), ctrl, pm.MsgSuspend, WithLogCollector(collector))

	assert.Equal(t, RunStateIdle, r.Status().State)
	require.NoError(t, r.Run())
	waitIdle(t, r)

	status := r.Status()
	assert.Equal(t, RunStateIdle, status.State)
	assert.NotEmpty(t, status.ID)
	assert.Equal(t, "suspend", status.Message)
	assert.Empty(t, status.Error)
	require.NotNil(t, status.EndedAt)
	require.Len(t, status.Devices, 2)
	for _, dev := range status.Devices {
		assert.Equal(t, pm.StatusOn, dev.Status)
		assert.NotEmpty(t, dev.Logs, dev.Name)
	}

	history := r.History()
	require.Len(t, history, 1)
	assert.Equal(t, status.ID, history[0].ID)
}

func TestRunner_RunFailure(t *testing.T) {
	ctrl, _, _ := newTree(t, []config.DeviceConfig{
		{Name: "pci0"},
		{Name: "sda", Parent: "pci0", FailPhase: "suspend"},
	})
	r := New(quietLogger(), ctrl, pm.MsgSuspend)

	require.NoError(t, r.Run())
	waitIdle(t, r)

	status := r.Status()
	assert.Contains(t, status.Error, "begin suspend")
	assert.Contains(t, status.Error, devicetree.ErrInjected.Error())
	for _, dev := range status.Devices {
		assert.Equal(t, pm.StatusOn, dev.Status)
	}
}

func TestRunner_RunInProgress(t *testing.T) {
	ctrl, tree, _ := newTree(t, []config.DeviceConfig{
		{Name: "slow", HangPhase: "prepare"},
	})
	r := New(quietLogger(), ctrl, pm.MsgSuspend)

	require.NoError(t, r.Run())
	assert.True(t, r.IsRunning())
	assert.Equal(t, RunStateRunning, r.Status().State)

	err := r.Run()
	assert.True(t, errors.Is(err, ErrRunInProgress))

	tree.Release()
	waitIdle(t, r)
	assert.False(t, r.IsRunning())
	assert.Len(t, r.History(), 1)
}

func TestRunner_RunWithRejectsWakeMessages(t *testing.T) {
	ctrl, _, _ := newTree(t, nil)
	r := New(quietLogger(), ctrl, pm.MsgSuspend)

	err := r.RunWith(pm.MsgResume)
	assert.ErrorIs(t, err, pm.ErrInvalidMessage)
	assert.False(t, r.IsRunning())
	assert.Empty(t, r.History())
}

func TestRunner_BaseContextCancelUnwinds(t *testing.T) {
	ctrl, tree, _ := newTree(t, []config.DeviceConfig{
		{Name: "slow", HangPhase: "suspend"},
	})
	defer tree.Release()

	ctx, cancel := context.WithCancel(context.Background())
	r := New(quietLogger(), ctrl, pm.MsgSuspend, WithBaseContext(ctx))
	require.NoError(t, r.Run())

	cancel()
	waitIdle(t, r)

	status := r.Status()
	assert.Contains(t, status.Error, context.Canceled.Error())
	require.Len(t, status.Devices, 1)
	assert.Equal(t, pm.StatusOn, status.Devices[0].Status)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(2)
	assert.Empty(t, store.Runs())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(RunStatus{ID: id}))
	}

	runs := store.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	_, ok := store.Get("a")
	assert.False(t, ok)
	run, ok := store.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "b", run.ID)
}

func TestRunner_HistoryRun(t *testing.T) {
	ctrl, _, _ := newTree(t, []config.DeviceConfig{{Name: "pci0"}})
	r := New(quietLogger(), ctrl, pm.MsgFreeze)

	require.NoError(t, r.Run())
	waitIdle(t, r)

	id := r.Status().ID
	run, ok := r.HistoryRun(id)
	require.True(t, ok)
	assert.Equal(t, "freeze", run.Message)

	_, ok = r.HistoryRun("missing")
	assert.False(t, ok)
}
