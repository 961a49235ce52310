package devicetree

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/dpm/config"
	"github.com/nomis52/dpm/pm"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newController(t *testing.T, platform *Platform, opts ...pm.ControllerOption) *pm.Controller {
	t.Helper()
	base := []pm.ControllerOption{
		pm.WithLogger(quietLogger()),
		pm.WithPlatform(platform),
		pm.WithFatalHandler(func(f *pm.Fault) { t.Errorf("unexpected watchdog expiry: %v", f) }),
	}
	return pm.NewController(append(base, opts...)...)
}

func TestBuild(t *testing.T) {
	tree, err := Build([]config.DeviceConfig{
		{Name: "pci0", Driver: "pcieport"},
		{Name: "sda", Parent: "pci0", Driver: "ahci", Async: true, Tier: "type"},
	})
	require.NoError(t, err)

	devs := tree.Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, "pci0", devs[0].Name())
	assert.Equal(t, "ahci", devs[1].Driver())
	assert.True(t, devs[1].AsyncEligible())

	_, ok := tree.Device("sda")
	assert.True(t, ok)
	_, ok = tree.Device("nope")
	assert.False(t, ok)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name  string
		specs []config.DeviceConfig
	}{
		{name: "unknown parent", specs: []config.DeviceConfig{{Name: "sda", Parent: "pci0"}}},
		{name: "duplicate", specs: []config.DeviceConfig{{Name: "a"}, {Name: "a"}}},
		{name: "bad tier", specs: []config.DeviceConfig{{Name: "a", Tier: "driver"}}},
		{name: "bad phase", specs: []config.DeviceConfig{{Name: "a", FailPhase: "nap"}}},
		{name: "bad message", specs: []config.DeviceConfig{{Name: "a", FailPhase: "suspend", FailMessage: "nap"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.specs)
			assert.Error(t, err)
		})
	}
}

func TestTree_FullCycle(t *testing.T) {
	tree, err := Build([]config.DeviceConfig{
		{Name: "pci0"},
		{Name: "sda", Parent: "pci0", Async: true, Delay: 5 * time.Millisecond},
		{Name: "eth0", Parent: "pci0", Legacy: true, Tier: "class"},
	})
	require.NoError(t, err)
	platform := NewPlatform(quietLogger())
	ctrl := newController(t, platform)
	require.NoError(t, tree.Register(ctrl))
	ctx := context.Background()

	require.NoError(t, ctrl.BeginSuspend(ctx, pm.MsgSuspend))
	require.NoError(t, ctrl.SuspendLate(ctx, pm.MsgSuspend))
	assert.False(t, platform.InterruptsEnabled())
	require.NoError(t, ctrl.ResumeEarly(ctx, pm.MsgResume))
	assert.True(t, platform.InterruptsEnabled())
	require.NoError(t, ctrl.FinishResume(ctx, pm.MsgResume))

	for _, name := range []string{"pci0", "sda"} {
		for _, phase := range []pm.Phase{pm.PhasePrepare, pm.PhaseSuspend, pm.PhaseSuspendLate, pm.PhaseResumeEarly, pm.PhaseResume, pm.PhaseComplete} {
			assert.Equal(t, int64(1), tree.Calls(name, phase), "%s %s", name, phase)
		}
	}
	assert.Equal(t, int64(0), tree.Calls("eth0", pm.PhasePrepare))
	assert.Equal(t, int64(1), tree.Calls("eth0", pm.PhaseSuspend))
	assert.Equal(t, int64(1), tree.Calls("eth0", pm.PhaseResume))
	assert.Equal(t, int64(0), tree.Calls("ghost", pm.PhaseResume))

	disables, enables := platform.Counts()
	assert.Equal(t, 1, disables)
	assert.Equal(t, 1, enables)
}

func TestTree_InjectedFailure(t *testing.T) {
	tree, err := Build([]config.DeviceConfig{
		{Name: "a"},
		{Name: "b", FailPhase: "suspend", FailMessage: "hibernate"},
	})
	require.NoError(t, err)
	ctrl := newController(t, NewPlatform(quietLogger()))
	require.NoError(t, tree.Register(ctrl))
	ctx := context.Background()

	require.NoError(t, ctrl.BeginSuspend(ctx, pm.MsgSuspend), "failure only applies to hibernate")
	require.NoError(t, ctrl.FinishResume(ctx, pm.MsgResume))

	err = ctrl.BeginSuspend(ctx, pm.MsgHibernate)
	require.ErrorIs(t, err, ErrInjected)
	for _, d := range ctrl.Devices() {
		assert.Equal(t, pm.StatusOn, d.Status, d.Name)
	}
}

func TestTree_BusyOnPrepare(t *testing.T) {
	tree, err := Build([]config.DeviceConfig{{Name: "a"}, {Name: "busy", BusyOnPrepare: true}})
	require.NoError(t, err)
	ctrl := newController(t, NewPlatform(quietLogger()))
	require.NoError(t, tree.Register(ctrl))
	ctx := context.Background()

	require.NoError(t, ctrl.BeginSuspend(ctx, pm.MsgSuspend))
	assert.Equal(t, int64(0), tree.Calls("busy", pm.PhaseSuspend))
	require.NoError(t, ctrl.FinishResume(ctx, pm.MsgResume))
}

func TestTree_HangIsReleased(t *testing.T) {
	tree, err := Build([]config.DeviceConfig{{Name: "stuck", HangPhase: "suspend", Driver: "wedged"}})
	require.NoError(t, err)

	faults := make(chan *pm.Fault, 1)
	ctrl := newController(t, NewPlatform(quietLogger()),
		pm.WithWatchdogTimeout(20*time.Millisecond),
		pm.WithFatalHandler(func(f *pm.Fault) { faults <- f }),
	)
	require.NoError(t, tree.Register(ctrl))

	go func() {
		f := <-faults
		assert.Equal(t, "stuck", f.Device)
		assert.Equal(t, "wedged", f.Driver)
		tree.Release()
	}()

	require.NoError(t, ctrl.BeginSuspend(context.Background(), pm.MsgSuspend))
	require.NoError(t, ctrl.FinishResume(context.Background(), pm.MsgResume))
	tree.Release()
}

func TestTree_DelayHonorsCancellation(t *testing.T) {
	tree, err := Build([]config.DeviceConfig{{Name: "slow", Delay: time.Hour}})
	require.NoError(t, err)
	ctrl := newController(t, NewPlatform(quietLogger()))
	require.NoError(t, tree.Register(ctrl))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ctrl.BeginSuspend(ctx, pm.MsgSuspend), context.DeadlineExceeded)
}

func TestPlatform(t *testing.T) {
	p := NewPlatform(nil)
	assert.True(t, p.InterruptsEnabled())

	p.DisableInterrupts()
	assert.False(t, p.InterruptsEnabled())
	p.EnableInterrupts()
	p.EnableInterrupts()
	assert.True(t, p.InterruptsEnabled())

	disables, enables := p.Counts()
	assert.Equal(t, 1, disables)
	assert.Equal(t, 2, enables)
}

func TestNewSystem(t *testing.T) {
	cfg, err := config.Parse([]byte(`
pm:
  disable_async: true
devices:
  - name: pci0
  - name: sda
    parent: pci0
    async: true
`))
	require.NoError(t, err)

	sys, err := NewSystem(&cfg, quietLogger(),
		pm.WithFatalHandler(func(f *pm.Fault) { t.Errorf("unexpected watchdog expiry: %v", f) }))
	require.NoError(t, err)

	infos := sys.Controller.Devices()
	require.Len(t, infos, 2)
	assert.Equal(t, "pci0", infos[1].Parent)
	assert.False(t, infos[1].Async, "async is disabled globally")

	ctx := context.Background()
	require.NoError(t, sys.Controller.BeginSuspend(ctx, pm.MsgSuspend))
	require.NoError(t, sys.Controller.SuspendLate(ctx, pm.MsgSuspend))
	assert.False(t, sys.Platform.InterruptsEnabled())
	require.NoError(t, sys.Controller.ResumeEarly(ctx, pm.MsgResume))
	require.NoError(t, sys.Controller.FinishResume(ctx, pm.MsgResume))
	assert.True(t, sys.Platform.InterruptsEnabled())
	assert.Equal(t, int64(1), sys.Tree.Calls("sda", pm.PhaseSuspendLate))
}

func TestNewSystem_BadDevices(t *testing.T) {
	cfg := config.Config{Devices: []config.DeviceConfig{{Name: "sda", Parent: "missing"}}}
	_, err := NewSystem(&cfg, quietLogger())
	assert.Error(t, err)
}
