// Package devicetree builds simulated devices from configuration so the
// power management controller can be exercised without hardware.
package devicetree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nomis52/dpm/config"
	"github.com/nomis52/dpm/pm"
)

// ErrInjected is returned by callbacks configured to fail.
var ErrInjected = errors.New("injected failure")

// Tree is a set of simulated devices in registration order.
type Tree struct {
	devices []*simDevice
	byName  map[string]*simDevice
	release chan struct{}
	once    sync.Once
}

// simDevice is the behavior behind one simulated device.
type simDevice struct {
	cfg    config.DeviceConfig
	dev    *pm.Device
	parent *simDevice

	failPhase   *pm.Phase
	failMessage *pm.Message
	hangPhase   *pm.Phase

	calls   [6]atomic.Int64
	release <-chan struct{}
}

// Build creates the devices described by specs. Specs must list parents
// before their children.
func Build(specs []config.DeviceConfig) (*Tree, error) {
	t := &Tree{
		byName:  make(map[string]*simDevice, len(specs)),
		release: make(chan struct{}),
	}
	for _, spec := range specs {
		s, err := t.newSimDevice(spec)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", spec.Name, err)
		}
		t.devices = append(t.devices, s)
		t.byName[spec.Name] = s
	}
	return t, nil
}

func (t *Tree) newSimDevice(spec config.DeviceConfig) (*simDevice, error) {
	if _, dup := t.byName[spec.Name]; dup {
		return nil, fmt.Errorf("duplicate device")
	}
	s := &simDevice{cfg: spec, release: t.release}
	if spec.Parent != "" {
		parent, ok := t.byName[spec.Parent]
		if !ok {
			return nil, fmt.Errorf("unknown parent %q", spec.Parent)
		}
		s.parent = parent
	}
	if spec.FailPhase != "" {
		p, err := pm.ParsePhase(spec.FailPhase)
		if err != nil {
			return nil, err
		}
		s.failPhase = &p
	}
	if spec.FailMessage != "" {
		m, err := pm.ParseMessage(spec.FailMessage)
		if err != nil {
			return nil, err
		}
		s.failMessage = &m
	}
	if spec.HangPhase != "" {
		p, err := pm.ParsePhase(spec.HangPhase)
		if err != nil {
			return nil, err
		}
		s.hangPhase = &p
	}

	tierName := spec.Tier
	if tierName == "" {
		tierName = "bus"
	}
	tier, err := pm.ParseTier(tierName)
	if err != nil {
		return nil, err
	}

	var cbs pm.Callbacks
	ops := s.tierOps()
	switch tier {
	case pm.TierClass:
		cbs.Class = ops
	case pm.TierType:
		cbs.Type = ops
	case pm.TierBus:
		cbs.Bus = ops
	}

	s.dev = pm.NewDevice(spec.Name, cbs,
		pm.WithDriver(spec.Driver),
		pm.WithAsync(spec.Async),
	)
	return s, nil
}

func (s *simDevice) tierOps() *pm.TierOps {
	if s.cfg.Legacy {
		return &pm.TierOps{
			Suspend: func(ctx context.Context, dev *pm.Device, msg pm.Message) error {
				return s.act(ctx, dev, pm.PhaseSuspend, msg)
			},
			Resume: s.callback(pm.PhaseResume),
		}
	}
	return &pm.TierOps{PM: &pm.Ops{
		Prepare:     s.callback(pm.PhasePrepare),
		Suspend:     s.callback(pm.PhaseSuspend),
		SuspendLate: s.callback(pm.PhaseSuspendLate),
		ResumeEarly: s.callback(pm.PhaseResumeEarly),
		Resume:      s.callback(pm.PhaseResume),
		Complete:    s.callback(pm.PhaseComplete),
	}}
}

func (s *simDevice) callback(phase pm.Phase) pm.Callback {
	return func(ctx context.Context, dev *pm.Device) error {
		msg, _ := pm.MessageFromContext(ctx)
		return s.act(ctx, dev, phase, msg)
	}
}

func (s *simDevice) act(ctx context.Context, dev *pm.Device, phase pm.Phase, msg pm.Message) error {
	s.calls[phase].Add(1)
	logger := dev.Logger()
	logger.Debug("simulated callback", "phase", phase, "message", msg)

	if s.hangPhase != nil && *s.hangPhase == phase {
		logger.Warn("simulated hang", "phase", phase)
		select {
		case <-s.release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.cfg.Delay > 0 {
		timer := time.NewTimer(s.cfg.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if phase == pm.PhasePrepare && s.cfg.BusyOnPrepare {
		return pm.ErrBusy
	}
	if s.failPhase != nil && *s.failPhase == phase {
		if s.failMessage == nil || *s.failMessage == msg {
			return fmt.Errorf("%w: %s in %s", ErrInjected, s.cfg.Name, phase)
		}
	}
	return nil
}

// Register adds every device to ctrl in order.
func (t *Tree) Register(ctrl *pm.Controller) error {
	for _, s := range t.devices {
		var parent *pm.Device
		if s.parent != nil {
			parent = s.parent.dev
		}
		if err := ctrl.Register(s.dev, parent); err != nil {
			return fmt.Errorf("registering %s: %w", s.cfg.Name, err)
		}
	}
	return nil
}

// Devices returns the simulated devices in registration order.
func (t *Tree) Devices() []*pm.Device {
	out := make([]*pm.Device, len(t.devices))
	for i, s := range t.devices {
		out[i] = s.dev
	}
	return out
}

// Device returns the simulated device named name.
func (t *Tree) Device(name string) (*pm.Device, bool) {
	s, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return s.dev, true
}

// Calls returns how many times the device's callbacks ran for phase.
func (t *Tree) Calls(name string, phase pm.Phase) int64 {
	s, ok := t.byName[name]
	if !ok || phase < 0 || int(phase) >= len(s.calls) {
		return 0
	}
	return s.calls[phase].Load()
}

// Release unblocks every simulated hang.
func (t *Tree) Release() {
	t.once.Do(func() { close(t.release) })
}
