package pm

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
)

type event struct {
	phase Phase
	dev   string
	msg   Message
	end   bool
}

// recorder collects callback start and end events from every device.
type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// starts returns, in order, the devices whose phase callback started.
func (r *recorder) starts(p Phase) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.phase == p && !e.end {
			out = append(out, e.dev)
		}
	}
	return out
}

func (r *recorder) messages(p Phase) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, e := range r.events {
		if e.phase == p && !e.end {
			out = append(out, e.msg)
		}
	}
	return out
}

// index returns the position of an event, or -1.
func (r *recorder) index(p Phase, dev string, end bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e.phase == p && e.dev == dev && e.end == end {
			return i
		}
	}
	return -1
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// hooks overrides what a recording device does in a phase.
type hooks map[Phase]func(ctx context.Context, dev *Device) error

// recordingDevice returns a device whose bus tier records every phase.
func recordingDevice(rec *recorder, name string, h hooks, opts ...DeviceOption) *Device {
	cb := func(p Phase) Callback {
		return func(ctx context.Context, dev *Device) error {
			msg, _ := MessageFromContext(ctx)
			rec.add(event{phase: p, dev: dev.Name(), msg: msg})
			var err error
			if f := h[p]; f != nil {
				err = f(ctx, dev)
			}
			rec.add(event{phase: p, dev: dev.Name(), msg: msg, end: true})
			return err
		}
	}
	ops := &Ops{
		Prepare:     cb(PhasePrepare),
		Suspend:     cb(PhaseSuspend),
		SuspendLate: cb(PhaseSuspendLate),
		ResumeEarly: cb(PhaseResumeEarly),
		Resume:      cb(PhaseResume),
		Complete:    cb(PhaseComplete),
	}
	return NewDevice(name, Callbacks{Bus: &TierOps{PM: ops}}, opts...)
}

type testPlatform struct {
	disabled atomic.Int32
	enabled  atomic.Int32
}

func (p *testPlatform) DisableInterrupts() { p.disabled.Add(1) }
func (p *testPlatform) EnableInterrupts()  { p.enabled.Add(1) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, opts ...ControllerOption) (*Controller, *testPlatform) {
	t.Helper()
	p := &testPlatform{}
	base := []ControllerOption{
		WithLogger(discardLogger()),
		WithPlatform(p),
		WithFatalHandler(func(f *Fault) {
			t.Errorf("unexpected watchdog expiry: %v", f)
		}),
	}
	return NewController(append(base, opts...)...), p
}

// mustRegister registers devices in order, each under the given parent.
func mustRegister(t *testing.T, c *Controller, parent *Device, devs ...*Device) {
	t.Helper()
	for _, d := range devs {
		if err := c.Register(d, parent); err != nil {
			t.Fatalf("registering %s: %v", d.Name(), err)
		}
	}
}

func names(c *Controller) []string {
	var out []string
	for _, d := range c.Devices() {
		out = append(out, d.Name)
	}
	return out
}

func statuses(c *Controller) map[string]Status {
	out := make(map[string]Status)
	for _, d := range c.Devices() {
		out[d.Name] = d.Status
	}
	return out
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
