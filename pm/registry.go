package pm

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nomis52/dpm/logging"
)

// Where selects how Reposition moves a device.
type Where int

const (
	// Before moves the device directly in front of the anchor.
	Before Where = iota
	// After moves the device directly behind the anchor.
	After
	// ToTail moves the device and all of its descendants to the end.
	ToTail
)

func (w Where) String() string {
	switch w {
	case Before:
		return "before"
	case After:
		return "after"
	case ToTail:
		return "to_tail"
	default:
		return "unknown"
	}
}

// Registry is the ordered sequence of registered devices.
//
// Order is depth-first discovery order: a parent always precedes its
// descendants. A single mutex guards the sequence and every device's status.
// The mutex is only held for short, non-blocking work: it is never held
// while a callback runs or while waiting on a Completion, because callbacks
// may call back into the registry.
type Registry struct {
	mu      sync.Mutex
	devices *list.List
	byName  map[string]*Device
	tr      *transition

	logger       *slog.Logger
	loggerHook   logging.LoggerHook
	onSizeChange func(n int)
}

func newRegistry(tr *transition, logger *slog.Logger, hook logging.LoggerHook) *Registry {
	return &Registry{
		devices:    list.New(),
		byName:     make(map[string]*Device),
		tr:         tr,
		logger:     logger,
		loggerHook: hook,
	}
}

// Lock acquires the registry lock. It must be held around MoveBefore,
// MoveAfter and MoveToTail.
func (r *Registry) Lock() {
	r.mu.Lock()
}

// Unlock releases the registry lock.
func (r *Registry) Unlock() {
	r.mu.Unlock()
}

// add appends dev at the tail of the sequence, which is after its parent.
func (r *Registry) add(dev *Device, parent *Device) error {
	if dev == nil {
		return fmt.Errorf("%w: nil device", ErrNotRegistered)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if dev.elem != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, dev.name)
	}
	if owner := dev.reg.Load(); owner != nil && owner != r {
		return fmt.Errorf("%w: %s belongs to another registry", ErrAlreadyRegistered, dev.name)
	}
	if _, exists := r.byName[dev.name]; exists {
		return fmt.Errorf("%w: name %q in use", ErrAlreadyRegistered, dev.name)
	}

	if parent != nil {
		if parent.elem == nil || parent.reg.Load() != r {
			return fmt.Errorf("%w: %s (parent of %s)", ErrParentNotRegistered, parent.name, dev.name)
		}
		if parent.status >= StatusSuspending {
			r.logger.Warn("parent should not be sleeping", "device", dev.name, "parent", parent.name, "parent_status", parent.status)
		}
		parent.children = append(parent.children, dev)
	} else if r.tr.active {
		// Phases already in flight will not visit this device.
		r.logger.Warn("parentless device registered during a power transition", "device", dev.name)
	}

	dev.parent = parent
	dev.reg.Store(r)
	if r.loggerHook != nil {
		dev.logger = r.loggerHook.LoggerForDevice(r.logger, dev.name)
	} else {
		dev.logger = r.logger.With("device", dev.name)
	}
	dev.elem = r.devices.PushBack(dev)
	dev.owner = r.devices
	r.byName[dev.name] = dev

	r.logger.Debug("device added", "device", dev.name, "parent", nameOf(parent), "count", len(r.byName))
	r.sizeChanged()
	return nil
}

// remove waits for dev's completion and then excises dev from whichever
// list currently holds it. Phases re-arm completions under the lock, so the
// completion is checked again once the lock is held.
func (r *Registry) remove(ctx context.Context, dev *Device) error {
	for {
		if err := dev.completion.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for %s to finish transitioning: %w", dev.name, err)
		}
		r.mu.Lock()
		if dev.completion.Signaled() {
			break
		}
		r.mu.Unlock()
	}
	defer r.mu.Unlock()

	if dev.elem == nil || dev.reg.Load() != r {
		return fmt.Errorf("%w: %s", ErrNotRegistered, dev.name)
	}
	for _, child := range dev.children {
		if child.elem != nil {
			return fmt.Errorf("%w: %s has %s", ErrHasChildren, dev.name, child.name)
		}
	}

	dev.owner.Remove(dev.elem)
	dev.elem = nil
	dev.owner = nil
	delete(r.byName, dev.name)

	if p := dev.parent; p != nil {
		for i, c := range p.children {
			if c == dev {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	}

	r.logger.Debug("device removed", "device", dev.name, "count", len(r.byName))
	r.sizeChanged()
	return nil
}

// MoveBefore moves a directly in front of b. The caller must hold the lock.
// The move is undone and ErrOrderViolation returned if it would break
// dependency order.
func (r *Registry) MoveBefore(a, b *Device) error {
	if err := r.checkMovable(a, b); err != nil {
		return err
	}
	r.logger.Debug("moving device", "device", a.name, "before", b.name)
	undo := r.undoPoint(a)
	r.detach(a)
	a.elem = b.owner.InsertBefore(a, b.elem)
	a.owner = b.owner
	return r.verifyOrder(a, undo)
}

// MoveAfter moves a directly behind b. The caller must hold the lock.
// The move is undone and ErrOrderViolation returned if it would break
// dependency order.
func (r *Registry) MoveAfter(a, b *Device) error {
	if err := r.checkMovable(a, b); err != nil {
		return err
	}
	r.logger.Debug("moving device", "device", a.name, "after", b.name)
	undo := r.undoPoint(a)
	r.detach(a)
	a.elem = b.owner.InsertAfter(a, b.elem)
	a.owner = b.owner
	return r.verifyOrder(a, undo)
}

// MoveToTail moves a and all of its descendants, depth-first, to the end of
// the sequence. The caller must hold the lock.
func (r *Registry) MoveToTail(a *Device) error {
	if a == nil || a.elem == nil || a.reg.Load() != r {
		return fmt.Errorf("%w: %s", ErrNotRegistered, nameOf(a))
	}
	r.logger.Debug("moving device to end of list", "device", a.name)
	r.moveSubtreeToTail(a)
	return nil
}

func (r *Registry) moveSubtreeToTail(a *Device) {
	r.relocate(a, r.devices, false)
	for _, child := range a.children {
		if child.elem != nil {
			r.moveSubtreeToTail(child)
		}
	}
}

// Devices returns the registered devices in sequence order. While a phase
// is running, devices the phase has already handled are not included.
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Position returns dev's index in the sequence, or -1 if it is not there.
func (r *Registry) Position(dev *Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positionLocked(dev)
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// Lookup returns the registered device with the given name.
func (r *Registry) Lookup(name string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.byName[name]
	return dev, ok
}

func (r *Registry) snapshotLocked() []*Device {
	out := make([]*Device, 0, r.devices.Len())
	for e := r.devices.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Device))
	}
	return out
}

func (r *Registry) positionLocked(dev *Device) int {
	i := 0
	for e := r.devices.Front(); e != nil; e = e.Next() {
		if e.Value.(*Device) == dev {
			return i
		}
		i++
	}
	return -1
}

// registered reports whether dev is still in the registry. Lock held.
func (r *Registry) registeredLocked(dev *Device) bool {
	return dev.elem != nil && dev.reg.Load() == r
}

func (r *Registry) setStatus(dev *Device, s Status) {
	r.mu.Lock()
	dev.status = s
	r.mu.Unlock()
}

// statusOf returns dev's status and whether it is still registered.
func (r *Registry) statusOf(dev *Device) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return dev.status, r.registeredLocked(dev)
}

// relocate moves dev to the front or back of dst. Devices removed from the
// registry in the meantime are left alone. Lock held.
func (r *Registry) relocate(dev *Device, dst *list.List, front bool) {
	if dev.elem == nil {
		return
	}
	r.detach(dev)
	if front {
		dev.elem = dst.PushFront(dev)
	} else {
		dev.elem = dst.PushBack(dev)
	}
	dev.owner = dst
}

// spliceFront puts every device of src in front of the live sequence,
// keeping src's relative order. Lock held.
func (r *Registry) spliceFront(src *list.List) {
	for e := src.Back(); e != nil; e = src.Back() {
		r.relocate(e.Value.(*Device), r.devices, true)
	}
}

// spliceBack appends every device of src to the live sequence, keeping
// src's relative order. Lock held.
func (r *Registry) spliceBack(src *list.List) {
	for e := src.Front(); e != nil; e = src.Front() {
		r.relocate(e.Value.(*Device), r.devices, false)
	}
}

// repairOrder moves every device of l that sits in front of its parent in
// l to directly behind that parent. A reverse walk leaves a device
// registered under an already handled parent in that position. Lock held.
func (r *Registry) repairOrder(l *list.List) {
	for moved := true; moved; {
		moved = false
		seen := make(map[*Device]bool, l.Len())
		for e := l.Front(); e != nil; {
			next := e.Next()
			dev := e.Value.(*Device)
			if p := dev.parent; p != nil && p.owner == l && p.elem != nil && !seen[p] {
				r.logger.Debug("restoring device order", "device", dev.name, "parent", p.name)
				l.MoveAfter(e, p.elem)
				moved = true
			} else {
				seen[dev] = true
			}
			e = next
		}
	}
}

func (r *Registry) detach(dev *Device) {
	dev.owner.Remove(dev.elem)
	dev.elem = nil
}

func (r *Registry) checkMovable(a, b *Device) error {
	if a == nil || a.elem == nil || a.reg.Load() != r {
		return fmt.Errorf("%w: %s", ErrNotRegistered, nameOf(a))
	}
	if b == nil || b.elem == nil || b.reg.Load() != r {
		return fmt.Errorf("%w: %s", ErrNotRegistered, nameOf(b))
	}
	if a == b {
		return fmt.Errorf("%w: cannot move %s relative to itself", ErrOrderViolation, a.name)
	}
	return nil
}

// position records where a device was so a move can be undone.
type position struct {
	owner *list.List
	prev  *Device
}

func (r *Registry) undoPoint(dev *Device) position {
	p := position{owner: dev.owner}
	if e := dev.elem.Prev(); e != nil {
		p.prev = e.Value.(*Device)
	}
	return p
}

// verifyOrder checks that dev sits after its parent and before its
// children in its list. On violation dev is put back at undo.
func (r *Registry) verifyOrder(dev *Device, undo position) error {
	index := make(map[*Device]int, dev.owner.Len())
	i := 0
	for e := dev.owner.Front(); e != nil; e = e.Next() {
		index[e.Value.(*Device)] = i
		i++
	}

	var violation error
	if p := dev.parent; p != nil {
		if pi, ok := index[p]; ok && pi > index[dev] {
			violation = fmt.Errorf("%w: %s would precede its parent %s", ErrOrderViolation, dev.name, p.name)
		}
	}
	for _, child := range dev.children {
		if ci, ok := index[child]; ok && ci < index[dev] {
			violation = fmt.Errorf("%w: %s would follow its child %s", ErrOrderViolation, dev.name, child.name)
			break
		}
	}
	if violation == nil {
		return nil
	}

	r.detach(dev)
	if undo.prev != nil && undo.prev.owner == undo.owner && undo.prev.elem != nil {
		dev.elem = undo.owner.InsertAfter(dev, undo.prev.elem)
	} else {
		dev.elem = undo.owner.PushFront(dev)
	}
	dev.owner = undo.owner
	return violation
}

func (r *Registry) sizeChanged() {
	if r.onSizeChange != nil {
		r.onSizeChange(len(r.byName))
	}
}

func nameOf(dev *Device) string {
	if dev == nil {
		return ""
	}
	return dev.name
}
