// Package runner runs power cycles for the pmctl server.
//
// The runner handles:
//   - Starting cycles in the background
//   - Preventing concurrent cycles
//   - Tracking current run status with live device state and logs
//   - Maintaining history of completed runs
//
// # Example
//
//	r := runner.New(logger, ctrl, pm.MsgSuspend, runner.WithDwell(time.Second))
//
//	if err := r.Run(); err != nil {
//	    if errors.Is(err, runner.ErrRunInProgress) {
//	        // Handle concurrent run attempt
//	    }
//	}
//
//	status := r.Status()
//	for _, dev := range status.Devices {
//	    fmt.Printf("%s [%s]\n", dev.Name, dev.Status)
//	}
//
//	history := r.History() // Most recent first
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/dpm/logging"
	"github.com/nomis52/dpm/pm"
)

// ErrRunInProgress is returned when attempting to start a run while one is already running.
var ErrRunInProgress = errors.New("cycle already in progress")

// Controller is the part of pm.Controller the runner drives.
type Controller interface {
	Transitioner
	Devices() []pm.DeviceInfo
}

// Runner manages cycle execution.
type Runner struct {
	logger    *slog.Logger
	ctrl      Controller
	message   pm.Message
	dwell     time.Duration
	store     StateStore
	collector *logging.LogCollector
	baseCtx   context.Context

	wg        sync.WaitGroup
	mu        sync.Mutex
	runStatus RunStatus
}

// Option configures a Runner.
type Option func(*Runner)

// WithStateStore configures the runner to keep history in store.
func WithStateStore(store StateStore) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithDwell sets how long devices stay suspended.
func WithDwell(d time.Duration) Option {
	return func(r *Runner) {
		r.dwell = d
	}
}

// WithLogCollector attaches the collector that device loggers write to.
// It is cleared at the start of each run and its contents are saved with
// the run.
func WithLogCollector(c *logging.LogCollector) Option {
	return func(r *Runner) {
		r.collector = c
	}
}

// WithBaseContext sets the context background runs derive from. Canceling
// it aborts a suspend in progress, which the controller then unwinds.
func WithBaseContext(ctx context.Context) Option {
	return func(r *Runner) {
		r.baseCtx = ctx
	}
}

// New creates a Runner that cycles ctrl with the sleep message msg.
func New(logger *slog.Logger, ctrl Controller, msg pm.Message, opts ...Option) *Runner {
	r := &Runner{
		logger:    logger,
		ctrl:      ctrl,
		message:   msg,
		store:     NewMemoryStore(defaultMaxHistorySize),
		baseCtx:   context.Background(),
		runStatus: RunStatus{State: RunStateIdle},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts a cycle with the configured message in the background.
// Returns ErrRunInProgress if a run is already in progress.
func (r *Runner) Run() error {
	return r.RunWith(r.message)
}

// RunWith starts a cycle with msg in the background.
func (r *Runner) RunWith(msg pm.Message) error {
	if !msg.IsSleep() {
		return fmt.Errorf("%w: %s cannot start a cycle", pm.ErrInvalidMessage, msg)
	}
	id, ok := r.tryStart(msg)
	if !ok {
		return ErrRunInProgress
	}

	r.logger.Info("starting cycle", "id", id, "message", msg, "dwell", r.dwell)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := Cycle(r.baseCtx, r.ctrl, msg, r.dwell)
		r.finish(err)
	}()

	return nil
}

// Wait blocks until the run in progress, if any, has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Status returns the current run status. While a run is in progress it
// includes live device state and logs.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.runStatus
	if status.State == RunStateRunning {
		status.Devices = r.deviceResults()
	}
	return status
}

// IsRunning returns true if a cycle is in progress.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runStatus.State == RunStateRunning
}

// History returns the history of completed runs, most recent first.
func (r *Runner) History() []RunStatus {
	return r.store.Runs()
}

// HistoryRun returns the completed run with the given ID.
func (r *Runner) HistoryRun(id string) (RunStatus, bool) {
	return r.store.Get(id)
}

// tryStart attempts to transition from idle to running.
func (r *Runner) tryStart(msg pm.Message) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runStatus.State == RunStateRunning {
		return "", false
	}

	if r.collector != nil {
		r.collector.Clear()
	}

	now := time.Now()
	r.runStatus = RunStatus{
		ID:        uuid.NewString(),
		State:     RunStateRunning,
		Message:   msg.String(),
		StartedAt: &now,
	}
	return r.runStatus.ID, true
}

// finish transitions from running to idle and records the result.
func (r *Runner) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	endTime := time.Now()
	duration := endTime.Sub(*r.runStatus.StartedAt)

	r.runStatus.State = RunStateIdle
	r.runStatus.EndedAt = &endTime
	r.runStatus.Devices = r.deviceResults()

	if err != nil {
		r.runStatus.Error = err.Error()
		r.logger.Error("cycle failed", "id", r.runStatus.ID, "error", err, "duration", duration)
	} else {
		r.logger.Info("cycle completed", "id", r.runStatus.ID, "duration", duration)
	}

	if err := r.store.Save(r.runStatus); err != nil {
		r.logger.Error("failed to save run to store", "error", err)
	}
}

func (r *Runner) deviceResults() []DeviceResult {
	infos := r.ctrl.Devices()
	results := make([]DeviceResult, len(infos))
	for i, info := range infos {
		results[i] = DeviceResult{DeviceInfo: info}
		if r.collector != nil {
			results[i].Logs = r.collector.GetLogs(info.Name)
		}
	}
	return results
}
