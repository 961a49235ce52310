package devicetree

import (
	"log/slog"
	"sync"
)

// Platform simulates interrupt control for the no-interrupt phases.
type Platform struct {
	mu       sync.Mutex
	disabled bool
	disables int
	enables  int
	logger   *slog.Logger
}

// NewPlatform creates a Platform with interrupts enabled.
func NewPlatform(logger *slog.Logger) *Platform {
	if logger == nil {
		logger = slog.Default()
	}
	return &Platform{logger: logger.With("component", "platform")}
}

// DisableInterrupts implements pm.Platform.
func (p *Platform) DisableInterrupts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled {
		p.logger.Warn("interrupts already disabled")
	}
	p.disabled = true
	p.disables++
	p.logger.Debug("interrupts disabled")
}

// EnableInterrupts implements pm.Platform.
func (p *Platform) EnableInterrupts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.disabled {
		p.logger.Warn("interrupts already enabled")
	}
	p.disabled = false
	p.enables++
	p.logger.Debug("interrupts enabled")
}

// InterruptsEnabled reports the simulated interrupt state.
func (p *Platform) InterruptsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.disabled
}

// Counts returns how often interrupts were disabled and enabled.
func (p *Platform) Counts() (disables, enables int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disables, p.enables
}
