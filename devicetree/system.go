package devicetree

import (
	"fmt"
	"log/slog"

	"github.com/nomis52/dpm/config"
	"github.com/nomis52/dpm/pm"
)

// System is a controller with the simulated devices of a configuration
// registered on it.
type System struct {
	Controller *pm.Controller
	Tree       *Tree
	Platform   *Platform
}

// NewSystem builds the controller described by cfg.PM, registers the
// devices of cfg.Devices with it and wires in a simulated platform. opts
// are applied after the configured options.
func NewSystem(cfg *config.Config, logger *slog.Logger, opts ...pm.ControllerOption) (*System, error) {
	tree, err := Build(cfg.Devices)
	if err != nil {
		return nil, err
	}
	platform := NewPlatform(logger)

	trace := cfg.PM.Trace
	base := []pm.ControllerOption{
		pm.WithLogger(logger),
		pm.WithPlatform(platform),
		pm.WithAsyncTransitions(!cfg.PM.DisableAsync),
		pm.WithTraceActive(func() bool { return trace }),
		pm.WithInitcallDebug(cfg.PM.InitcallDebug),
		pm.WithWatchdogTimeout(cfg.PM.WatchdogTimeout),
	}
	ctrl := pm.NewController(append(base, opts...)...)

	if err := tree.Register(ctrl); err != nil {
		return nil, fmt.Errorf("registering devices: %w", err)
	}
	return &System{
		Controller: ctrl,
		Tree:       tree,
		Platform:   platform,
	}, nil
}
