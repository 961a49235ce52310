// Package config loads the pmctl YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nomis52/dpm/logging"
	"github.com/nomis52/dpm/pm"
	"github.com/nomis52/dpm/server/cron"
)

const (
	defaultCycleMessage = "suspend"
	defaultDwell        = time.Second
	defaultListenAddr   = ":8080"
	defaultMaxHistory   = 100
	defaultLogEntries   = 500

	defaultMetricsPrefix = "dpm"
	defaultJobName       = "pmctl"

	defaultTier = "bus"
)

// Config represents the complete application configuration
type Config struct {
	PM         PMConfig         `yaml:"pm"`
	Devices    []DeviceConfig   `yaml:"devices"`
	Cycle      CycleConfig      `yaml:"cycle"`
	Server     ServerConfig     `yaml:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    logging.Config   `yaml:"logging"`
}

// PMConfig holds controller settings
type PMConfig struct {
	// DisableAsync runs every device synchronously.
	DisableAsync bool `yaml:"disable_async"`
	// Trace forces synchronous transitions, as an active suspend trace does.
	Trace bool `yaml:"trace"`
	// InitcallDebug logs each callback invocation and its result.
	InitcallDebug bool `yaml:"initcall_debug"`
	// WatchdogTimeout bounds a single device suspend. Zero selects the
	// controller default.
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`
}

// DeviceConfig describes one simulated device. Devices must be listed
// parents first.
type DeviceConfig struct {
	Name   string `yaml:"name"`
	Driver string `yaml:"driver"`
	Parent string `yaml:"parent"`
	Async  bool   `yaml:"async"`

	// Tier is where the callbacks are installed: class, type or bus.
	Tier string `yaml:"tier"`
	// Legacy installs the single-entry suspend and resume callbacks
	// instead of the per-phase set.
	Legacy bool `yaml:"legacy"`

	// Delay is how long every callback takes.
	Delay time.Duration `yaml:"delay"`
	// FailPhase makes the callback of that phase return an error.
	FailPhase string `yaml:"fail_phase"`
	// FailMessage limits FailPhase to transitions carrying this message.
	FailMessage string `yaml:"fail_message"`
	// BusyOnPrepare makes prepare report the device busy.
	BusyOnPrepare bool `yaml:"busy_on_prepare"`
	// HangPhase makes the callback of that phase block until canceled.
	HangPhase string `yaml:"hang_phase"`
}

// CycleConfig defines the test cycle run by `pmctl cycle` and the server
type CycleConfig struct {
	// Message is the sleep message: suspend, freeze, quiesce or hibernate.
	Message string `yaml:"message"`
	// Dwell is how long devices stay suspended.
	Dwell time.Duration `yaml:"dwell"`
	// Schedule optionally runs cycles periodically. It is a list of
	// "[message:]cron_expression" entries separated by semicolons; entries
	// without a message use Message.
	Schedule string `yaml:"schedule"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	MaxHistory int    `yaml:"max_history"`
	// LogEntries is the number of log entries kept per device.
	LogEntries int `yaml:"log_entries"`
}

// MonitoringConfig holds metrics settings. VictoriaMetricsURL is only used
// by one-shot CLI cycles; the server exposes /metrics instead.
type MonitoringConfig struct {
	VictoriaMetricsURL string `yaml:"victoriametrics_url"`
	MetricsPrefix      string `yaml:"metrics_prefix"`
	JobName            string `yaml:"jobname"`
}

// CycleMessage returns the parsed cycle message.
func (c *Config) CycleMessage() (pm.Message, error) {
	msg, err := pm.ParseMessage(c.Cycle.Message)
	if err != nil {
		return msg, err
	}
	if !msg.IsSleep() {
		return msg, fmt.Errorf("%w: cycle message must be a sleep message, got %s", pm.ErrInvalidMessage, msg)
	}
	return msg, nil
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	if c.PM.WatchdogTimeout < 0 {
		return fmt.Errorf("watchdog timeout must not be negative")
	}
	msg, err := c.CycleMessage()
	if err != nil {
		return fmt.Errorf("cycle: %w", err)
	}
	if c.Cycle.Dwell < 0 {
		return fmt.Errorf("cycle dwell must not be negative")
	}
	if c.Cycle.Schedule != "" {
		if _, err := cron.ParseTriggerSpecs(c.Cycle.Schedule, msg); err != nil {
			return fmt.Errorf("cycle schedule: %w", err)
		}
	}
	if c.Server.MaxHistory < 0 {
		return fmt.Errorf("server max_history must not be negative")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if err := d.validate(seen); err != nil {
			errs = append(errs, fmt.Errorf("device %d (%s): %w", i, d.Name, err))
		}
		seen[d.Name] = true
	}
	return errors.Join(errs...)
}

func (d *DeviceConfig) validate(declared map[string]bool) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if declared[d.Name] {
		return fmt.Errorf("duplicate device name")
	}
	if d.Parent != "" && !declared[d.Parent] {
		return fmt.Errorf("parent %q must be declared before its children", d.Parent)
	}
	if _, err := pm.ParseTier(d.Tier); err != nil {
		return err
	}
	if d.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	for field, phase := range map[string]string{"fail_phase": d.FailPhase, "hang_phase": d.HangPhase} {
		if phase == "" {
			continue
		}
		p, err := pm.ParsePhase(phase)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if d.Legacy && p != pm.PhaseSuspend && p != pm.PhaseResume {
			return fmt.Errorf("%s: legacy devices only have suspend and resume callbacks", field)
		}
	}
	if d.FailMessage != "" {
		if d.FailPhase == "" {
			return fmt.Errorf("fail_message requires fail_phase")
		}
		if _, err := pm.ParseMessage(d.FailMessage); err != nil {
			return fmt.Errorf("fail_message: %w", err)
		}
	}
	if d.BusyOnPrepare && d.Legacy {
		return fmt.Errorf("legacy devices have no prepare callback")
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.Cycle.Message == "" {
		c.Cycle.Message = defaultCycleMessage
	}
	if c.Cycle.Dwell == 0 {
		c.Cycle.Dwell = defaultDwell
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}
	if c.Server.MaxHistory == 0 {
		c.Server.MaxHistory = defaultMaxHistory
	}
	if c.Server.LogEntries == 0 {
		c.Server.LogEntries = defaultLogEntries
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	for i := range c.Devices {
		if c.Devices[i].Tier == "" {
			c.Devices[i].Tier = defaultTier
		}
	}
	c.Logging.SetDefaults()
}

// LoadConfig reads the YAML config file at the given path and returns a Config struct
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration. Unknown
// fields are rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
