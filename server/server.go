// Package server provides the HTTP server behind `pmctl serve`.
//
// The server owns one controller with the configured simulated devices
// registered, runs power cycles against it on request or on a cron
// schedule, and exposes what happened.
//
// # Endpoints
//
//   - GET /health - Health check with build properties
//   - GET /metrics - Prometheus metrics
//   - GET /api/status - Run status, transition state and next scheduled run
//   - GET /api/config - Configuration as YAML
//   - GET /api/devices - Registered devices in sequence order
//   - GET /api/devices/{name}/logs - Log lines captured for one device
//   - POST /api/cycle - Starts a power cycle, optionally with {"message": "..."}
//   - GET /api/history - Completed runs, most recent first
//   - GET /api/history/{id} - One completed run
//
// # Example
//
//	srv, err := server.New(&cfg, server.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nomis52/dpm/buildinfo"
	"github.com/nomis52/dpm/config"
	"github.com/nomis52/dpm/devicetree"
	"github.com/nomis52/dpm/logging"
	"github.com/nomis52/dpm/metrics"
	"github.com/nomis52/dpm/pm"
	"github.com/nomis52/dpm/server/cron"
	"github.com/nomis52/dpm/server/handlers"
	"github.com/nomis52/dpm/server/runner"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Server is the HTTP server for pmctl.
type Server struct {
	addr      string
	cfg       *config.Config
	logger    *slog.Logger
	props     handlers.ServerProperties
	system    *devicetree.System
	collector *logging.LogCollector
	registry  *metrics.ScrapeRegistry
	runner    *runner.Runner
	triggers  *cron.CronTriggerManager

	runCtx   context.Context
	stopRuns context.CancelFunc

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithListenAddr overrides the configured listen address.
func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// New creates a Server for cfg. It builds the controller and device tree,
// the metrics registry, the cycle runner and, if cfg.Cycle.Schedule is
// set, the cron triggers.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		addr:   cfg.Server.ListenAddr,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	hostname, _ := os.Hostname()
	s.props = handlers.ServerProperties{
		Build:     buildinfo.Get(),
		StartedAt: time.Now(),
		Hostname:  hostname,
	}

	msg, err := cfg.CycleMessage()
	if err != nil {
		return nil, err
	}

	s.registry, err = metrics.NewScrapeRegistry(cfg.Monitoring.MetricsPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating metrics registry: %w", err)
	}
	pmMetrics, err := pm.NewMetrics(s.registry)
	if err != nil {
		return nil, fmt.Errorf("creating pm metrics: %w", err)
	}

	s.collector = logging.NewLogCollector(cfg.Server.LogEntries)
	s.system, err = devicetree.NewSystem(cfg, s.logger,
		pm.WithMetrics(pmMetrics),
		pm.WithDeviceLoggers(logging.NewCapturingLoggerHook(s.collector)),
	)
	if err != nil {
		return nil, fmt.Errorf("building devices: %w", err)
	}

	s.runCtx, s.stopRuns = context.WithCancel(context.Background())
	s.runner = runner.New(s.logger, s.system.Controller, msg,
		runner.WithDwell(cfg.Cycle.Dwell),
		runner.WithLogCollector(s.collector),
		runner.WithStateStore(runner.NewMemoryStore(cfg.Server.MaxHistory)),
		runner.WithBaseContext(s.runCtx),
	)

	if cfg.Cycle.Schedule != "" {
		s.triggers, err = cron.NewCronTriggerManager(cfg.Cycle.Schedule, msg, s.runner, s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating cron triggers: %w", err)
		}
	}

	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Config returns the configuration the server was created with.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// Status returns the current run status by delegating to the runner.
func (s *Server) Status() runner.RunStatus {
	return s.runner.Status()
}

// InTransition reports whether the controller is between a suspend and
// its completion.
func (s *Server) InTransition() bool {
	return s.system.Controller.InTransition()
}

// NextRun returns the next scheduled cycle. ok is false without a
// schedule.
func (s *Server) NextRun() (next time.Time, msg pm.Message, ok bool) {
	if s.triggers == nil {
		return next, msg, false
	}
	return s.triggers.NextRun()
}

// TriggerCycle starts a cycle with the configured message, as POST
// /api/cycle does.
func (s *Server) TriggerCycle() error {
	return s.runner.Run()
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	ctrl := s.system.Controller

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Method(http.MethodGet, "/health", handlers.NewHealthHandler(s.props))
	r.Method(http.MethodGet, "/metrics", s.registry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/status", handlers.NewStatusHandler(s))
		r.Method(http.MethodGet, "/config", handlers.NewConfigHandler(s))
		r.Post("/cycle", handlers.NewCycleHandler(s.runner).ServeHTTP)

		r.Route("/devices", func(r chi.Router) {
			r.Method(http.MethodGet, "/", handlers.NewDevicesHandler(ctrl))
			r.Method(http.MethodGet, "/{name}/logs", handlers.NewDeviceLogsHandler(ctrl, s.collector))
		})

		r.Route("/history", func(r chi.Router) {
			r.Method(http.MethodGet, "/", handlers.NewHistoryHandler(s.runner))
			r.Method(http.MethodGet, "/{id}", handlers.NewHistoryRunHandler(s.runner))
		})
	})

	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
// On shutdown a cycle in progress is canceled and waited for, so the
// devices are back up before Run returns.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	if s.triggers != nil {
		next, msg, _ := s.triggers.NextRun()
		s.logger.Info("starting cron triggers", "next_run", next, "message", msg)
		s.triggers.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"addr", s.addr,
			"devices", len(s.system.Tree.Devices()),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		err = s.httpServer.Shutdown(shutdownCtx)
	}

	s.stopRuns()
	s.system.Tree.Release()
	s.runner.Wait()
	return err
}
