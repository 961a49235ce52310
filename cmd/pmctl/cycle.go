package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomis52/dpm/buildinfo"
	"github.com/nomis52/dpm/config"
	"github.com/nomis52/dpm/devicetree"
	"github.com/nomis52/dpm/metrics"
	"github.com/nomis52/dpm/pm"
	"github.com/nomis52/dpm/server/runner"
)

const flushTimeout = 10 * time.Second

func newCycleCmd(opts *options) *cobra.Command {
	var (
		message string
		dwell   time.Duration
		count   int
	)
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run the device tree through suspend and resume",
		Long: `Registers the configured devices, suspends them with the configured
sleep message, waits for the dwell time and resumes them. Metrics are
pushed to monitoring.victoriametrics_url when it is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if message != "" {
				cfg.Cycle.Message = message
			}
			if cmd.Flags().Changed("dwell") {
				cfg.Cycle.Dwell = dwell
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCycles(ctx, cfg, count, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "sleep message: suspend, freeze, quiesce or hibernate")
	cmd.Flags().DurationVar(&dwell, "dwell", 0, "how long devices stay suspended")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of cycles to run")
	return cmd
}

func runCycles(ctx context.Context, cfg *config.Config, count int, out io.Writer) error {
	msg, err := cfg.CycleMessage()
	if err != nil {
		return err
	}
	if count < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	props := buildinfo.Get()
	logger.Info("pmctl cycle started",
		"version", props.Version,
		"git_commit", props.GitCommit,
		"message", msg,
		"devices", len(cfg.Devices),
	)

	var (
		ctrlOpts []pm.ControllerOption
		push     *metrics.PushRegistry
	)
	if cfg.Monitoring.VictoriaMetricsURL != "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		push = metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.VictoriaMetricsURL,
			Prefix:   cfg.Monitoring.MetricsPrefix,
			Job:      cfg.Monitoring.JobName,
			Instance: hostname,
		})
		m, err := pm.NewMetrics(push)
		if err != nil {
			return fmt.Errorf("creating metrics: %w", err)
		}
		ctrlOpts = append(ctrlOpts, pm.WithMetrics(m))
	}

	sys, err := devicetree.NewSystem(cfg, logger, ctrlOpts...)
	if err != nil {
		return err
	}
	defer sys.Tree.Release()

	var errs []error
	for i := range count {
		if ctx.Err() != nil {
			break
		}
		if err := runner.Cycle(ctx, sys.Controller, msg, cfg.Cycle.Dwell); err != nil {
			errs = append(errs, fmt.Errorf("cycle %d: %w", i+1, err))
		}
	}

	if push != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer cancel()
		if err := push.Flush(flushCtx); err != nil {
			errs = append(errs, fmt.Errorf("pushing metrics: %w", err))
		}
	}

	if err := printDevices(out, sys.Controller.Devices()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func printDevices(out io.Writer, devices []pm.DeviceInfo) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tPARENT\tDRIVER\tASYNC\tSTATUS")
	for _, d := range devices {
		parent := d.Parent
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", d.Name, parent, d.Driver, d.Async, d.Status)
	}
	return tw.Flush()
}
