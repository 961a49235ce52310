// Command pmctl drives simulated device trees through power transitions.
//
//	pmctl validate -c config.yaml
//	pmctl cycle -c config.yaml --message hibernate
//	pmctl serve -c config.yaml
//	pmctl version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nomis52/dpm/config"
	"github.com/nomis52/dpm/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the flags shared by every subcommand.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "pmctl",
		Short: "Device power management test harness",
		Long: `pmctl registers a simulated device tree with the power management
controller and runs it through suspend and resume cycles, once from the
command line or repeatedly behind an HTTP server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newCycleCmd(opts),
		newServeCmd(opts),
		newValidateCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the config file named by --config.
func (o *options) load() (*config.Config, error) {
	if o.configPath == "" {
		return nil, fmt.Errorf("config flag (-c or --config) is required")
	}
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Logger, nil
}
