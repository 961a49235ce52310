package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nomis52/dpm/devicetree"
)

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and device tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			sys, err := devicetree.NewSystem(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return fmt.Errorf("invalid device tree: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration validation successful: %s (%d devices)\n",
				opts.configPath, len(sys.Tree.Devices()))
			return nil
		},
	}
}
