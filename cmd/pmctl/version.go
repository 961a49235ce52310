package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nomis52/dpm/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pmctl %s\n", buildinfo.Get())
		},
	}
}
