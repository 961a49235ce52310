package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nomis52/dpm/server"
)

func newServeCmd(opts *options) *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled cycles",
		Long: `Starts the HTTP API. Cycles run on POST /api/cycle, on the
cycle.schedule cron entries, and on SIGUSR1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			var srvOpts []server.Option
			srvOpts = append(srvOpts, server.WithLogger(logger))
			if listenAddr != "" {
				srvOpts = append(srvOpts, server.WithListenAddr(listenAddr))
			}
			srv, err := server.New(cfg, srvOpts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(ctx)
			})
			g.Go(func() error {
				triggerOnSignal(ctx, srv)
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address, overriding server.listen_addr")
	return cmd
}

// triggerOnSignal starts a cycle on every SIGUSR1 until ctx is done.
func triggerOnSignal(ctx context.Context, srv *server.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if err := srv.TriggerCycle(); err != nil {
				srv.Logger().Warn("cycle not started", "error", err)
			}
		}
	}
}
