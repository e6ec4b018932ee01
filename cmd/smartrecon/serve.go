package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RowanDark/smartrecon/config"
	"github.com/RowanDark/smartrecon/metrics"
	"github.com/RowanDark/smartrecon/server"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var maxScans int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web interface and JSON API",
		Long: `serve starts the Smart Grep web interface on --listen. Scans submitted
through the page or POST /api/scans use the same defaults as the command
line (sources, wordlists, scope, probing). Prometheus metrics are exposed
on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger, err := setup(cmd, cfg)
			if err != nil {
				return err
			}
			defer logger.Close()

			collector := metrics.New(true)
			a, err := newApp(cfg, logger, collector)
			if err != nil {
				return err
			}
			if a.limiter != nil {
				startRateLimitMonitor(ctx, a.limiter, logger)
			}

			srv := server.New(server.Options{
				Scanner:    a.engine,
				Classifier: a.classifier,
				Logger:     logger,
				Metrics:    collector,
				Defaults:   a.defaults,
				MaxScans:   maxScans,
			})
			return srv.ListenAndServe(ctx, cfg.ListenAddr)
		},
	}
	cmd.Flags().IntVar(&maxScans, "max-scans", 100, "Scans kept in memory before the oldest is evicted")
	return cmd
}
