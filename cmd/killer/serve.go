package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/killer-ai/killer/pkg/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API for the extension",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen != "" {
				a.cfg.Listen = listen
			}
			a.log.Info("starting killer",
				zap.String("config", opts.configPath),
				zap.Bool("ephemeral", opts.ephemeral),
				zap.Int("daily_limit", a.cfg.Quota.DailyLimit),
			)
			srv := server.New(a.cfg.Listen, a.pipeline, a.registry, a.log,
				server.WithAllowedOrigins(a.cfg.AllowedOrigins...),
				server.WithExtensionIDs(a.cfg.ExtensionIDs...),
			)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
