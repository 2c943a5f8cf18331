package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/killer-ai/killer/pkg/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve explain/answer tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol, so logs stay quiet by default.
			a, err := openApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			return mcp.New(a.pipeline, version, a.log).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
