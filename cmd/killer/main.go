package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var opts rootOptions

	root := &cobra.Command{
		Use:           "killer",
		Short:         "Killer: rate-limited, cached AI explain/answer core for the browser extension",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "killer.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep state in memory instead of the database")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCmd(&opts),
		newAskCmd(&opts),
		newQuotaCmd(&opts),
		newCacheCmd(&opts),
		newSettingsCmd(&opts),
		newMCPCmd(&opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
