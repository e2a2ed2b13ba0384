// Package cmd defines the CLI commands for the site-audit executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-audit/internal/config"
	"github.com/JakeFAU/site-audit/internal/server"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const configKey configKeyType = "config"

// Runner is the part of server.App the commands drive. Tests swap in a fake.
type Runner interface {
	Run(ctx context.Context) error
}

// newRunner is the application factory. It's a variable so tests can
// replace it without building real infrastructure.
var newRunner = func(ctx context.Context, cfg config.Config, mode server.Mode) (Runner, error) {
	app, err := server.Build(ctx, cfg, mode)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "site-audit",
		Short: "Web page audits backed by PageSpeed, Open PageRank and SERP data.",
		Long: `site-audit accepts audit requests for a URL, queues them, and scores the page
from PageSpeed Insights, Open PageRank and SERP lookups. Providers are retried
and, when enabled, replaced by deterministic fallback values.`,
		SilenceUsage: true,

		// Config is loaded once here so every subcommand sees the same values.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (env vars override it)")

	cmd.AddCommand(newServeCmd(), newWorkerCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "site-audit: %v\n", err)
		os.Exit(1)
	}
}
