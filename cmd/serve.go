package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-audit/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the audit worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), server.ModeServe)
		},
	}
}

// newWorkerCmd runs consumers only. It is meant for deployments where the API
// and the workers share a Pub/Sub subscription but scale separately.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the audit worker pool",
		Long: `Consumes queued audits without exposing the audit API. /healthz and
/metrics stay available on the configured port.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), server.ModeWorker)
		},
	}
}

func run(ctx context.Context, mode server.Mode) error {
	cfg, err := resolveConfig(ctx)
	if err != nil {
		return err
	}
	app, err := newRunner(ctx, cfg, mode)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
