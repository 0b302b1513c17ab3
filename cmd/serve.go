package cmd

import (
	"context"
	"fmt"

	"github.com/giantswarm/aifactory/internal/app"

	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveCmd starts the orchestrator: the gateway, the readiness loop,
// and the recipe directory watch.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the aifactory orchestrator and gateway",
	Long: `Starts the orchestrator's readiness loop, the recipe directory
watch, and the HTTP gateway that exposes service, replica-group,
inference, vector-db, and monitoring-session operations.

Configuration is read entirely from the environment; see
internal/config for the variables it recognizes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}
