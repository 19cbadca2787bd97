package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"ZepixTrader/internal/di"
	"ZepixTrader/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server, price monitor and background workers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	ctx := cmd.Context()
	app, cleanup, err := di.InitializeApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()

	// Run returns on SIGINT/SIGTERM after flushing state.
	return app.Run(ctx)
}
