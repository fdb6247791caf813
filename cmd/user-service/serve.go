package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microshop/user-service/internal/app"
	"github.com/microshop/user-service/pkg/logger"
)

// serveCmd represents the serve command; it is also what the bare binary runs.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the user service HTTP API",
	Long: `Connects to MongoDB, Redis and the event broker, then serves the HTTP API
until SIGINT or SIGTERM. Usage:

	user-service serve
`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	application, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return fmt.Errorf("startup: %w", err)
	}
	return application.Run(cmd.Context())
}
