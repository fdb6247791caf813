// Command user-service runs the user management HTTP API.
//
//	@title			User Service API
//	@version		1.0
//	@description	User management service: CRUD over users with a read-through cache and lifecycle events.
//	@BasePath		/
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/microshop/user-service/internal/pkg/config"
	"github.com/microshop/user-service/pkg/logger"
)

const serviceName = "user-service"

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "User management service",
	Long:          "Serves the users HTTP API backed by MongoDB, a Redis read-through cache and a lifecycle event topic.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

// setup loads configuration and initialises the process-wide logger.
func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return nil, zerolog.Logger{}, err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		File:    cfg.LogFile,
		Service: serviceName,
	})
	return cfg, log, nil
}
