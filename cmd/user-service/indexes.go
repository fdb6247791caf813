package main

import (
	"github.com/spf13/cobra"

	"github.com/microshop/user-service/internal/app"
	"github.com/microshop/user-service/pkg/logger"
)

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "Creates the users collection and its unique indexes",
	Long: `Creates the users collection when missing and the unique indexes on
username and email, then exits. The same step runs on every serve startup.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Close() }()

		return app.EnsureIndexes(cmd.Context(), cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(indexesCmd)
}
