/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/sapphybara/change-and-charm-api/config"
	"github.com/sapphybara/change-and-charm-api/internal/db"
	"github.com/sapphybara/change-and-charm-api/internal/logger"
	"github.com/spf13/cobra"
)

var migrateSteps int

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		logger.Setup(cfg.LogLevel)

		if err := db.MigrateUp(cfg.Database.DSN()); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		slog.Info("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Long: `Roll back the last --steps migrations. Without --steps every
migration is rolled back, which drops all bites, reviews and users.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		logger.Setup(cfg.LogLevel)

		if err := db.MigrateDown(cfg.Database.DSN(), migrateSteps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		slog.Info("migrations rolled back", "steps", migrateSteps)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 0, "number of migrations to roll back (0 rolls back all)")
}
