package main

import (
	"fmt"

	"callflow_backend/platform/config"
	"callflow_backend/platform/db"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply the embedded goose migrations to DATABASE_URL.

Examples:
  callctl migrate            # Apply pending migrations
  callctl migrate --status   # Show applied state of every migration`,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetBool("status")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.GetCallStore() != "postgres" {
				return fmt.Errorf("migrations need CALL_STORE=postgres")
			}

			if status {
				return db.MigrationStatus(cmd.Context(), cfg)
			}
			if err := db.RunMigrations(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().Bool("status", false, "Show migration status instead of applying")
	return cmd
}
