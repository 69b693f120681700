package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"turnoplus/backend/internal/store/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			dir := migrationsDir(cmd, cfg.MigrationsDir)

			db, err := openDatabase(cmd.Context(), log, cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(log, db)

			n, err := postgres.NewMigrator(db, dir).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			log.Info("migrations applied", slog.Int("count", n), slog.String("dir", dir))
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to the configured one)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			dir := migrationsDir(cmd, cfg.MigrationsDir)

			db, err := openDatabase(cmd.Context(), log, cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(log, db)

			statuses, err := postgres.NewMigrator(db, dir).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-8s %-40s %-8s %s\n", "VERSION", "NAME", "APPLIED", "AT")
			for _, s := range statuses {
				at := "-"
				if s.AppliedAt != nil {
					at = s.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%-8d %-40s %-8t %s\n", s.Version, s.Name, s.Applied, at)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to the configured one)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(cmd *cobra.Command, fallback string) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return fallback
}
