package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/infrastructure/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.UseMemoryStore() {
				return fmt.Errorf("DATABASE_URL is required to migrate")
			}

			ctx := cmd.Context()
			pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.Migrate(ctx, pool, logger)
			if err != nil {
				return err
			}
			logger.Info("migrations complete", zap.Int("applied", applied))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List embedded migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations, err := postgres.LoadMigrations()
			if err != nil {
				return err
			}
			for _, m := range migrations {
				fmt.Fprintf(cmd.OutOrStdout(), "%03d  %s\n", m.Version, m.Name)
			}
			return nil
		},
	})
	return cmd
}
