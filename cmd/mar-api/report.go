package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/internal/infrastructure/postgres"
	"github.com/carehaven/go-mar/internal/report"
)

func reportCmd() *cobra.Command {
	var clientID, clientName, from, to, outDir string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a client's MAR report to a PDF file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.UseMemoryStore() {
				return fmt.Errorf("DATABASE_URL is required to build reports")
			}
			dateRange, err := report.ParseDateRange(from, to)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := medication.NewService(postgres.NewMedicationStore(pool, logger), logger)
			entries, err := svc.ClientMAR(ctx, clientID)
			if err != nil {
				return err
			}
			history, err := svc.History(ctx, clientID)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			doc, err := report.Generate(report.Input{
				ClientID:        clientID,
				ClientName:      clientName,
				Medications:     entries,
				Administrations: history,
				Range:           dateRange,
				GeneratedAt:     now,
			})
			if err != nil {
				return err
			}
			path := filepath.Join(outDir, report.Filename(now))
			if err := doc.Save(path); err != nil {
				return err
			}
			logger.Info("report written",
				zap.String("client_id", clientID),
				zap.String("path", path),
				zap.Int("pages", len(doc.Layout.Pages)))
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	cmd.Flags().StringVar(&clientName, "name", "", "client display name")
	cmd.Flags().StringVar(&from, "from", "", "first day of history (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day of history (YYYY-MM-DD)")
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}
