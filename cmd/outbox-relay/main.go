// Package main provides the outbox relay entry point. It publishes committed
// MAR events from Postgres to the event stream and keeps the outbox table
// pruned.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/config"
	"github.com/carehaven/go-mar/internal/infrastructure/postgres"
	"github.com/carehaven/go-mar/internal/infrastructure/redpanda"
	"github.com/carehaven/go-mar/internal/observability/logging"
	"github.com/carehaven/go-mar/internal/observability/metrics"
)

const serviceName = "outbox-relay"

func main() {
	var metricsAddr string
	var statsEvery time.Duration
	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Relay MAR outbox entries to the event stream",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), metricsAddr, statsEvery)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9101", "address for /metrics")
	cmd.Flags().DurationVar(&statsEvery, "stats-interval", 30*time.Second, "how often outbox stats are logged")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, metricsAddr string, statsEvery time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.UseMemoryStore() {
		return errors.New("DATABASE_URL is required")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env, serviceName)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	m := metrics.New(prometheus.DefaultRegisterer)

	producerCfg := redpanda.DefaultProducerConfig()
	if len(cfg.KafkaBrokers) > 0 {
		producerCfg.Brokers = cfg.KafkaBrokers
	}
	producer, err := redpanda.NewProducer(producerCfg, logger, redpanda.WithProducedCounter(m.KafkaMessagesProduced.Inc))
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", producerCfg.Brokers))

	relay := postgres.NewRelay(pool, producer, postgres.DefaultRelayConfig(), logger,
		postgres.WithPendingGauge(m.SetOutboxPending))

	sched, err := newMaintenance(relay, cfg.OutboxCleanupSchedule, cfg.OutboxRetention, statsEvery, logger)
	if err != nil {
		return err
	}

	relay.Start(ctx)
	sched.Start()
	logger.Info("outbox relay started")

	srv := &http.Server{Addr: metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()
	relay.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("outbox relay stopped")
	return nil
}

// maintenance runs outbox housekeeping on a cron schedule
type maintenance struct {
	cron      *cron.Cron
	relay     *postgres.Relay
	retention time.Duration
	logger    *zap.Logger
}

func newMaintenance(relay *postgres.Relay, schedule string, retention, statsEvery time.Duration, logger *zap.Logger) (*maintenance, error) {
	m := &maintenance{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		relay:     relay,
		retention: retention,
		logger:    logger,
	}
	if _, err := m.cron.AddFunc(schedule, m.cleanup); err != nil {
		return nil, fmt.Errorf("schedule outbox cleanup %q: %w", schedule, err)
	}
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", statsEvery), m.stats); err != nil {
		return nil, fmt.Errorf("schedule outbox stats: %w", err)
	}
	return m, nil
}

func (m *maintenance) Start() {
	m.cron.Start()
}

func (m *maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *maintenance) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	moved, err := m.relay.MoveToDeadLetter(ctx)
	if err != nil {
		m.logger.Error("dead-letter sweep failed", zap.Error(err))
	} else if moved > 0 {
		m.logger.Warn("outbox entries dead-lettered", zap.Int64("count", moved))
	}

	deleted, err := m.relay.CleanupProcessed(ctx, m.retention)
	if err != nil {
		m.logger.Error("outbox cleanup failed", zap.Error(err))
		return
	}
	m.logger.Info("outbox cleanup complete", zap.Int64("deleted", deleted), zap.Duration("retention", m.retention))
}

func (m *maintenance) stats() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := m.relay.Stats(ctx)
	if err != nil {
		m.logger.Warn("outbox stats failed", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.Int64("pending", s.Pending),
		zap.Int64("processed_24h", s.Processed24h),
		zap.Int64("exhausted", s.Exhausted),
	}
	if s.OldestPending != nil {
		fields = append(fields, zap.Duration("oldest_pending_age", time.Since(*s.OldestPending)))
	}
	m.logger.Info("outbox stats", fields...)
}
