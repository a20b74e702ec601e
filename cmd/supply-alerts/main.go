// Package main provides the supply alert service entry point. It consumes
// administration events and emails staff when a client's supply runs low.
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
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/alerts"
	"github.com/carehaven/go-mar/internal/config"
	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/internal/infrastructure/postgres"
	"github.com/carehaven/go-mar/internal/infrastructure/redpanda"
	"github.com/carehaven/go-mar/internal/observability/logging"
	"github.com/carehaven/go-mar/internal/observability/metrics"
	"github.com/carehaven/go-mar/pkg/circuitbreaker"
	"github.com/carehaven/go-mar/pkg/idempotency"
	"github.com/carehaven/go-mar/pkg/workerpool"
)

const serviceName = "supply-alerts"

func main() {
	var metricsAddr string
	var workers int
	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Send low supply alerts from the administration stream",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), metricsAddr, workers)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9102", "address for /metrics")
	cmd.Flags().IntVar(&workers, "workers", workerpool.DefaultConfig().Workers, "concurrent alert workers")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, metricsAddr string, workers int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env, serviceName)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	var inbox idempotency.Processor
	if cfg.UseMemoryStore() {
		logger.Warn("DATABASE_URL not set, alert deduplication does not survive restarts")
		inbox = idempotency.NewMemoryInbox(idempotency.DefaultConfig())
	} else {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		pgInbox := idempotency.NewInbox(pool, idempotency.DefaultConfig(), logger)
		pgInbox.StartCleanup(ctx)
		defer pgInbox.Stop()
		inbox = pgInbox
	}

	var notifier alerts.Notifier = alerts.LogNotifier{Logger: logger}
	if cfg.AlertsEnabled() {
		notifier = alerts.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.AlertFromEmail, cfg.AlertToEmails)
	} else {
		logger.Info("SendGrid not configured, low supply alerts are logged only")
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("sendgrid"), logger,
		circuitbreaker.WithStateObserver(func(name string, s circuitbreaker.State) {
			m.BreakerState(name, s.Gauge())
		}))
	if err != nil {
		return fmt.Errorf("create breaker: %w", err)
	}

	proc := alerts.NewProcessor(inbox, notifier, cfg.LowSupplyThreshold, logger,
		alerts.WithBreaker(breaker),
		alerts.WithResultCounter(m.AlertResult))

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = workers
	pipeline, err := alerts.NewPipeline(proc, poolCfg, logger)
	if err != nil {
		return err
	}
	pipeline.Start()
	defer pipeline.Stop()

	consumerCfg := redpanda.DefaultConsumerConfig()
	if len(cfg.KafkaBrokers) > 0 {
		consumerCfg.Brokers = cfg.KafkaBrokers
	}
	consumerCfg.GroupID = cfg.KafkaConsumerGroup
	consumerCfg.Topics = []string{medication.StreamAdministrations}

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.Message) error {
		return pipeline.HandleMessage(ctx, string(msg.Key), msg.Value)
	}, logger, redpanda.WithConsumedCounter(m.KafkaMessagesConsumed.Inc))
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	consumer.Start(ctx)
	logger.Info("supply alert service started",
		zap.Strings("topics", consumerCfg.Topics),
		zap.String("group", consumerCfg.GroupID),
		zap.Int("threshold", cfg.LowSupplyThreshold))

	srv := &http.Server{Addr: metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("supply alert service stopped", zap.Int64("alerts_completed", pipeline.Stats().Completed))
	return nil
}
