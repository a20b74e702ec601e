// Package main provides the MAR API service entry point.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/alerts"
	"github.com/carehaven/go-mar/internal/api"
	"github.com/carehaven/go-mar/internal/config"
	"github.com/carehaven/go-mar/internal/domain/grouphome"
	"github.com/carehaven/go-mar/internal/domain/intake"
	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/internal/infrastructure/memory"
	"github.com/carehaven/go-mar/internal/infrastructure/postgres"
	"github.com/carehaven/go-mar/internal/infrastructure/redpanda"
	"github.com/carehaven/go-mar/internal/observability/logging"
	"github.com/carehaven/go-mar/internal/observability/metrics"
	"github.com/carehaven/go-mar/internal/observability/tracing"
	"github.com/carehaven/go-mar/internal/session"
	"github.com/carehaven/go-mar/pkg/circuitbreaker"
	"github.com/carehaven/go-mar/pkg/idempotency"
	"github.com/carehaven/go-mar/pkg/workerpool"
)

const serviceName = "mar-api"

func main() {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Medication administration record service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(topicsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads and validates configuration and builds the logger
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env, serviceName)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	var relay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runServer(cmd.Context(), cfg, logger, relay)
		},
	}
	cmd.Flags().BoolVar(&relay, "relay", false, "run the outbox relay in-process (Postgres mode)")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, relay bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	m := metrics.New(prometheus.DefaultRegisterer)

	sessions, err := session.NewJWTStore(cfg.JWTSecret, cfg.SessionTTL, session.DefaultCredentials(), logger)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}

	deps := api.Deps{
		ServiceName: serviceName,
		GroupHomes:  grouphome.NewService(memory.NewGroupHomeStore(), logger),
		Intake:      intake.NewService(intake.DefaultSchema(), memory.NewIntakeStore(), logger),
		Sessions:    sessions,
		Metrics:     m,
		Logger:      logger,
	}

	var store medication.Store
	if cfg.UseMemoryStore() {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := memory.NewMedicationStore()
		pipeline, err := newAlertPipeline(cfg, idempotency.NewMemoryInbox(idempotency.DefaultConfig()), m, logger)
		if err != nil {
			return err
		}
		pipeline.Start()
		defer pipeline.Stop()
		mem.OnEvent(pipeline.Dispatch)
		store = mem
	} else {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("connected to database")

		if _, err := postgres.Migrate(ctx, pool, logger); err != nil {
			return err
		}
		store = postgres.NewMedicationStore(pool, logger)
		deps.Ready = pool.Ping

		if relay {
			stopRelay, err := startRelay(ctx, cfg, pool, m, logger)
			if err != nil {
				return err
			}
			defer stopRelay()
		}
	}
	deps.Medications = medication.NewService(store, logger, medication.WithObserver(m))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting MAR API", zap.String("port", cfg.Port), zap.Bool("memory_store", cfg.UseMemoryStore()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

// newAlertPipeline wires the notifier, breaker and inbox into a pipeline
func newAlertPipeline(cfg *config.Config, inbox idempotency.Processor, m *metrics.Metrics, logger *zap.Logger) (*alerts.Pipeline, error) {
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
		return nil, fmt.Errorf("create breaker: %w", err)
	}

	proc := alerts.NewProcessor(inbox, notifier, cfg.LowSupplyThreshold, logger,
		alerts.WithBreaker(breaker),
		alerts.WithResultCounter(m.AlertResult))
	return alerts.NewPipeline(proc, workerpool.DefaultConfig(), logger)
}

// startRelay runs the outbox relay alongside the API and returns its stop
// function
func startRelay(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, m *metrics.Metrics, logger *zap.Logger) (func(), error) {
	producerCfg := redpanda.DefaultProducerConfig()
	if len(cfg.KafkaBrokers) > 0 {
		producerCfg.Brokers = cfg.KafkaBrokers
	}
	producer, err := redpanda.NewProducer(producerCfg, logger, redpanda.WithProducedCounter(m.KafkaMessagesProduced.Inc))
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	relay := postgres.NewRelay(pool, producer, postgres.DefaultRelayConfig(), logger,
		postgres.WithPendingGauge(m.SetOutboxPending))
	relay.Start(ctx)
	logger.Info("outbox relay started", zap.Strings("brokers", producerCfg.Brokers))
	return func() {
		relay.Stop()
		producer.Close()
	}, nil
}
