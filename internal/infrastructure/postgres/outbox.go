// Package postgres stores MAR state in PostgreSQL and relays its events
// through a transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

// relayLockID is the advisory lock that keeps a single relay active
const relayLockID int64 = 0x6d6172

// OutboxEntry is an event waiting to be published
type OutboxEntry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	Topic         string
	Key           string
	CreatedAt     time.Time
	RetryCount    int
	LastError     *string
}

// EntryFromEvent serializes a domain event into an outbox entry
func EntryFromEvent(e *medication.Event) (*OutboxEntry, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	return &OutboxEntry{
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     string(e.EventType),
		Payload:       payload,
		Topic:         e.Stream(),
		Key:           e.Key(),
	}, nil
}

// WriteEntry inserts an entry inside tx so it commits with the state change
// that produced it
func WriteEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, kafka_topic, kafka_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		entry.AggregateID, entry.AggregateType, entry.EventType,
		[]byte(entry.Payload), entry.Topic, entry.Key,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}

func writeEvents(ctx context.Context, tx pgx.Tx, events []*medication.Event) error {
	for _, e := range events {
		if e == nil {
			continue
		}
		entry, err := EntryFromEvent(e)
		if err != nil {
			return err
		}
		if err := WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}

// RelayConfig tunes the relay loop
type RelayConfig struct {
	BatchSize       int
	PollInterval    time.Duration
	MaxRetries      int
	DeadLetterTopic string
}

// DefaultRelayConfig returns the relay defaults
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:       100,
		PollInterval:    250 * time.Millisecond,
		MaxRetries:      5,
		DeadLetterTopic: "mar.dead-letter",
	}
}

// Publisher delivers an entry payload to the event stream
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Relay polls the outbox and publishes pending entries in creation order
type Relay struct {
	pool      *pgxpool.Pool
	config    RelayConfig
	publisher Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	onPending func(int64)

	cancel context.CancelFunc
	done   chan struct{}
}

// RelayOption customizes a Relay
type RelayOption func(*Relay)

// WithPendingGauge reports the pending entry count after every stats query
func WithPendingGauge(fn func(int64)) RelayOption {
	return func(r *Relay) { r.onPending = fn }
}

// NewRelay creates a relay; call Start to begin polling
func NewRelay(pool *pgxpool.Pool, publisher Publisher, cfg RelayConfig, logger *zap.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = DefaultRelayConfig().DeadLetterTopic
	}
	r := &Relay{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox-relay"),
		onPending: func(int64) {},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the poll loop until ctx is cancelled or Stop is called
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("poll_interval", r.config.PollInterval))
}

// Stop cancels the loop and waits for the in-flight batch
func (r *Relay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("outbox relay stopped")
}

func (r *Relay) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RelayBatch(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox batch failed", zap.Error(err))
			}
		}
	}
}

// RelayBatch publishes up to BatchSize pending entries and returns how many
// were published. It is a no-op when another relay holds the lock.
func (r *Relay) RelayBatch(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.relay_batch")
	defer span.End()

	// The advisory lock belongs to a session, so lock and unlock share a conn.
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", relayLockID).Scan(&acquired); err != nil {
		return 0, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		return 0, nil
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", relayLockID)

	entries, err := r.pending(ctx, conn.Conn())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	return r.publishInOrder(entries, func(entry *OutboxEntry) error {
		return r.publish(ctx, conn.Conn(), entry)
	}), nil
}

// publishInOrder publishes entries in id order. Once an entry fails, later
// entries with the same key wait for the next batch so a key never
// publishes out of order.
func (r *Relay) publishInOrder(entries []*OutboxEntry, publish func(*OutboxEntry) error) int {
	blocked := make(map[string]struct{})
	published := 0
	for _, entry := range entries {
		if _, ok := blocked[entry.Key]; ok {
			continue
		}
		if err := publish(entry); err != nil {
			blocked[entry.Key] = struct{}{}
			r.logger.Warn("outbox entry not published",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.String("key", entry.Key),
				zap.Int("retry_count", entry.RetryCount+1),
				zap.Error(err))
			continue
		}
		published++
	}
	return published
}

func (r *Relay) pending(ctx context.Context, conn *pgx.Conn) ([]*OutboxEntry, error) {
	rows, err := conn.Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL AND retry_count < $1
		ORDER BY id ASC
		LIMIT $2`,
		r.config.MaxRetries, r.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query pending entries: %w", err)
	}
	return pgx.CollectRows(rows, scanEntry)
}

func scanEntry(row pgx.CollectableRow) (*OutboxEntry, error) {
	e := &OutboxEntry{}
	err := row.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.Payload,
		&e.Topic, &e.Key, &e.CreatedAt, &e.RetryCount, &e.LastError)
	return e, err
}

func (r *Relay) publish(ctx context.Context, conn *pgx.Conn, entry *OutboxEntry) error {
	ctx, span := r.tracer.Start(ctx, "outbox.publish",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("topic", entry.Topic),
		))
	defer span.End()

	if err := r.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
		span.RecordError(err)
		if _, uerr := conn.Exec(ctx, `
			UPDATE outbox SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2`, err.Error(), entry.ID); uerr != nil {
			r.logger.Error("record outbox failure", zap.Int64("id", entry.ID), zap.Error(uerr))
		}
		return err
	}

	if _, err := conn.Exec(ctx, `UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1`, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// CleanupProcessed deletes entries published more than olderThan ago
func (r *Relay) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL AND processed_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

type deadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MoveToDeadLetter publishes entries that exhausted their retries to the
// dead-letter topic and marks them processed
func (r *Relay) MoveToDeadLetter(ctx context.Context) (int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL AND retry_count >= $1
		ORDER BY id ASC`, r.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query exhausted entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return 0, fmt.Errorf("scan exhausted entries: %w", err)
	}

	var moved int64
	for _, entry := range entries {
		payload, err := json.Marshal(deadLetter{
			OriginalTopic: entry.Topic,
			EventType:     entry.EventType,
			AggregateID:   entry.AggregateID,
			Payload:       entry.Payload,
			RetryCount:    entry.RetryCount,
			LastError:     entry.LastError,
			CreatedAt:     entry.CreatedAt,
		})
		if err != nil {
			continue
		}
		if err := r.publisher.Publish(ctx, r.config.DeadLetterTopic, entry.Key, payload); err != nil {
			r.logger.Error("publish dead letter", zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}
		if _, err := r.pool.Exec(ctx, `UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1`, entry.ID); err != nil {
			r.logger.Error("mark dead letter", zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}
		moved++
	}
	return moved, nil
}

// RelayStats summarizes the outbox
type RelayStats struct {
	Pending       int64
	Processed24h  int64
	Exhausted     int64
	OldestPending *time.Time
}

// Stats queries the outbox counters
func (r *Relay) Stats(ctx context.Context) (*RelayStats, error) {
	s := &RelayStats{}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count < $1),
			COUNT(*) FILTER (WHERE processed_at > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count >= $1),
			MIN(created_at) FILTER (WHERE processed_at IS NULL)
		FROM outbox`, r.config.MaxRetries,
	).Scan(&s.Pending, &s.Processed24h, &s.Exhausted, &s.OldestPending)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	r.onPending(s.Pending)
	return s, nil
}
