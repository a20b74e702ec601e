package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Inbox is the PostgreSQL-backed Processor
type Inbox struct {
	pool   *pgxpool.Pool
	config Config
	logger *zap.Logger
	tracer trace.Tracer

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Processor = (*Inbox)(nil)

// NewInbox creates an inbox on pool
func NewInbox(pool *pgxpool.Pool, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
	}
}

// Process claims key, runs fn and records the outcome
func (i *Inbox) Process(ctx context.Context, key, handler string, payload json.RawMessage, fn HandlerFunc) (*Result, error) {
	ctx, span := i.tracer.Start(ctx, "inbox.process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handler),
		))
	defer span.End()

	entry, err := i.get(ctx, key)
	if err != nil {
		return nil, err
	}

	decision, done, err := admit(entry, i.config.RecoveryTimeout, time.Now())
	if err != nil || done != nil {
		span.SetAttributes(attribute.Bool("duplicate", done != nil))
		return done, err
	}
	if decision == admitStale {
		if err := i.setStatus(ctx, key, StatusRecoverable, nil); err != nil {
			return nil, fmt.Errorf("mark stale entry recoverable: %w", err)
		}
	}

	if err := i.claim(ctx, key, handler, payload); err != nil {
		return nil, err
	}

	output, herr := fn(ctx, payload)
	if herr != nil {
		if err := i.setStatus(ctx, key, failureStatus(herr), errorResult(herr)); err != nil {
			i.logger.Error("record handler failure", zap.String("key", key), zap.Error(err))
		}
		span.RecordError(herr)
		return nil, herr
	}

	if err := i.setStatus(ctx, key, StatusFinished, output); err != nil {
		// The handler already ran; a redelivery will find STARTED and wait
		// out the recovery timeout.
		i.logger.Error("mark inbox entry finished", zap.String("key", key), zap.Error(err))
	}
	return &Result{Recovered: decision != admitNew, Output: output}, nil
}

func (i *Inbox) get(ctx context.Context, key string) (*Entry, error) {
	e := &Entry{}
	err := i.pool.QueryRow(ctx, `
		SELECT idempotency_key, handler_name, status, payload, result, created_at, updated_at, expires_at
		FROM inbox WHERE idempotency_key = $1`, key,
	).Scan(&e.Key, &e.Handler, &e.Status, &e.Payload, &e.Result, &e.CreatedAt, &e.UpdatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox entry: %w", err)
	}
	return e, nil
}

// claim inserts the key as STARTED, taking over only RECOVERABLE entries
func (i *Inbox) claim(ctx context.Context, key, handler string, payload json.RawMessage) error {
	var returned string
	err := i.pool.QueryRow(ctx, `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE inbox.status = 'RECOVERABLE'
		RETURNING idempotency_key`,
		key, handler, string(StatusStarted), []byte(payload), time.Now().Add(i.config.TTL),
	).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("claim inbox entry: %w", err)
	}
	return nil
}

func (i *Inbox) setStatus(ctx context.Context, key string, status Status, result json.RawMessage) error {
	_, err := i.pool.Exec(ctx, `
		UPDATE inbox SET status = $1, result = COALESCE($2, result), updated_at = NOW()
		WHERE idempotency_key = $3`, string(status), []byte(result), key)
	return err
}

// StartCleanup deletes expired entries every CleanupInterval until Stop
func (i *Inbox) StartCleanup(ctx context.Context) {
	ctx, i.cancel = context.WithCancel(ctx)
	i.done = make(chan struct{})
	go func() {
		defer close(i.done)
		ticker := time.NewTicker(i.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := i.Cleanup(ctx); err != nil {
					i.logger.Error("inbox cleanup failed", zap.Error(err))
				} else if n > 0 {
					i.logger.Info("inbox cleanup completed", zap.Int64("deleted", n))
				}
			}
		}
	}()
}

// Stop ends the cleanup loop
func (i *Inbox) Stop() {
	if i.cancel == nil {
		return
	}
	i.cancel()
	<-i.done
}

// Cleanup deletes expired entries
func (i *Inbox) Cleanup(ctx context.Context) (int64, error) {
	tag, err := i.pool.Exec(ctx, `DELETE FROM inbox WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup inbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecoverStale marks STARTED entries older than RecoveryTimeout RECOVERABLE
func (i *Inbox) RecoverStale(ctx context.Context) (int64, error) {
	tag, err := i.pool.Exec(ctx, `
		UPDATE inbox SET status = 'RECOVERABLE', updated_at = NOW()
		WHERE status = 'STARTED' AND updated_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(i.config.RecoveryTimeout.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("recover stale entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
