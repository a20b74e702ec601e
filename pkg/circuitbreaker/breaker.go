// Package circuitbreaker guards calls to external providers with
// sony/gobreaker and reports breaker activity through OpenTelemetry.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrOpen is returned while the breaker rejects calls
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker state
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

// Gauge maps a state onto the circuit_breaker_state gauge scale
func (s State) Gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Config tunes a breaker
type Config struct {
	Name string
	// MaxRequests passes through while half-open
	MaxRequests uint32
	// Interval clears the closed-state counts
	Interval time.Duration
	// Timeout is how long the breaker stays open
	Timeout time.Duration
	// FailureThreshold trips the breaker on consecutive failures
	FailureThreshold uint32
	// FailureRatio trips the breaker once MinRequests have been seen
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns defaults for an outbound notification provider
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      20,
	}
}

// StateObserver is told about every transition
type StateObserver func(name string, state State)

// Option customizes a breaker
type Option func(*Breaker)

// WithStateObserver registers fn for state transitions
func WithStateObserver(fn StateObserver) Option {
	return func(b *Breaker) { b.observers = append(b.observers, fn) }
}

// Breaker wraps gobreaker with tracing and counters
type Breaker struct {
	cb        *gobreaker.CircuitBreaker
	name      string
	logger    *zap.Logger
	tracer    trace.Tracer
	observers []StateObserver

	calls    metric.Int64Counter
	rejected metric.Int64Counter
}

// New creates a breaker
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Breaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("circuit-breaker"),
	}
	for _, opt := range opts {
		opt(b)
	}

	meter := otel.Meter("circuit-breaker")
	var err error
	if b.calls, err = meter.Int64Counter("circuit_breaker_calls_total",
		metric.WithDescription("Calls through the circuit breaker, by outcome")); err != nil {
		return nil, fmt.Errorf("create calls counter: %w", err)
	}
	if b.rejected, err = meter.Int64Counter("circuit_breaker_rejected_total",
		metric.WithDescription("Calls rejected while the circuit was open")); err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.MinRequests {
				return c.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", string(mapState(from))),
				zap.String("to", string(mapState(to))))
			for _, fn := range b.observers {
				fn(name, mapState(to))
			}
		},
	})
	return b, nil
}

// Do runs fn unless the circuit is open, in which case it returns ErrOpen
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// Execute runs fn through the breaker and returns its result
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ctx, span := b.tracer.Start(ctx, "circuit_breaker.execute",
		trace.WithAttributes(
			attribute.String("breaker", b.name),
			attribute.String("state", string(b.State())),
		))
	defer span.End()

	name := metric.WithAttributes(attribute.String("name", b.name))
	result, err := b.cb.Execute(func() (interface{}, error) { return fn(ctx) })
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.rejected.Add(ctx, 1, name)
		span.SetAttributes(attribute.Bool("circuit_open", true))
		return nil, fmt.Errorf("%s: %w", b.name, ErrOpen)
	case err != nil:
		b.calls.Add(ctx, 1, name, metric.WithAttributes(attribute.String("outcome", "failure")))
		span.RecordError(err)
		return nil, err
	}
	b.calls.Add(ctx, 1, name, metric.WithAttributes(attribute.String("outcome", "success")))
	return result, nil
}

// State returns the current state
func (b *Breaker) State() State {
	return mapState(b.cb.State())
}

// Name returns the breaker name
func (b *Breaker) Name() string { return b.name }

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
