package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig tunes the consumer group member
type ConsumerConfig struct {
	Brokers        []string
	GroupID        string
	Topics         []string
	SessionTimeout time.Duration
	// StartOffset is "earliest" or "latest" for groups without commits
	StartOffset string
}

// DefaultConsumerConfig returns the consumer defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:        []string{"localhost:9092"},
		GroupID:        "mar-supply-alerts",
		SessionTimeout: 30 * time.Second,
		StartOffset:    "earliest",
	}
}

// Message is a consumed record
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes one message. Offsets are committed only after the
// handler returns nil.
type Handler func(ctx context.Context, msg *Message) error

// Consumer polls a consumer group and hands records to its Handler in
// partition order
type Consumer struct {
	client   *kgo.Client
	handler  Handler
	logger   *zap.Logger
	tracer   trace.Tracer
	consumed func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ConsumerOption customizes a Consumer
type ConsumerOption func(*Consumer)

// WithConsumedCounter is called once per handled record
func WithConsumedCounter(fn func()) ConsumerOption {
	return func(c *Consumer) { c.consumed = fn }
}

// NewConsumer joins the group; call Start to begin polling
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *zap.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.AutoCommitMarks(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke", zap.Error(err))
			}
		}),
	}
	if cfg.SessionTimeout > 0 {
		kopts = append(kopts, kgo.SessionTimeout(cfg.SessionTimeout))
	}
	if cfg.StartOffset == "latest" {
		kopts = append(kopts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	} else {
		kopts = append(kopts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	c := &Consumer{
		client:   client,
		handler:  handler,
		logger:   logger,
		tracer:   otel.Tracer("redpanda-consumer"),
		consumed: func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start polls until ctx is cancelled or Stop is called
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop ends polling, commits handled offsets and closes the client
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		c.logger.Warn("commit on stop", zap.Error(err))
	}
	c.client.Close()
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})

		fetches.EachRecord(func(r *kgo.Record) {
			if err := c.handle(ctx, r); err != nil {
				c.logger.Error("message handler failed",
					zap.String("topic", r.Topic),
					zap.Int32("partition", r.Partition),
					zap.Int64("offset", r.Offset),
					zap.Error(err))
				return
			}
			c.client.MarkCommitRecords(r)
		})

		if err := c.client.CommitMarkedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("commit offsets", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, r *kgo.Record) error {
	ctx = extractTrace(ctx, r)
	ctx, span := c.tracer.Start(ctx, "redpanda.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", r.Topic),
			attribute.Int64("messaging.kafka.partition", int64(r.Partition)),
			attribute.Int64("messaging.kafka.offset", r.Offset),
		))
	defer span.End()

	err := c.handler(ctx, &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	c.consumed()
	return nil
}
