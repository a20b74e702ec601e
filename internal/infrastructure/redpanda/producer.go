// Package redpanda publishes and consumes MAR events on a Kafka-compatible
// broker with franz-go.
package redpanda

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig tunes the producer
type ProducerConfig struct {
	Brokers     []string
	Linger      time.Duration
	Compression string
	// RequiredAcks is -1 for all replicas, 1 for the leader, 0 for none
	RequiredAcks int16
	MaxRetries   int
}

// DefaultProducerConfig returns durable defaults
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Linger:       10 * time.Millisecond,
		Compression:  "lz4",
		RequiredAcks: -1,
		MaxRetries:   5,
	}
}

// Producer writes records synchronously so callers know they were acked
type Producer struct {
	client   *kgo.Client
	logger   *zap.Logger
	tracer   trace.Tracer
	produced func()
}

// ProducerOption customizes a Producer
type ProducerOption func(*Producer)

// WithProducedCounter is called once per acknowledged record
func WithProducedCounter(fn func()) ProducerOption {
	return func(p *Producer) { p.produced = fn }
}

// NewProducer connects a producer
func NewProducer(cfg ProducerConfig, logger *zap.Logger, opts ...ProducerOption) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RecordRetries(cfg.MaxRetries),
	}
	switch cfg.RequiredAcks {
	case 0:
		kopts = append(kopts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case 1:
		kopts = append(kopts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		kopts = append(kopts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}
	if c, ok := compression(cfg.Compression); ok {
		kopts = append(kopts, kgo.ProducerBatchCompression(c))
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	p := &Producer{
		client:   client,
		logger:   logger,
		tracer:   otel.Tracer("redpanda-producer"),
		produced: func() {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func compression(name string) (kgo.CompressionCodec, bool) {
	switch name {
	case "lz4":
		return kgo.Lz4Compression(), true
	case "snappy":
		return kgo.SnappyCompression(), true
	case "gzip":
		return kgo.GzipCompression(), true
	case "zstd":
		return kgo.ZstdCompression(), true
	default:
		return kgo.NoCompression(), false
	}
}

// Publish produces one record and waits for the broker ack
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "redpanda.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.kafka.message.key", key),
		))
	defer span.End()

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	injectTrace(ctx, record)

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	p.produced()
	p.logger.Debug("record produced",
		zap.String("topic", record.Topic),
		zap.Int32("partition", record.Partition),
		zap.Int64("offset", record.Offset))
	return nil
}

// Close flushes buffered records and closes the client
func (p *Producer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("flush on close", zap.Error(err))
	}
	p.client.Close()
}
