package alerts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/pkg/idempotency"
	"github.com/carehaven/go-mar/pkg/workerpool"
)

// Pipeline runs the processor on a worker pool. Events arrive either decoded
// from the in-process store or as raw payloads from the event stream.
type Pipeline struct {
	processor *Processor
	pool      *workerpool.Pool
	logger    *zap.Logger
}

// NewPipeline creates a pipeline; call Start before dispatching
func NewPipeline(processor *Processor, cfg workerpool.Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{processor: processor, logger: logger}
	pool, err := workerpool.New(cfg, p.work, logger)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

func (p *Pipeline) work(ctx context.Context, task *workerpool.Task) error {
	var err error
	switch v := task.Payload.(type) {
	case *medication.Event:
		err = p.processor.HandleEvent(ctx, v)
	case []byte:
		err = p.processor.HandleMessage(ctx, v)
	default:
		return workerpool.Permanent(fmt.Errorf("unexpected payload %T", task.Payload))
	}
	if idempotency.IsTerminal(err) {
		return workerpool.Permanent(err)
	}
	return err
}

// Start launches the workers
func (p *Pipeline) Start() { p.pool.Start() }

// Stop drains queued alerts
func (p *Pipeline) Stop() { p.pool.Stop() }

// Stats reports the worker pool counters
func (p *Pipeline) Stats() workerpool.Stats { return p.pool.Stats() }

// Dispatch queues e without blocking. It matches the in-memory store's event
// hook; a full queue drops the alert with a warning.
func (p *Pipeline) Dispatch(e *medication.Event) {
	if e.EventType != medication.EventAdministrationRecorded {
		return
	}
	if err := p.pool.Submit(&workerpool.Task{ID: e.ID, Payload: e}); err != nil {
		p.logger.Warn("low supply alert dropped",
			zap.String("event_id", e.ID),
			zap.Error(err))
	}
}

// HandleMessage processes a raw event and waits for the outcome, so the
// consumer only commits offsets of handled records. Permanent failures are
// logged and acknowledged.
func (p *Pipeline) HandleMessage(ctx context.Context, key string, payload []byte) error {
	err := p.pool.SubmitWait(ctx, &workerpool.Task{ID: key, Payload: payload, Context: ctx})
	if workerpool.IsPermanent(err) {
		p.logger.Error("dropping unprocessable event", zap.String("key", key), zap.Error(err))
		return nil
	}
	return err
}
