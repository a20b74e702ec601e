package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/pkg/circuitbreaker"
	"github.com/carehaven/go-mar/pkg/idempotency"
)

const handlerName = "low-supply-alert"

// Outcome labels for the alert counter
const (
	ResultSent      = "sent"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

// Processor turns AdministrationRecorded events into at most one alert each
type Processor struct {
	inbox     idempotency.Processor
	notifier  Notifier
	breaker   *circuitbreaker.Breaker
	threshold int
	logger    *zap.Logger
	onResult  func(result string)
}

// Option customizes a Processor
type Option func(*Processor)

// WithResultCounter is called with the outcome of every alert attempt
func WithResultCounter(fn func(result string)) Option {
	return func(p *Processor) { p.onResult = fn }
}

// WithBreaker routes notifications through b
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(p *Processor) { p.breaker = b }
}

// NewProcessor creates a processor alerting at or below threshold
func NewProcessor(inbox idempotency.Processor, notifier Notifier, threshold int, logger *zap.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		inbox:     inbox,
		notifier:  notifier,
		threshold: threshold,
		logger:    logger,
		onResult:  func(string) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleMessage decodes a relayed event and handles it. Malformed payloads
// are permanent failures.
func (p *Processor) HandleMessage(ctx context.Context, payload []byte) error {
	var e medication.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return idempotency.Terminal(fmt.Errorf("decode event: %w", err))
	}
	return p.HandleEvent(ctx, &e)
}

// HandleEvent alerts when an administration leaves supply at or below the
// threshold. Other events are ignored.
func (p *Processor) HandleEvent(ctx context.Context, e *medication.Event) error {
	if e.EventType != medication.EventAdministrationRecorded {
		return nil
	}
	var data medication.AdministrationRecordedData
	if err := json.Unmarshal(e.EventData, &data); err != nil {
		return idempotency.Terminal(fmt.Errorf("decode %s data: %w", e.EventType, err))
	}
	alert, ok := p.alertFor(data)
	if !ok {
		return nil
	}

	key := idempotency.GenerateKey(handlerName, data.AdministrationID)
	res, err := p.inbox.Process(ctx, key, handlerName, e.EventData, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		if err := p.send(ctx, alert); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]int{"supply": alert.Supply})
	})
	switch {
	case errors.Is(err, idempotency.ErrDuplicateMessage), errors.Is(err, idempotency.ErrPreviouslyFailed):
		p.onResult(ResultDuplicate)
		return nil
	case err != nil:
		p.onResult(ResultFailed)
		return err
	case res.Duplicate:
		p.onResult(ResultDuplicate)
		return nil
	}

	p.onResult(ResultSent)
	p.logger.Info("low supply alert sent",
		zap.String("client_id", alert.ClientID),
		zap.String("medication", alert.MedicationName),
		zap.Int("supply", alert.Supply))
	return nil
}

func (p *Processor) alertFor(d medication.AdministrationRecordedData) (Alert, bool) {
	if d.Status != medication.StatusAdministered || d.SupplyAfter == nil {
		return Alert{}, false
	}
	if *d.SupplyAfter > p.threshold {
		return Alert{}, false
	}
	return Alert{
		ClientID:           d.ClientID,
		ClientMedicationID: d.ClientMedicationID,
		MedicationName:     d.MedicationName,
		Supply:             *d.SupplyAfter,
		Threshold:          p.threshold,
		AdministeredBy:     d.AdministeredBy,
		AdministeredTime:   d.AdministeredTime,
	}, true
}

func (p *Processor) send(ctx context.Context, a Alert) error {
	if p.breaker == nil {
		return p.notifier.Notify(ctx, a)
	}
	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.notifier.Notify(ctx, a)
	})
}
