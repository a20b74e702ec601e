package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/pkg/circuitbreaker"
	"github.com/carehaven/go-mar/pkg/idempotency"
)

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, a)
	return nil
}

func intPtr(v int) *int { return &v }

func recorded(t *testing.T, id string, status medication.AdministrationStatus, after *int) *medication.Event {
	t.Helper()
	e, err := medication.NewEvent("ClientMedication", "cm-1", medication.EventAdministrationRecorded, medication.AdministrationRecordedData{
		AdministrationID:   id,
		ClientMedicationID: "cm-1",
		MedicationName:     "Lithium",
		ClientID:           "client-1",
		Status:             status,
		AdministeredBy:     "Sam Staff",
		SupplyAfter:        after,
	})
	require.NoError(t, err)
	return e
}

func TestProcessorAlertsAtThreshold(t *testing.T) {
	notifier := &fakeNotifier{}
	var results []string
	p := NewProcessor(idempotency.NewMemoryInbox(idempotency.DefaultConfig()), notifier, 3, nil,
		WithResultCounter(func(r string) { results = append(results, r) }))
	ctx := context.Background()

	require.NoError(t, p.HandleEvent(ctx, recorded(t, "a1", medication.StatusAdministered, intPtr(4))))
	require.NoError(t, p.HandleEvent(ctx, recorded(t, "a2", medication.StatusAdministered, intPtr(3))))
	require.NoError(t, p.HandleEvent(ctx, recorded(t, "a3", medication.StatusAdministered, intPtr(-1))))
	require.NoError(t, p.HandleEvent(ctx, recorded(t, "a4", medication.StatusMissed, intPtr(0))))
	require.NoError(t, p.HandleEvent(ctx, recorded(t, "a5", medication.StatusAdministered, nil)))

	require.Len(t, notifier.alerts, 2)
	assert.Equal(t, 3, notifier.alerts[0].Supply)
	assert.Equal(t, -1, notifier.alerts[1].Supply)
	assert.Equal(t, "Lithium", notifier.alerts[0].MedicationName)
	assert.Equal(t, []string{ResultSent, ResultSent}, results)
}

func TestProcessorDeduplicatesRedelivery(t *testing.T) {
	notifier := &fakeNotifier{}
	p := NewProcessor(idempotency.NewMemoryInbox(idempotency.DefaultConfig()), notifier, 3, nil)
	e := recorded(t, "a1", medication.StatusAdministered, intPtr(1))
	payload, err := json.Marshal(e)
	require.NoError(t, err)

	require.NoError(t, p.HandleMessage(context.Background(), payload))
	require.NoError(t, p.HandleMessage(context.Background(), payload))
	assert.Len(t, notifier.alerts, 1)
}

func TestProcessorRetriesAfterFailure(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("provider down")}
	p := NewProcessor(idempotency.NewMemoryInbox(idempotency.DefaultConfig()), notifier, 3, nil)
	e := recorded(t, "a1", medication.StatusAdministered, intPtr(0))

	assert.Error(t, p.HandleEvent(context.Background(), e))

	notifier.err = nil
	require.NoError(t, p.HandleEvent(context.Background(), e))
	assert.Len(t, notifier.alerts, 1)
}

func TestProcessorBreakerOpens(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("provider down")}
	cfg := circuitbreaker.DefaultConfig("sendgrid")
	cfg.FailureThreshold = 1
	b, err := circuitbreaker.New(cfg, nil)
	require.NoError(t, err)
	p := NewProcessor(idempotency.NewMemoryInbox(idempotency.DefaultConfig()), notifier, 3, nil, WithBreaker(b))

	assert.Error(t, p.HandleEvent(context.Background(), recorded(t, "a1", medication.StatusAdministered, intPtr(0))))
	err = p.HandleEvent(context.Background(), recorded(t, "a2", medication.StatusAdministered, intPtr(0)))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestProcessorIgnoresOtherEvents(t *testing.T) {
	notifier := &fakeNotifier{}
	p := NewProcessor(idempotency.NewMemoryInbox(idempotency.DefaultConfig()), notifier, 3, nil)
	e, err := medication.NewEvent("Medication", "m1", medication.EventMedicationCreated, medication.MedicationCreatedData{})
	require.NoError(t, err)

	require.NoError(t, p.HandleEvent(context.Background(), e))
	assert.Empty(t, notifier.alerts)

	err = p.HandleMessage(context.Background(), []byte("{not json"))
	assert.True(t, idempotency.IsTerminal(err))
}

type fakeSender struct {
	status int
	sent   []*mail.SGMailV3
}

func (f *fakeSender) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, m)
	return &rest.Response{StatusCode: f.status, Body: "body"}, nil
}

func TestSendGridNotifier(t *testing.T) {
	sender := &fakeSender{status: http.StatusAccepted}
	n := newSendGridNotifier(sender, "alerts@example.org", []string{"nurse@example.org", "lead@example.org"})
	a := Alert{ClientID: "client-1", MedicationName: "Lithium", Supply: 2, Threshold: 3, AdministeredBy: "Sam Staff"}

	require.NoError(t, n.Notify(context.Background(), a))
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "alerts@example.org", msg.From.Address)
	assert.Contains(t, msg.Subject, "Lithium")
	require.Len(t, msg.Personalizations, 1)
	assert.Len(t, msg.Personalizations[0].To, 2)
	assert.Contains(t, msg.Content[0].Value, "Remaining doses: 2 (reorder at 3)")
	assert.Contains(t, msg.Content[0].Value, "Last administered by Sam Staff")

	sender.status = http.StatusUnauthorized
	assert.ErrorContains(t, n.Notify(context.Background(), a), "non-2XX")
}
