package alerts

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/internal/infrastructure/memory"
	"github.com/carehaven/go-mar/pkg/idempotency"
	"github.com/carehaven/go-mar/pkg/workerpool"
)

func newPipeline(t *testing.T, notifier Notifier) *Pipeline {
	t.Helper()
	proc := NewProcessor(idempotency.NewMemoryInbox(idempotency.DefaultConfig()), notifier, 1, nil)
	cfg := workerpool.DefaultConfig()
	cfg.Workers = 2
	cfg.RetryDelay = 0
	p, err := NewPipeline(proc, cfg, nil)
	require.NoError(t, err)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func TestPipelineFromMemoryStore(t *testing.T) {
	notifier := &fakeNotifier{}
	p := newPipeline(t, notifier)

	store := memory.NewMedicationStore()
	store.OnEvent(p.Dispatch)
	svc := medication.NewService(store, nil)
	ctx := context.Background()

	res, err := svc.AddMedication(ctx, medication.AddMedicationRequest{
		Medication:         medication.MedicationFields{Name: "Lithium", Dosage: "300mg", Frequency: "daily", Route: medication.RouteOral},
		ClientID:           "client-1",
		ClientSpecificData: medication.ClientSpecificData{Supply: intPtr(3)},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := svc.RecordAdministration(ctx, medication.AdministrationInput{
			MedicationID: res.BaseMedication.ID,
			ClientID:     "client-1",
			Status:       medication.StatusAdministered,
		})
		require.NoError(t, err)
	}

	p.Stop()
	require.Len(t, notifier.alerts, 1, "only the second administration reaches the threshold")
	assert.Equal(t, 1, notifier.alerts[0].Supply)
	assert.Equal(t, int64(2), p.Stats().Completed)
}

func TestPipelineHandleMessage(t *testing.T) {
	notifier := &fakeNotifier{}
	p := newPipeline(t, notifier)
	ctx := context.Background()

	payload, err := json.Marshal(recorded(t, "a1", medication.StatusAdministered, intPtr(0)))
	require.NoError(t, err)
	require.NoError(t, p.HandleMessage(ctx, "cm-1", payload))
	require.NoError(t, p.HandleMessage(ctx, "cm-1", payload))
	assert.Len(t, notifier.alerts, 1)

	assert.NoError(t, p.HandleMessage(ctx, "cm-1", []byte("{not json")), "poison messages are acknowledged")
}
