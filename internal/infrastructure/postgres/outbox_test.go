package postgres

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

func TestEntryFromEvent(t *testing.T) {
	e, err := medication.NewEvent("ClientMedication", "cm-1", medication.EventAdministrationRecorded,
		medication.AdministrationRecordedData{AdministrationID: "a-1", ClientID: "client-1"})
	require.NoError(t, err)
	e.ClientID = "client-1"

	entry, err := EntryFromEvent(e)
	require.NoError(t, err)

	assert.Equal(t, "cm-1", entry.AggregateID)
	assert.Equal(t, "ClientMedication", entry.AggregateType)
	assert.Equal(t, string(medication.EventAdministrationRecorded), entry.EventType)
	assert.Equal(t, medication.StreamAdministrations, entry.Topic)
	assert.Equal(t, "client-1", entry.Key)

	var decoded medication.Event
	require.NoError(t, json.Unmarshal(entry.Payload, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.JSONEq(t, string(e.EventData), string(decoded.EventData))
}

func TestEntryFromEventKeyFallsBackToAggregate(t *testing.T) {
	e, err := medication.NewEvent("Medication", "med-1", medication.EventMedicationCreated, medication.MedicationCreatedData{MedicationID: "med-1"})
	require.NoError(t, err)

	entry, err := EntryFromEvent(e)
	require.NoError(t, err)
	assert.Equal(t, medication.StreamMedications, entry.Topic)
	assert.Equal(t, "med-1", entry.Key)
}

func TestDefaultRelayConfig(t *testing.T) {
	cfg := DefaultRelayConfig()
	assert.Equal(t, "mar.dead-letter", cfg.DeadLetterTopic)
	assert.Positive(t, cfg.BatchSize)
	assert.Positive(t, cfg.MaxRetries)

	r := NewRelay(nil, nil, RelayConfig{BatchSize: 10}, nil)
	assert.Equal(t, "mar.dead-letter", r.config.DeadLetterTopic)
	r.Stop()
}

func TestPublishInOrderHoldsFailedKey(t *testing.T) {
	entries := []*OutboxEntry{
		{ID: 1, Key: "client-1"},
		{ID: 2, Key: "client-2"},
		{ID: 3, Key: "client-1"},
		{ID: 4, Key: "client-2"},
	}

	var attempted []int64
	r := NewRelay(nil, nil, DefaultRelayConfig(), nil)
	published := r.publishInOrder(entries, func(e *OutboxEntry) error {
		attempted = append(attempted, e.ID)
		if e.ID == 1 {
			return errors.New("broker unavailable")
		}
		return nil
	})

	assert.Equal(t, 2, published)
	assert.Equal(t, []int64{1, 2, 4}, attempted, "entry 3 waits behind the failed entry 1")
}
