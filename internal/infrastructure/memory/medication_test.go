package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

func intPtr(v int) *int { return &v }

func TestCreateMedicationRejectsIdentical(t *testing.T) {
	s := NewMedicationStore()
	ctx := context.Background()

	fields := medication.MedicationFields{Name: "Sertraline", Dosage: "50mg", Frequency: "daily", Route: medication.RouteOral}
	require.NoError(t, s.CreateMedication(ctx, medication.NewBaseMedication(fields)))

	fields.Name = "SERTRALINE"
	err := s.CreateMedication(ctx, medication.NewBaseMedication(fields))
	assert.ErrorIs(t, err, medication.ErrDuplicateMedication)

	fields.Dosage = "100mg"
	require.NoError(t, s.CreateMedication(ctx, medication.NewBaseMedication(fields)))

	meds, err := s.ListMedications(ctx)
	require.NoError(t, err)
	require.Len(t, meds, 2)
	assert.Equal(t, "Sertraline", meds[0].Name, "insertion order")
}

func TestClientMedicationVersioning(t *testing.T) {
	s := NewMedicationStore()
	ctx := context.Background()

	cm := medication.NewClientMedication("med-1", "client-1", medication.ClientSpecificData{Supply: intPtr(5)})
	require.NoError(t, s.CreateClientMedication(ctx, cm))
	assert.Equal(t, 1, cm.Version)

	a, err := s.GetClientMedication(ctx, cm.ID)
	require.NoError(t, err)
	b, err := s.GetClientMedication(ctx, cm.ID)
	require.NoError(t, err)

	a.Record(medication.AdministrationInput{Status: medication.StatusAdministered})
	require.NoError(t, s.SaveClientMedication(ctx, a))
	assert.Equal(t, 2, a.Version)

	b.Record(medication.AdministrationInput{Status: medication.StatusAdministered})
	assert.ErrorIs(t, s.SaveClientMedication(ctx, b), medication.ErrVersionConflict)

	stored, err := s.GetClientMedication(ctx, cm.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, *stored.Supply)
	assert.Len(t, stored.AdministrationLog, 1)

	missing := medication.NewClientMedication("med-1", "client-2", medication.ClientSpecificData{})
	assert.ErrorIs(t, s.SaveClientMedication(ctx, missing), medication.ErrClientMedicationNotFound)
}

func TestReadsDoNotAlias(t *testing.T) {
	s := NewMedicationStore()
	ctx := context.Background()

	cm := medication.NewClientMedication("med-1", "client-1", medication.ClientSpecificData{Supply: intPtr(5)})
	require.NoError(t, s.CreateClientMedication(ctx, cm))
	*cm.Supply = 100

	got, err := s.GetClientMedication(ctx, cm.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, *got.Supply)

	*got.Supply = 42
	again, err := s.GetClientMedication(ctx, cm.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, *again.Supply)
}

func TestLookups(t *testing.T) {
	s := NewMedicationStore()
	ctx := context.Background()

	first := medication.NewClientMedication("med-1", "client-1", medication.ClientSpecificData{})
	second := medication.NewClientMedication("med-1", "client-1", medication.ClientSpecificData{})
	other := medication.NewClientMedication("med-2", "client-2", medication.ClientSpecificData{})
	a := other.Record(medication.AdministrationInput{Status: medication.StatusMissed})
	for _, cm := range []*medication.ClientMedication{first, second, other} {
		require.NoError(t, s.CreateClientMedication(ctx, cm))
	}

	found, err := s.FindClientMedication(ctx, "med-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID, "first link wins")

	_, err = s.FindClientMedication(ctx, "med-2", "client-1")
	assert.ErrorIs(t, err, medication.ErrClientMedicationNotFound)

	byClient, err := s.ListClientMedicationsByClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Len(t, byClient, 2)

	holder, err := s.FindByAdministration(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, holder.ID)

	_, err = s.FindByAdministration(ctx, "missing")
	assert.ErrorIs(t, err, medication.ErrAdministrationNotFound)

	_, err = s.GetMedication(ctx, "missing")
	assert.ErrorIs(t, err, medication.ErrMedicationNotFound)
}

func TestEventsNotifySinksAfterCommit(t *testing.T) {
	s := NewMedicationStore()
	ctx := context.Background()

	var seen []medication.EventType
	s.OnEvent(func(e *medication.Event) {
		// the store lock must be released before sinks run
		_, err := s.ListClientMedications(ctx)
		require.NoError(t, err)
		seen = append(seen, e.EventType)
	})

	cm := medication.NewClientMedication("med-1", "client-1", medication.ClientSpecificData{})
	evt, err := medication.NewEvent("ClientMedication", cm.ID, medication.EventClientMedicationCreated, map[string]string{"id": cm.ID})
	require.NoError(t, err)
	require.NoError(t, s.CreateClientMedication(ctx, cm, evt))

	stale := cm.Clone()
	stale.Version = 99
	evt2, err := medication.NewEvent("ClientMedication", cm.ID, medication.EventAdministrationRecorded, map[string]string{"id": cm.ID})
	require.NoError(t, err)
	assert.Error(t, s.SaveClientMedication(ctx, stale, evt2))

	assert.Equal(t, []medication.EventType{medication.EventClientMedicationCreated}, seen, "failed writes emit nothing")
	assert.Len(t, s.Events(), 1)
}
