package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

func TestValidID(t *testing.T) {
	assert.True(t, validID(uuid.NewString()))
	assert.False(t, validID("nope"))
	assert.False(t, validID(""))
}

// Ids that are not UUIDs never reach the database
func TestMalformedIDsAreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMedicationStore(nil, nil)

	_, err := store.GetMedication(ctx, "nope")
	assert.ErrorIs(t, err, medication.ErrMedicationNotFound)

	_, err = store.FindClientMedication(ctx, "nope", "client-1")
	assert.ErrorIs(t, err, medication.ErrClientMedicationNotFound)

	_, err = store.GetClientMedication(ctx, "cm-1")
	assert.ErrorIs(t, err, medication.ErrClientMedicationNotFound)

	err = store.SaveClientMedication(ctx, &medication.ClientMedication{ID: "cm-1"})
	assert.ErrorIs(t, err, medication.ErrClientMedicationNotFound)
}
