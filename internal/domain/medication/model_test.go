package medication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestFindIdentical(t *testing.T) {
	existing := []*BaseMedication{
		{ID: "m1", Name: "Ibuprofen", Dosage: "200mg", Frequency: "twice daily", Route: RouteOral},
		{ID: "m2", Name: "Sertraline", Dosage: "50mg", Frequency: "daily", Route: RouteOral},
	}

	tests := []struct {
		name   string
		d      Descriptor
		wantID string
		found  bool
	}{
		{"exact match", Descriptor{"Ibuprofen", "200mg", "twice daily", RouteOral}, "m1", true},
		{"name differs only in case", Descriptor{"sERTRALINE", "50mg", "daily", RouteOral}, "m2", true},
		{"dosage whitespace differs", Descriptor{"Sertraline", "50 mg", "daily", RouteOral}, "", false},
		{"dosage case differs", Descriptor{"Sertraline", "50MG", "daily", RouteOral}, "", false},
		{"frequency differs", Descriptor{"Sertraline", "50mg", "Daily", RouteOral}, "", false},
		{"route differs", Descriptor{"Ibuprofen", "200mg", "twice daily", RouteTopical}, "", false},
		{"unknown name", Descriptor{"Lithium", "300mg", "daily", RouteOral}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, found := FindIdentical(tt.d, existing)
			assert.Equal(t, tt.found, found)
			if tt.found {
				require.NotNil(t, match)
				assert.Equal(t, tt.wantID, match.ID)
			} else {
				assert.Nil(t, match)
			}
		})
	}

	_, found := FindIdentical(Descriptor{Name: "Ibuprofen"}, nil)
	assert.False(t, found)
}

func TestNewBaseMedication(t *testing.T) {
	m := NewBaseMedication(MedicationFields{Name: "Ibuprofen", Dosage: "200mg", Frequency: "as needed", Route: RouteOral})

	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, m.CreatedAt, m.UpdatedAt)
	assert.NotNil(t, m.SideEffects)
	assert.NotNil(t, m.Interactions)

	other := NewBaseMedication(MedicationFields{Name: "Ibuprofen", Dosage: "200mg", Frequency: "as needed", Route: RouteOral})
	assert.NotEqual(t, m.ID, other.ID, "creation never deduplicates")
}

func TestNewClientMedication(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cm := NewClientMedication("med-1", "client-1", ClientSpecificData{})

		assert.NotEmpty(t, cm.ID)
		assert.Equal(t, "med-1", cm.MedicationID)
		assert.Equal(t, "client-1", cm.ClientID)
		assert.Equal(t, ClientMedicationActive, cm.Status)
		assert.False(t, cm.StartDate.IsZero())
		assert.Nil(t, cm.Supply)
		assert.Nil(t, cm.EndDate)
		assert.NotNil(t, cm.AdministrationLog)
		assert.Empty(t, cm.AdministrationLog)
	})

	t.Run("overrides", func(t *testing.T) {
		start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)
		instructions := "with food"
		cm := NewClientMedication("med-1", "client-1", ClientSpecificData{
			StartDate:           &start,
			EndDate:             &end,
			Supply:              intPtr(30),
			RefillsRemaining:    intPtr(2),
			SpecialInstructions: &instructions,
		})

		assert.Equal(t, start, cm.StartDate)
		require.NotNil(t, cm.EndDate)
		assert.Equal(t, end, *cm.EndDate)
		require.NotNil(t, cm.Supply)
		assert.Equal(t, 30, *cm.Supply)
		assert.Equal(t, 2, cm.RefillsRemaining)
		assert.Equal(t, "with food", cm.SpecialInstructions)
	})
}

func TestRecordSupply(t *testing.T) {
	tests := []struct {
		name   string
		supply *int
		status AdministrationStatus
		want   *int
	}{
		{"administered decrements", intPtr(10), StatusAdministered, intPtr(9)},
		{"missed keeps supply", intPtr(10), StatusMissed, intPtr(10)},
		{"refused keeps supply", intPtr(10), StatusRefused, intPtr(10)},
		{"no_supply keeps supply", intPtr(10), StatusNoSupply, intPtr(10)},
		{"unknown status keeps supply", intPtr(10), AdministrationStatus("held"), intPtr(10)},
		{"untracked supply stays untracked", nil, StatusAdministered, nil},
		{"zero supply stays zero", intPtr(0), StatusAdministered, intPtr(0)},
		{"negative supply keeps decrementing", intPtr(-1), StatusAdministered, intPtr(-2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := NewClientMedication("med-1", "client-1", ClientSpecificData{Supply: tt.supply})
			a := cm.Record(AdministrationInput{MedicationID: "med-1", ClientID: "client-1", Status: tt.status})

			assert.Equal(t, tt.status, a.Status)
			assert.Len(t, cm.AdministrationLog, 1)
			if tt.want == nil {
				assert.Nil(t, cm.Supply)
				return
			}
			require.NotNil(t, cm.Supply)
			assert.Equal(t, *tt.want, *cm.Supply)
		})
	}
}

func TestRecordDefaults(t *testing.T) {
	pinned := time.Date(2024, 5, 6, 8, 30, 0, 0, time.UTC)
	restore := now
	now = func() time.Time { return pinned }
	t.Cleanup(func() { now = restore })

	cm := NewClientMedication("med-1", "client-1", ClientSpecificData{})
	a := cm.Record(AdministrationInput{MedicationID: "med-1", ClientID: "client-1", Status: StatusAdministered, Notes: "given with water"})

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, pinned, a.CreatedAt)
	assert.Equal(t, Timestamp("2024-05-06T08:30:00Z"), a.AdministeredTime)
	assert.Equal(t, "given with water", a.Notes)
	assert.Equal(t, pinned, cm.UpdatedAt)

	explicit := cm.Record(AdministrationInput{Status: StatusMissed, AdministeredTime: "not a date"})
	assert.Equal(t, Timestamp("not a date"), explicit.AdministeredTime, "caller text is stored as-is")
	assert.Equal(t, []string{a.ID, explicit.ID}, []string{cm.AdministrationLog[0].ID, cm.AdministrationLog[1].ID})
}

func TestEditAdministrationLeavesSupply(t *testing.T) {
	cm := NewClientMedication("med-1", "client-1", ClientSpecificData{Supply: intPtr(5)})
	a := cm.Record(AdministrationInput{Status: StatusMissed, AdministeredBy: "staff"})

	status := StatusAdministered
	by := "nurse"
	before, after, err := cm.EditAdministration(a.ID, AdministrationPatch{Status: &status, AdministeredBy: &by})
	require.NoError(t, err)

	assert.Equal(t, StatusMissed, before.Status)
	assert.Equal(t, StatusAdministered, after.Status)
	assert.Equal(t, "nurse", after.AdministeredBy)
	assert.Equal(t, 5, *cm.Supply)

	_, _, err = cm.EditAdministration("missing", AdministrationPatch{Status: &status})
	assert.ErrorIs(t, err, ErrAdministrationNotFound)
}

func TestClientMedicationClone(t *testing.T) {
	cm := NewClientMedication("med-1", "client-1", ClientSpecificData{Supply: intPtr(3)})
	cm.Record(AdministrationInput{Status: StatusMissed})

	c := cm.Clone()
	*c.Supply = 99
	c.AdministrationLog[0].Status = StatusRefused

	assert.Equal(t, 3, *cm.Supply)
	assert.Equal(t, StatusMissed, cm.AdministrationLog[0].Status)
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2024-01-02T08:00:00Z", true},
		{"2024-01-02T08:00:00.123+02:00", true},
		{"2024-01-02T08:00", true},
		{"2024-01-02", true},
		{"", false},
		{"yesterday", false},
		{"2024-13-45", false},
	}
	for _, tt := range tests {
		_, ok := Timestamp(tt.in).Time()
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestRouteValid(t *testing.T) {
	assert.True(t, RouteSubcutaneous.Valid())
	assert.False(t, Route("sublingual").Valid())
	assert.True(t, StatusNoSupply.Known())
	assert.False(t, AdministrationStatus("held").Known())
}
