package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validValues() map[string]interface{} {
	return map[string]interface{}{
		"firstName":             "Jordan",
		"lastName":              "Lee",
		"dateOfBirth":           "1990-04-12",
		"admissionDate":         "2024-01-08",
		"emergencyContactName":  "Pat Lee",
		"emergencyContactPhone": "555-0100",
		"gender":                "non-binary",
		"heightInches":          float64(67),
		"consentToTreatment":    true,
	}
}

func fieldNames(err error) []string {
	var v *ValidationError
	if !errors.As(err, &v) {
		return nil
	}
	var names []string
	for _, f := range v.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestValidate(t *testing.T) {
	schema := DefaultSchema()

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
		want   []string
	}{
		{"valid", func(map[string]interface{}) {}, nil},
		{"missing required", func(v map[string]interface{}) { delete(v, "lastName") }, []string{"lastName"}},
		{"blank required", func(v map[string]interface{}) { v["firstName"] = "  " }, []string{"firstName"}},
		{"bad date", func(v map[string]interface{}) { v["dateOfBirth"] = "04/12/1990" }, []string{"dateOfBirth"}},
		{"bad select", func(v map[string]interface{}) { v["gender"] = "other" }, []string{"gender"}},
		{"bad number", func(v map[string]interface{}) { v["weightPounds"] = "heavy" }, []string{"weightPounds"}},
		{"numeric string", func(v map[string]interface{}) { v["weightPounds"] = "150.5" }, nil},
		{"checkbox not bool", func(v map[string]interface{}) { v["releaseOfInformation"] = "yes" }, []string{"releaseOfInformation"}},
		{"required checkbox unchecked", func(v map[string]interface{}) { v["consentToTreatment"] = false }, []string{"consentToTreatment"}},
		{"unknown keys ignored", func(v map[string]interface{}) { v["favoriteColor"] = 42 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := validValues()
			tt.mutate(values)
			err := Validate(schema, values)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, fieldNames(err))
		})
	}
}

func TestValidateReportsAllFields(t *testing.T) {
	err := Validate(DefaultSchema(), map[string]interface{}{})
	names := fieldNames(err)
	assert.Contains(t, names, "firstName")
	assert.Contains(t, names, "consentToTreatment")
	assert.NotContains(t, names, "allergies")
}

type memStore struct {
	subs  map[string]*Submission
	order []*Submission
}

func (m *memStore) Save(_ context.Context, s *Submission) error {
	m.subs[s.ID] = s
	m.order = append(m.order, s)
	return nil
}
func (m *memStore) Get(_ context.Context, id string) (*Submission, error) {
	if s, ok := m.subs[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}
func (m *memStore) List(context.Context) ([]*Submission, error) { return m.order, nil }

func TestSubmit(t *testing.T) {
	svc := NewService(DefaultSchema(), &memStore{subs: map[string]*Submission{}}, nil)

	sub, err := svc.Submit(context.Background(), validValues(), "staff")
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ClientID)
	assert.Equal(t, "client-intake-v1", sub.SchemaID)

	got, err := svc.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	_, err = svc.Submit(context.Background(), map[string]interface{}{}, "staff")
	var v *ValidationError
	assert.ErrorAs(t, err, &v)
}

func TestClientName(t *testing.T) {
	svc := NewService(DefaultSchema(), &memStore{subs: map[string]*Submission{}}, nil)
	ctx := context.Background()

	sub, err := svc.Submit(ctx, validValues(), "staff")
	require.NoError(t, err)

	name, err := svc.ClientName(ctx, sub.ClientID)
	require.NoError(t, err)
	assert.Equal(t, validValues()["firstName"].(string)+" "+validValues()["lastName"].(string), name)

	name, err = svc.ClientName(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, name)
}
