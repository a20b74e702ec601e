// Package intake defines the declarative client intake form and validates
// submissions against it.
package intake

// FieldType tags how a field is entered and validated
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldDate     FieldType = "date"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
	FieldNumber   FieldType = "number"
)

// Field describes one form input
type Field struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
}

// Section groups related fields
type Section struct {
	Title  string  `json:"title"`
	Fields []Field `json:"fields"`
}

// Schema is a complete form
type Schema struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

// Fields returns every field in section order
func (s Schema) Fields() []Field {
	var out []Field
	for _, sec := range s.Sections {
		out = append(out, sec.Fields...)
	}
	return out
}

// DefaultSchema is the group-home client intake form
func DefaultSchema() Schema {
	return Schema{
		ID:    "client-intake-v1",
		Title: "Client Intake",
		Sections: []Section{
			{
				Title: "Personal Information",
				Fields: []Field{
					{Name: "firstName", Label: "First Name", Type: FieldText, Required: true},
					{Name: "lastName", Label: "Last Name", Type: FieldText, Required: true},
					{Name: "dateOfBirth", Label: "Date of Birth", Type: FieldDate, Required: true},
					{Name: "gender", Label: "Gender", Type: FieldSelect, Options: []string{"female", "male", "non-binary", "prefer not to say"}},
					{Name: "admissionDate", Label: "Admission Date", Type: FieldDate, Required: true},
				},
			},
			{
				Title: "Emergency Contact",
				Fields: []Field{
					{Name: "emergencyContactName", Label: "Contact Name", Type: FieldText, Required: true},
					{Name: "emergencyContactPhone", Label: "Contact Phone", Type: FieldText, Required: true},
					{Name: "emergencyContactRelationship", Label: "Relationship", Type: FieldText},
				},
			},
			{
				Title: "Medical",
				Fields: []Field{
					{Name: "primaryDiagnosis", Label: "Primary Diagnosis", Type: FieldText},
					{Name: "allergies", Label: "Allergies", Type: FieldTextarea},
					{Name: "currentMedications", Label: "Current Medications", Type: FieldTextarea},
					{Name: "heightInches", Label: "Height (inches)", Type: FieldNumber},
					{Name: "weightPounds", Label: "Weight (pounds)", Type: FieldNumber},
				},
			},
			{
				Title: "Consent",
				Fields: []Field{
					{Name: "consentToTreatment", Label: "Consent to Treatment", Type: FieldCheckbox, Required: true},
					{Name: "releaseOfInformation", Label: "Release of Information", Type: FieldCheckbox},
				},
			},
		},
	}
}
