package r5

import "encoding/json"

// MedicationAdministration represents a FHIR R5 MedicationAdministration:
// one event of a client taking, or not taking, a medication.
type MedicationAdministration struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`

	Status       string            `json:"status"` // in-progress | not-done | on-hold | completed | entered-in-error | stopped | unknown
	StatusReason []CodeableConcept `json:"statusReason,omitempty"`

	Medication CodeableReference `json:"medication"`
	Subject    Reference         `json:"subject"`

	// R5 allows occurrenceDateTime or occurrencePeriod; only the former is used
	OccurrenceDateTime string `json:"occurrenceDateTime,omitempty"`
	Recorded           string `json:"recorded,omitempty"`

	Performer []MedicationAdministrationPerformer `json:"performer,omitempty"`
	Request   *Reference                          `json:"request,omitempty"`
	Note      []Annotation                        `json:"note,omitempty"`
	Dosage    *MedicationAdministrationDosage     `json:"dosage,omitempty"`
}

// MedicationAdministrationPerformer names who administered the medication.
type MedicationAdministrationPerformer struct {
	Function *CodeableConcept  `json:"function,omitempty"`
	Actor    CodeableReference `json:"actor"`
}

// MedicationAdministrationDosage describes the dose given.
type MedicationAdministrationDosage struct {
	Text  string           `json:"text,omitempty"`
	Route *CodeableConcept `json:"route,omitempty"`
}

// Bundle is a FHIR R5 Bundle of resources.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         string        `json:"type"` // searchset | collection | ...
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry is one resource in a Bundle.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

// BundleSearch carries search match information.
type BundleSearch struct {
	Mode string `json:"mode,omitempty"` // match | include | outcome
}

// NewSearchsetBundle creates an empty searchset Bundle.
func NewSearchsetBundle(id string) *Bundle {
	total := 0
	return &Bundle{ResourceType: "Bundle", ID: id, Type: "searchset", Total: &total}
}

// Add appends a resource as a search match.
func (b *Bundle) Add(fullURL string, resource interface{}) error {
	raw, err := json.Marshal(resource)
	if err != nil {
		return err
	}
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  fullURL,
		Resource: raw,
		Search:   &BundleSearch{Mode: "match"},
	})
	total := len(b.Entry)
	b.Total = &total
	return nil
}
