// Package mapper transforms MAR records into FHIR R5 resources.
package mapper

import (
	"fmt"
	"time"

	"github.com/carehaven/go-mar/internal/domain/medication"
	fhir "github.com/carehaven/go-mar/internal/fhir/r5"
	"github.com/google/uuid"
)

// MapError represents a mapping error with context
type MapError struct {
	Field   string
	Message string
}

func (e *MapError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// routeCodes maps MAR routes to SNOMED CT route concepts
var routeCodes = map[medication.Route]fhir.Coding{
	medication.RouteOral:          {System: fhir.SystemRouteOfAdministration, Code: "26643006", Display: "Oral route"},
	medication.RouteInjection:     {System: fhir.SystemRouteOfAdministration, Code: "385218009", Display: "Injection"},
	medication.RouteIntravenous:   {System: fhir.SystemRouteOfAdministration, Code: "47625008", Display: "Intravenous route"},
	medication.RouteIntramuscular: {System: fhir.SystemRouteOfAdministration, Code: "78421000", Display: "Intramuscular route"},
	medication.RouteSubcutaneous:  {System: fhir.SystemRouteOfAdministration, Code: "34206005", Display: "Subcutaneous route"},
	medication.RouteTopical:       {System: fhir.SystemRouteOfAdministration, Code: "6064005", Display: "Topical route"},
}

// Status maps an administration status to a FHIR MedicationAdministration
// status and, for doses not given, a status reason
func Status(s medication.AdministrationStatus) (string, *fhir.CodeableConcept) {
	switch s {
	case medication.StatusAdministered:
		return fhir.StatusCompleted, nil
	case medication.StatusScheduled:
		return fhir.StatusInProgress, nil
	case medication.StatusMissed, medication.StatusRefused, medication.StatusNoSupply:
		return fhir.StatusNotDone, &fhir.CodeableConcept{
			Coding: []fhir.Coding{{System: fhir.SystemMARLocal, Code: string(s), Display: statusReasonDisplay(s)}},
			Text:   statusReasonDisplay(s),
		}
	default:
		return fhir.StatusUnknown, nil
	}
}

func statusReasonDisplay(s medication.AdministrationStatus) string {
	switch s {
	case medication.StatusMissed:
		return "Dose missed"
	case medication.StatusRefused:
		return "Client refused"
	case medication.StatusNoSupply:
		return "No supply on hand"
	}
	return string(s)
}

// ToMedicationAdministration maps one logged administration. med may be nil
// when the canonical record is unknown; the reference is kept without display.
func ToMedicationAdministration(a medication.Administration, cm *medication.ClientMedication, med *medication.BaseMedication) (*fhir.MedicationAdministration, error) {
	if a.ID == "" {
		return nil, &MapError{Field: "id", Message: "administration id is required"}
	}
	if a.ClientID == "" {
		return nil, &MapError{Field: "clientId", Message: "administration client is required"}
	}

	status, reason := Status(a.Status)
	ma := &fhir.MedicationAdministration{
		ResourceType: "MedicationAdministration",
		ID:           a.ID,
		Identifier:   []fhir.Identifier{{System: fhir.SystemMARLocal, Value: a.ID}},
		Status:       status,
		Medication: fhir.CodeableReference{
			Reference: &fhir.Reference{Reference: "Medication/" + a.MedicationID},
		},
		Subject: fhir.Reference{Reference: "Patient/" + a.ClientID, Type: "Patient"},
	}
	if reason != nil {
		ma.StatusReason = []fhir.CodeableConcept{*reason}
	}

	// Unparseable times are omitted rather than emitting an invalid dateTime
	if t, ok := a.AdministeredTime.Time(); ok {
		ma.OccurrenceDateTime = t.UTC().Format(time.RFC3339)
	}
	if !a.CreatedAt.IsZero() {
		ma.Recorded = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	if a.AdministeredBy != "" {
		ma.Performer = []fhir.MedicationAdministrationPerformer{{
			Actor: fhir.CodeableReference{Concept: &fhir.CodeableConcept{Text: a.AdministeredBy}},
		}}
	}
	if a.Notes != "" {
		ma.Note = []fhir.Annotation{{AuthorString: a.AdministeredBy, Text: a.Notes}}
	}
	if cm != nil {
		ma.Request = &fhir.Reference{Reference: "MedicationRequest/" + cm.ID, Type: "MedicationRequest"}
	}
	if med != nil {
		ma.Medication.Reference.Display = med.Name
		dosage := &fhir.MedicationAdministrationDosage{Text: med.Dosage}
		if coding, ok := routeCodes[med.Route]; ok {
			dosage.Route = &fhir.CodeableConcept{Coding: []fhir.Coding{coding}, Text: string(med.Route)}
		} else if med.Route != "" {
			dosage.Route = &fhir.CodeableConcept{Text: string(med.Route)}
		}
		ma.Dosage = dosage
	}
	return ma, nil
}

// ToBundle maps every administration in the client's MAR into a searchset
// Bundle, newest first
func ToBundle(entries []medication.MAREntry) (*fhir.Bundle, error) {
	type source struct {
		cm  *medication.ClientMedication
		med *medication.BaseMedication
	}
	owners := make(map[string]source)
	var all []medication.Administration
	for _, e := range entries {
		if e.ClientMedication == nil {
			continue
		}
		for _, a := range e.ClientMedication.AdministrationLog {
			owners[a.ID] = source{cm: e.ClientMedication, med: e.Medication}
			all = append(all, a)
		}
	}
	medication.SortByAdministeredTime(all)

	bundle := fhir.NewSearchsetBundle(uuid.New().String())
	for _, a := range all {
		src := owners[a.ID]
		ma, err := ToMedicationAdministration(a, src.cm, src.med)
		if err != nil {
			return nil, err
		}
		if err := bundle.Add("urn:uuid:"+a.ID, ma); err != nil {
			return nil, fmt.Errorf("add %s: %w", a.ID, err)
		}
	}
	return bundle, nil
}
