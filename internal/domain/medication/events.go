package medication

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of MAR domain event
type EventType string

const (
	EventMedicationCreated       EventType = "MedicationCreated"
	EventClientMedicationCreated EventType = "ClientMedicationCreated"
	EventClientMedicationUpdated EventType = "ClientMedicationUpdated"
	EventAdministrationRecorded  EventType = "AdministrationRecorded"
	EventAdministrationEdited    EventType = "AdministrationEdited"
)

// Event streams the MAR events are published on
const (
	StreamMedications     = "mar.medications"
	StreamAdministrations = "mar.administrations"
)

// Event is a MAR domain event. Events are written alongside the state change
// that produced them and relayed to the event stream.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	ClientID      string          `json:"client_id,omitempty"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent creates an event with the given payload
func NewEvent(aggregateType, aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     now(),
	}, nil
}

// Stream returns the stream the event belongs on
func (e *Event) Stream() string {
	switch e.EventType {
	case EventAdministrationRecorded, EventAdministrationEdited:
		return StreamAdministrations
	default:
		return StreamMedications
	}
}

// Key returns the partition key. Events of one client stay ordered.
func (e *Event) Key() string {
	if e.ClientID != "" {
		return e.ClientID
	}
	return e.AggregateID
}

// MedicationCreatedData is emitted when a new canonical record is stored
type MedicationCreatedData struct {
	MedicationID string `json:"medication_id"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Route        Route  `json:"route"`
}

// ClientMedicationCreatedData is emitted when a medication is linked to a client
type ClientMedicationCreatedData struct {
	ClientMedicationID string `json:"client_medication_id"`
	MedicationID       string `json:"medication_id"`
	ClientID           string `json:"client_id"`
	Supply             *int   `json:"supply,omitempty"`
	ReusedMedication   bool   `json:"reused_medication"`
}

// ClientMedicationUpdatedData is emitted on a direct client medication edit
type ClientMedicationUpdatedData struct {
	ClientMedicationID string                 `json:"client_medication_id"`
	ClientID           string                 `json:"client_id"`
	Status             ClientMedicationStatus `json:"status"`
	Supply             *int                   `json:"supply,omitempty"`
	RefillsRemaining   int                    `json:"refills_remaining"`
}

// AdministrationRecordedData is emitted for each recorded administration
type AdministrationRecordedData struct {
	AdministrationID   string               `json:"administration_id"`
	ClientMedicationID string               `json:"client_medication_id"`
	MedicationID       string               `json:"medication_id"`
	MedicationName     string               `json:"medication_name"`
	ClientID           string               `json:"client_id"`
	Status             AdministrationStatus `json:"status"`
	AdministeredBy     string               `json:"administered_by"`
	AdministeredTime   Timestamp            `json:"administered_time"`
	SupplyBefore       *int                 `json:"supply_before,omitempty"`
	SupplyAfter        *int                 `json:"supply_after,omitempty"`
}

// AdministrationEditedData is emitted when an admin corrects a log entry
type AdministrationEditedData struct {
	AdministrationID   string               `json:"administration_id"`
	ClientMedicationID string               `json:"client_medication_id"`
	ClientID           string               `json:"client_id"`
	EditedBy           string               `json:"edited_by"`
	PreviousStatus     AdministrationStatus `json:"previous_status"`
	Status             AdministrationStatus `json:"status"`
	PreviousBy         string               `json:"previous_administered_by"`
	AdministeredBy     string               `json:"administered_by"`
}
