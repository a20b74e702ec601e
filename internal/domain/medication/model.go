// Package medication implements the medication administration record (MAR):
// canonical medications, per-client prescription links and their
// administration logs.
package medication

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Route is the administration route of a canonical medication
type Route string

const (
	RouteOral          Route = "oral"
	RouteInjection     Route = "injection"
	RouteIntravenous   Route = "intravenous"
	RouteIntramuscular Route = "intramuscular"
	RouteSubcutaneous  Route = "subcutaneous"
	RouteTopical       Route = "topical"
	RouteOther         Route = "other"
)

// Routes lists every supported route in display order
var Routes = []Route{
	RouteOral, RouteInjection, RouteIntravenous, RouteIntramuscular,
	RouteSubcutaneous, RouteTopical, RouteOther,
}

// Valid reports whether r is one of the supported routes
func (r Route) Valid() bool {
	for _, known := range Routes {
		if r == known {
			return true
		}
	}
	return false
}

// ClientMedicationStatus is the status of a client's prescription link
type ClientMedicationStatus string

const (
	ClientMedicationActive       ClientMedicationStatus = "active"
	ClientMedicationDiscontinued ClientMedicationStatus = "discontinued"
)

// AdministrationStatus is the outcome of a single administration event.
// It is an open set: values outside the constants below are stored as-is.
type AdministrationStatus string

const (
	StatusAdministered AdministrationStatus = "administered"
	StatusMissed       AdministrationStatus = "missed"
	StatusRefused      AdministrationStatus = "refused"
	StatusScheduled    AdministrationStatus = "scheduled"
	StatusNoSupply     AdministrationStatus = "no_supply"
)

// Known reports whether s is one of the named statuses
func (s AdministrationStatus) Known() bool {
	switch s {
	case StatusAdministered, StatusMissed, StatusRefused, StatusScheduled, StatusNoSupply:
		return true
	}
	return false
}

// Timestamp is a point in time kept as the text the caller supplied.
// Parseability is checked by readers, not on write.
type Timestamp string

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// TimestampOf formats t as an RFC 3339 timestamp
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UTC().Format(time.RFC3339))
}

// Time parses the timestamp. ok is false when it is empty or malformed.
func (t Timestamp) Time() (parsed time.Time, ok bool) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// BaseMedication is the canonical drug record shared by every client that is
// prescribed it
type BaseMedication struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Dosage                string    `json:"dosage"`
	Frequency             string    `json:"frequency"`
	Route                 Route     `json:"route"`
	Instructions          string    `json:"instructions"`
	SideEffects           []string  `json:"sideEffects"`
	Interactions          []string  `json:"interactions"`
	RequiresAuthorization bool      `json:"requiresAuthorization"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// MedicationFields are the caller-supplied fields of a canonical medication
type MedicationFields struct {
	Name                  string   `json:"name"`
	Dosage                string   `json:"dosage"`
	Frequency             string   `json:"frequency"`
	Route                 Route    `json:"route"`
	Instructions          string   `json:"instructions"`
	SideEffects           []string `json:"sideEffects"`
	Interactions          []string `json:"interactions"`
	RequiresAuthorization bool     `json:"requiresAuthorization"`
}

// Descriptor returns the identity tuple of the proposed medication
func (f MedicationFields) Descriptor() Descriptor {
	return Descriptor{Name: f.Name, Dosage: f.Dosage, Frequency: f.Frequency, Route: f.Route}
}

// Clone returns a deep copy
func (m *BaseMedication) Clone() *BaseMedication {
	if m == nil {
		return nil
	}
	c := *m
	c.SideEffects = cloneStrings(m.SideEffects)
	c.Interactions = cloneStrings(m.Interactions)
	return &c
}

// ClientMedication links a canonical medication to one client and carries the
// client-specific supply state and administration log
type ClientMedication struct {
	ID                  string                 `json:"id"`
	MedicationID        string                 `json:"medicationId"`
	ClientID            string                 `json:"clientId"`
	StartDate           time.Time              `json:"startDate"`
	EndDate             *time.Time             `json:"endDate,omitempty"`
	Status              ClientMedicationStatus `json:"status"`
	Supply              *int                   `json:"supply,omitempty"`
	RefillsRemaining    int                    `json:"refillsRemaining"`
	SpecialInstructions string                 `json:"specialInstructions"`
	AdministrationLog   []Administration       `json:"administrationLog"`
	Version             int                    `json:"version"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
}

// ClientSpecificData are the optional overrides applied on top of the
// defaults when a client medication is created
type ClientSpecificData struct {
	StartDate           *time.Time              `json:"startDate,omitempty"`
	EndDate             *time.Time              `json:"endDate,omitempty"`
	Status              *ClientMedicationStatus `json:"status,omitempty"`
	Supply              *int                    `json:"supply,omitempty"`
	RefillsRemaining    *int                    `json:"refillsRemaining,omitempty"`
	SpecialInstructions *string                 `json:"specialInstructions,omitempty"`
}

// ClientMedicationUpdate is a direct edit of a client medication. Nil fields
// are left untouched.
type ClientMedicationUpdate struct {
	Status              *ClientMedicationStatus `json:"status,omitempty"`
	Supply              *int                    `json:"supply,omitempty"`
	RefillsRemaining    *int                    `json:"refillsRemaining,omitempty"`
	SpecialInstructions *string                 `json:"specialInstructions,omitempty"`
	EndDate             *time.Time              `json:"endDate,omitempty"`
}

// Empty reports whether the update changes nothing
func (u ClientMedicationUpdate) Empty() bool {
	return u.Status == nil && u.Supply == nil && u.RefillsRemaining == nil &&
		u.SpecialInstructions == nil && u.EndDate == nil
}

// Clone returns a deep copy, including the administration log
func (cm *ClientMedication) Clone() *ClientMedication {
	if cm == nil {
		return nil
	}
	c := *cm
	if cm.EndDate != nil {
		end := *cm.EndDate
		c.EndDate = &end
	}
	if cm.Supply != nil {
		supply := *cm.Supply
		c.Supply = &supply
	}
	c.AdministrationLog = make([]Administration, len(cm.AdministrationLog))
	copy(c.AdministrationLog, cm.AdministrationLog)
	return &c
}

// Administration is a single administration event in a client medication log
type Administration struct {
	ID               string               `json:"id"`
	MedicationID     string               `json:"medicationId"`
	ClientID         string               `json:"clientId"`
	ScheduledTime    Timestamp            `json:"scheduledTime,omitempty"`
	AdministeredTime Timestamp            `json:"administeredTime"`
	AdministeredBy   string               `json:"administeredBy"`
	Status           AdministrationStatus `json:"status"`
	Notes            string               `json:"notes,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
}

// AdministrationInput is the partial record submitted to the recorder
type AdministrationInput struct {
	MedicationID     string               `json:"medicationId"`
	ClientID         string               `json:"clientId"`
	Status           AdministrationStatus `json:"status"`
	ScheduledTime    Timestamp            `json:"scheduledTime,omitempty"`
	AdministeredTime Timestamp            `json:"administeredTime,omitempty"`
	AdministeredBy   string               `json:"administeredBy,omitempty"`
	Notes            string               `json:"notes,omitempty"`
}

// AdministrationPatch overwrites fields of an existing administration
type AdministrationPatch struct {
	Status         *AdministrationStatus `json:"status,omitempty"`
	AdministeredBy *string               `json:"administeredBy,omitempty"`
}

// Actor identifies who performs a privileged operation
type Actor struct {
	Name string
	Role string
}

// RoleAdmin may edit administration history
const RoleAdmin = "admin"

// IsAdmin reports whether the actor holds the admin role
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// now and newID are variables so tests can pin them
var (
	now   = func() time.Time { return time.Now().UTC() }
	newID = func() string { return uuid.New().String() }
)

// NewBaseMedication creates a new canonical record. It never checks for an
// existing identical record; resolve with FindIdentical first.
func NewBaseMedication(f MedicationFields) *BaseMedication {
	ts := now()
	return &BaseMedication{
		ID:                    newID(),
		Name:                  f.Name,
		Dosage:                f.Dosage,
		Frequency:             f.Frequency,
		Route:                 f.Route,
		Instructions:          f.Instructions,
		SideEffects:           nonNilStrings(f.SideEffects),
		Interactions:          nonNilStrings(f.Interactions),
		RequiresAuthorization: f.RequiresAuthorization,
		CreatedAt:             ts,
		UpdatedAt:             ts,
	}
}

// NewClientMedication links medicationID to clientID with default state and
// the caller's overrides merged on top
func NewClientMedication(medicationID, clientID string, data ClientSpecificData) *ClientMedication {
	ts := now()
	cm := &ClientMedication{
		ID:                newID(),
		MedicationID:      medicationID,
		ClientID:          clientID,
		StartDate:         ts,
		Status:            ClientMedicationActive,
		AdministrationLog: []Administration{},
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}
	if data.StartDate != nil {
		cm.StartDate = *data.StartDate
	}
	if data.EndDate != nil {
		end := *data.EndDate
		cm.EndDate = &end
	}
	if data.Status != nil {
		cm.Status = *data.Status
	}
	if data.Supply != nil {
		supply := *data.Supply
		cm.Supply = &supply
	}
	if data.RefillsRemaining != nil {
		cm.RefillsRemaining = *data.RefillsRemaining
	}
	if data.SpecialInstructions != nil {
		cm.SpecialInstructions = *data.SpecialInstructions
	}
	return cm
}

// Record appends an administration built from in to the log and decrements
// supply by one when the dose was administered and supply is set and nonzero.
// There is no floor at zero: a negative supply keeps decrementing.
func (cm *ClientMedication) Record(in AdministrationInput) Administration {
	ts := now()
	a := Administration{
		ID:               newID(),
		MedicationID:     in.MedicationID,
		ClientID:         in.ClientID,
		ScheduledTime:    in.ScheduledTime,
		AdministeredTime: in.AdministeredTime,
		AdministeredBy:   in.AdministeredBy,
		Status:           in.Status,
		Notes:            in.Notes,
		CreatedAt:        ts,
	}
	if a.AdministeredTime == "" {
		a.AdministeredTime = TimestampOf(ts)
	}

	cm.AdministrationLog = append(cm.AdministrationLog, a)

	if a.Status == StatusAdministered && cm.Supply != nil && *cm.Supply != 0 {
		remaining := *cm.Supply - 1
		cm.Supply = &remaining
	}
	cm.UpdatedAt = ts
	return a
}

// Apply performs a direct edit. Status transitions are not restricted.
func (cm *ClientMedication) Apply(u ClientMedicationUpdate) {
	if u.Status != nil {
		cm.Status = *u.Status
	}
	if u.Supply != nil {
		supply := *u.Supply
		cm.Supply = &supply
	}
	if u.RefillsRemaining != nil {
		cm.RefillsRemaining = *u.RefillsRemaining
	}
	if u.SpecialInstructions != nil {
		cm.SpecialInstructions = *u.SpecialInstructions
	}
	if u.EndDate != nil {
		end := *u.EndDate
		cm.EndDate = &end
	}
	cm.UpdatedAt = now()
}

// EditAdministration overwrites status and/or administeredBy of the log entry
// with the given id. Supply is never touched, so correcting a missed dose to
// administered does not decrement after the fact.
func (cm *ClientMedication) EditAdministration(id string, patch AdministrationPatch) (before, after Administration, err error) {
	for i := range cm.AdministrationLog {
		if cm.AdministrationLog[i].ID != id {
			continue
		}
		before = cm.AdministrationLog[i]
		if patch.Status != nil {
			cm.AdministrationLog[i].Status = *patch.Status
		}
		if patch.AdministeredBy != nil {
			cm.AdministrationLog[i].AdministeredBy = *patch.AdministeredBy
		}
		cm.UpdatedAt = now()
		return before, cm.AdministrationLog[i], nil
	}
	return Administration{}, Administration{}, ErrAdministrationNotFound
}

// FindAdministration returns the log entry with the given id
func (cm *ClientMedication) FindAdministration(id string) (Administration, bool) {
	for _, a := range cm.AdministrationLog {
		if a.ID == id {
			return a, true
		}
	}
	return Administration{}, false
}

// SupplyValue returns the supply and whether it is tracked
func (cm *ClientMedication) SupplyValue() (int, bool) {
	if cm.Supply == nil {
		return 0, false
	}
	return *cm.Supply, true
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return cloneStrings(in)
}
