// Package memory provides in-memory stores used when no database is
// configured and in tests. All reads and writes copy, so callers never alias
// stored state.
package memory

import (
	"context"
	"sync"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

// MedicationStore is an in-memory medication.Store
type MedicationStore struct {
	mu sync.RWMutex

	medications map[string]*medication.BaseMedication
	medOrder    []string

	clientMeds map[string]*medication.ClientMedication
	cmOrder    []string

	events []*medication.Event
	sinks  []func(*medication.Event)
}

var _ medication.Store = (*MedicationStore)(nil)

// NewMedicationStore creates an empty store
func NewMedicationStore() *MedicationStore {
	return &MedicationStore{
		medications: make(map[string]*medication.BaseMedication),
		clientMeds:  make(map[string]*medication.ClientMedication),
	}
}

// ListMedications returns all canonical medications in insertion order
func (s *MedicationStore) ListMedications(ctx context.Context) ([]*medication.BaseMedication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*medication.BaseMedication, 0, len(s.medOrder))
	for _, id := range s.medOrder {
		out = append(out, s.medications[id].Clone())
	}
	return out, nil
}

// GetMedication returns a canonical medication by id
func (s *MedicationStore) GetMedication(ctx context.Context, id string) (*medication.BaseMedication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.medications[id]
	if !ok {
		return nil, medication.ErrMedicationNotFound
	}
	return m.Clone(), nil
}

// CreateMedication stores a new canonical medication. An identical record
// already present yields ErrDuplicateMedication.
func (s *MedicationStore) CreateMedication(ctx context.Context, m *medication.BaseMedication, events ...*medication.Event) error {
	notify := func() {}
	defer func() { notify() }()
	s.mu.Lock()
	defer s.mu.Unlock()

	d := medication.Descriptor{Name: m.Name, Dosage: m.Dosage, Frequency: m.Frequency, Route: m.Route}
	for _, id := range s.medOrder {
		if d.Matches(s.medications[id]) {
			return medication.ErrDuplicateMedication
		}
	}

	s.medications[m.ID] = m.Clone()
	s.medOrder = append(s.medOrder, m.ID)
	notify = s.record(events)
	return nil
}

// ListClientMedications returns all client medications in insertion order
func (s *MedicationStore) ListClientMedications(ctx context.Context) ([]*medication.ClientMedication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*medication.ClientMedication, 0, len(s.cmOrder))
	for _, id := range s.cmOrder {
		out = append(out, s.clientMeds[id].Clone())
	}
	return out, nil
}

// ListClientMedicationsByClient returns the client's medications in
// insertion order
func (s *MedicationStore) ListClientMedicationsByClient(ctx context.Context, clientID string) ([]*medication.ClientMedication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*medication.ClientMedication{}
	for _, id := range s.cmOrder {
		if cm := s.clientMeds[id]; cm.ClientID == clientID {
			out = append(out, cm.Clone())
		}
	}
	return out, nil
}

// FindClientMedication returns the first link of medicationID to clientID
func (s *MedicationStore) FindClientMedication(ctx context.Context, medicationID, clientID string) (*medication.ClientMedication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.cmOrder {
		cm := s.clientMeds[id]
		if cm.MedicationID == medicationID && cm.ClientID == clientID {
			return cm.Clone(), nil
		}
	}
	return nil, medication.ErrClientMedicationNotFound
}

// GetClientMedication returns a client medication by id
func (s *MedicationStore) GetClientMedication(ctx context.Context, id string) (*medication.ClientMedication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cm, ok := s.clientMeds[id]
	if !ok {
		return nil, medication.ErrClientMedicationNotFound
	}
	return cm.Clone(), nil
}

// FindByAdministration returns the client medication holding the
// administration
func (s *MedicationStore) FindByAdministration(ctx context.Context, administrationID string) (*medication.ClientMedication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.cmOrder {
		cm := s.clientMeds[id]
		if _, ok := cm.FindAdministration(administrationID); ok {
			return cm.Clone(), nil
		}
	}
	return nil, medication.ErrAdministrationNotFound
}

// CreateClientMedication stores a new client medication at version 1
func (s *MedicationStore) CreateClientMedication(ctx context.Context, cm *medication.ClientMedication, events ...*medication.Event) error {
	notify := func() {}
	defer func() { notify() }()
	s.mu.Lock()
	defer s.mu.Unlock()

	cm.Version = 1
	s.clientMeds[cm.ID] = cm.Clone()
	s.cmOrder = append(s.cmOrder, cm.ID)
	notify = s.record(events)
	return nil
}

// SaveClientMedication replaces the stored client medication when the
// version matches
func (s *MedicationStore) SaveClientMedication(ctx context.Context, cm *medication.ClientMedication, events ...*medication.Event) error {
	notify := func() {}
	defer func() { notify() }()
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.clientMeds[cm.ID]
	if !ok {
		return medication.ErrClientMedicationNotFound
	}
	if stored.Version != cm.Version {
		return medication.ErrVersionConflict
	}

	cm.Version++
	s.clientMeds[cm.ID] = cm.Clone()
	notify = s.record(events)
	return nil
}

// OnEvent registers fn to be called after each committed write for every
// event in it
func (s *MedicationStore) OnEvent(fn func(*medication.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, fn)
}

// record appends events and returns the sinks to notify once the lock is
// released
func (s *MedicationStore) record(events []*medication.Event) func() {
	s.events = append(s.events, events...)
	sinks := s.sinks
	return func() {
		for _, evt := range events {
			for _, fn := range sinks {
				fn(evt)
			}
		}
	}
}

// Events returns the events recorded so far
func (s *MedicationStore) Events() []*medication.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*medication.Event, len(s.events))
	copy(out, s.events)
	return out
}
