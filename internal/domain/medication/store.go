package medication

import "context"

// Store persists canonical medications and client medications. Events passed
// to a write are stored atomically with it.
type Store interface {
	ListMedications(ctx context.Context) ([]*BaseMedication, error)
	GetMedication(ctx context.Context, id string) (*BaseMedication, error)
	// CreateMedication returns ErrDuplicateMedication when an identical
	// record was stored concurrently
	CreateMedication(ctx context.Context, m *BaseMedication, events ...*Event) error

	// ListClientMedications returns all client medications in insertion order
	ListClientMedications(ctx context.Context) ([]*ClientMedication, error)
	ListClientMedicationsByClient(ctx context.Context, clientID string) ([]*ClientMedication, error)
	// FindClientMedication returns the first client medication, in insertion
	// order, linking medicationID and clientID
	FindClientMedication(ctx context.Context, medicationID, clientID string) (*ClientMedication, error)
	GetClientMedication(ctx context.Context, id string) (*ClientMedication, error)
	// FindByAdministration returns the client medication whose log holds the
	// administration
	FindByAdministration(ctx context.Context, administrationID string) (*ClientMedication, error)
	CreateClientMedication(ctx context.Context, cm *ClientMedication, events ...*Event) error
	// SaveClientMedication replaces the stored record when its version still
	// equals cm.Version and bumps cm.Version; otherwise it returns
	// ErrVersionConflict
	SaveClientMedication(ctx context.Context, cm *ClientMedication, events ...*Event) error
}

// Observer receives MAR counters
type Observer interface {
	MedicationResolved(reused bool)
	AdministrationRecorded(status AdministrationStatus, decremented bool, supplyAfter *int)
	AdministrationEdited()
}

type nopObserver struct{}

func (nopObserver) MedicationResolved(bool)                                 {}
func (nopObserver) AdministrationRecorded(AdministrationStatus, bool, *int) {}
func (nopObserver) AdministrationEdited()                                   {}
