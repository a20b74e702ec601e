package medication

import "errors"

var (
	// ErrClientMedicationNotFound means no client medication links the given
	// medication and client
	ErrClientMedicationNotFound = errors.New("client medication not found")
	// ErrMedicationNotFound means no canonical medication has the given id
	ErrMedicationNotFound = errors.New("medication not found")
	// ErrAdministrationNotFound means no log entry has the given id
	ErrAdministrationNotFound = errors.New("administration not found")
	// ErrForbidden means the actor may not perform the operation
	ErrForbidden = errors.New("forbidden: admin role required")
	// ErrVersionConflict means the client medication changed since it was read
	ErrVersionConflict = errors.New("client medication version conflict")
	// ErrDuplicateMedication means an identical canonical medication already exists
	ErrDuplicateMedication = errors.New("identical medication already exists")
)

// ErrInvalidInput means a required field is missing
var ErrInvalidInput = errors.New("invalid input")
