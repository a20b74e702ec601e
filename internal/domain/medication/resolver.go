package medication

import "strings"

// Descriptor is the identity tuple of a canonical medication
type Descriptor struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Route     Route  `json:"route"`
}

// Matches reports whether m is identical to the descriptor. Only the name is
// compared case-insensitively; dosage, frequency and route must be equal byte
// for byte ("50mg" does not match "50 mg").
func (d Descriptor) Matches(m *BaseMedication) bool {
	if m == nil {
		return false
	}
	return strings.ToLower(m.Name) == strings.ToLower(d.Name) &&
		m.Dosage == d.Dosage &&
		m.Frequency == d.Frequency &&
		m.Route == d.Route
}

// FindIdentical searches existing for a record identical to d. It has no side
// effects; the caller creates a new record when found is false.
func FindIdentical(d Descriptor, existing []*BaseMedication) (match *BaseMedication, found bool) {
	for _, m := range existing {
		if d.Matches(m) {
			return m, true
		}
	}
	return nil, false
}
