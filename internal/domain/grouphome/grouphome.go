// Package grouphome manages residential homes, their residents and their
// grocery inventory.
package grouphome

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("group home not found")
	ErrItemNotFound      = errors.New("inventory item not found")
	ErrAtCapacity        = errors.New("group home is at capacity")
	ErrAlreadyResident   = errors.New("client already resides in this home")
	ErrNotResident       = errors.New("client does not reside in this home")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalid           = errors.New("invalid group home data")
)

// GroupHome is a residence with a fixed number of beds
type GroupHome struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Capacity  int       `json:"capacity"`
	Residents []string  `json:"residents"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Occupancy summarizes bed usage
type Occupancy struct {
	Capacity  int `json:"capacity"`
	Occupied  int `json:"occupied"`
	Available int `json:"available"`
}

// New validates and creates a group home
func New(name, address string, capacity int) (*GroupHome, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.Join(ErrInvalid, errors.New("name is required"))
	}
	if capacity <= 0 {
		return nil, errors.Join(ErrInvalid, errors.New("capacity must be positive"))
	}
	now := time.Now().UTC()
	return &GroupHome{
		ID:        uuid.New().String(),
		Name:      name,
		Address:   address,
		Capacity:  capacity,
		Residents: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Clone returns a deep copy
func (h *GroupHome) Clone() *GroupHome {
	c := *h
	c.Residents = append([]string(nil), h.Residents...)
	return &c
}

// HasResident reports whether the client lives here
func (h *GroupHome) HasResident(clientID string) bool {
	for _, r := range h.Residents {
		if r == clientID {
			return true
		}
	}
	return false
}

// Admit adds a resident
func (h *GroupHome) Admit(clientID string) error {
	if h.HasResident(clientID) {
		return ErrAlreadyResident
	}
	if len(h.Residents) >= h.Capacity {
		return ErrAtCapacity
	}
	h.Residents = append(h.Residents, clientID)
	h.UpdatedAt = time.Now().UTC()
	return nil
}

// Discharge removes a resident
func (h *GroupHome) Discharge(clientID string) error {
	for i, r := range h.Residents {
		if r == clientID {
			h.Residents = append(h.Residents[:i], h.Residents[i+1:]...)
			h.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrNotResident
}

// Occupancy returns current bed usage
func (h *GroupHome) Occupancy() Occupancy {
	occupied := len(h.Residents)
	available := h.Capacity - occupied
	if available < 0 {
		available = 0
	}
	return Occupancy{Capacity: h.Capacity, Occupied: occupied, Available: available}
}
