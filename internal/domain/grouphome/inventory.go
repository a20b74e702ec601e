package grouphome

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InventoryItem is a grocery or household stock line of one home
type InventoryItem struct {
	ID           string    `json:"id"`
	HomeID       string    `json:"homeId"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Quantity     int       `json:"quantity"`
	Unit         string    `json:"unit"`
	ReorderLevel int       `json:"reorderLevel"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewItem validates and creates an inventory item
func NewItem(homeID, name, category string, quantity int, unit string, reorderLevel int) (*InventoryItem, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.Join(ErrInvalid, errors.New("item name is required"))
	}
	if quantity < 0 || reorderLevel < 0 {
		return nil, errors.Join(ErrInvalid, errors.New("quantity and reorder level must not be negative"))
	}
	return &InventoryItem{
		ID:           uuid.New().String(),
		HomeID:       homeID,
		Name:         name,
		Category:     category,
		Quantity:     quantity,
		Unit:         unit,
		ReorderLevel: reorderLevel,
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

// Adjust changes the quantity by delta; stock never goes below zero
func (i *InventoryItem) Adjust(delta int) error {
	if i.Quantity+delta < 0 {
		return ErrInsufficientStock
	}
	i.Quantity += delta
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// NeedsReorder reports whether stock is at or below the reorder level
func (i *InventoryItem) NeedsReorder() bool {
	return i.Quantity <= i.ReorderLevel
}
