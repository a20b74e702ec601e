package grouphome

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Store persists group homes and inventory
type Store interface {
	CreateHome(ctx context.Context, h *GroupHome) error
	GetHome(ctx context.Context, id string) (*GroupHome, error)
	ListHomes(ctx context.Context) ([]*GroupHome, error)
	// UpdateHome applies fn to the stored home atomically
	UpdateHome(ctx context.Context, id string, fn func(*GroupHome) error) (*GroupHome, error)

	CreateItem(ctx context.Context, item *InventoryItem) error
	ListItems(ctx context.Context, homeID string) ([]*InventoryItem, error)
	// UpdateItem applies fn to the stored item atomically
	UpdateItem(ctx context.Context, homeID, itemID string, fn func(*InventoryItem) error) (*InventoryItem, error)
}

// Service implements the group home operations
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a group home service
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// CreateHome creates a group home
func (s *Service) CreateHome(ctx context.Context, name, address string, capacity int) (*GroupHome, error) {
	h, err := New(name, address, capacity)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateHome(ctx, h); err != nil {
		return nil, fmt.Errorf("create home: %w", err)
	}
	s.logger.Info("group home created", zap.String("home_id", h.ID), zap.Int("capacity", capacity))
	return h, nil
}

// ListHomes returns all homes
func (s *Service) ListHomes(ctx context.Context) ([]*GroupHome, error) {
	return s.store.ListHomes(ctx)
}

// GetHome returns one home
func (s *Service) GetHome(ctx context.Context, id string) (*GroupHome, error) {
	return s.store.GetHome(ctx, id)
}

// Admit moves a client into a home
func (s *Service) Admit(ctx context.Context, homeID, clientID string) (*GroupHome, error) {
	h, err := s.store.UpdateHome(ctx, homeID, func(h *GroupHome) error { return h.Admit(clientID) })
	if err != nil {
		return nil, err
	}
	s.logger.Info("resident admitted", zap.String("home_id", homeID), zap.String("client_id", clientID))
	return h, nil
}

// Discharge moves a client out of a home
func (s *Service) Discharge(ctx context.Context, homeID, clientID string) (*GroupHome, error) {
	h, err := s.store.UpdateHome(ctx, homeID, func(h *GroupHome) error { return h.Discharge(clientID) })
	if err != nil {
		return nil, err
	}
	s.logger.Info("resident discharged", zap.String("home_id", homeID), zap.String("client_id", clientID))
	return h, nil
}

// Occupancy returns bed usage of a home
func (s *Service) Occupancy(ctx context.Context, homeID string) (Occupancy, error) {
	h, err := s.store.GetHome(ctx, homeID)
	if err != nil {
		return Occupancy{}, err
	}
	return h.Occupancy(), nil
}

// AddItem adds a stock line to a home
func (s *Service) AddItem(ctx context.Context, homeID, name, category string, quantity int, unit string, reorderLevel int) (*InventoryItem, error) {
	if _, err := s.store.GetHome(ctx, homeID); err != nil {
		return nil, err
	}
	item, err := NewItem(homeID, name, category, quantity, unit, reorderLevel)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return item, nil
}

// ListItems returns a home's inventory
func (s *Service) ListItems(ctx context.Context, homeID string) ([]*InventoryItem, error) {
	if _, err := s.store.GetHome(ctx, homeID); err != nil {
		return nil, err
	}
	return s.store.ListItems(ctx, homeID)
}

// AdjustItem changes an item's quantity by delta
func (s *Service) AdjustItem(ctx context.Context, homeID, itemID string, delta int) (*InventoryItem, error) {
	item, err := s.store.UpdateItem(ctx, homeID, itemID, func(i *InventoryItem) error { return i.Adjust(delta) })
	if err != nil {
		return nil, err
	}
	if item.NeedsReorder() {
		s.logger.Info("inventory item needs reorder",
			zap.String("home_id", homeID),
			zap.String("item", item.Name),
			zap.Int("quantity", item.Quantity))
	}
	return item, nil
}

// ReorderList returns the items at or below their reorder level
func (s *Service) ReorderList(ctx context.Context, homeID string) ([]*InventoryItem, error) {
	items, err := s.ListItems(ctx, homeID)
	if err != nil {
		return nil, err
	}
	out := []*InventoryItem{}
	for _, i := range items {
		if i.NeedsReorder() {
			out = append(out, i)
		}
	}
	return out, nil
}
