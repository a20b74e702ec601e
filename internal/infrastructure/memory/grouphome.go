package memory

import (
	"context"
	"sync"

	"github.com/carehaven/go-mar/internal/domain/grouphome"
)

// GroupHomeStore is an in-memory grouphome.Store
type GroupHomeStore struct {
	mu        sync.RWMutex
	homes     map[string]*grouphome.GroupHome
	homeOrder []string
	items     map[string]*grouphome.InventoryItem
	itemOrder []string
}

var _ grouphome.Store = (*GroupHomeStore)(nil)

// NewGroupHomeStore creates an empty store
func NewGroupHomeStore() *GroupHomeStore {
	return &GroupHomeStore{
		homes: make(map[string]*grouphome.GroupHome),
		items: make(map[string]*grouphome.InventoryItem),
	}
}

func (s *GroupHomeStore) CreateHome(ctx context.Context, h *grouphome.GroupHome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.homes[h.ID] = h.Clone()
	s.homeOrder = append(s.homeOrder, h.ID)
	return nil
}

func (s *GroupHomeStore) GetHome(ctx context.Context, id string) (*grouphome.GroupHome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.homes[id]
	if !ok {
		return nil, grouphome.ErrNotFound
	}
	return h.Clone(), nil
}

func (s *GroupHomeStore) ListHomes(ctx context.Context) ([]*grouphome.GroupHome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*grouphome.GroupHome, 0, len(s.homeOrder))
	for _, id := range s.homeOrder {
		out = append(out, s.homes[id].Clone())
	}
	return out, nil
}

func (s *GroupHomeStore) UpdateHome(ctx context.Context, id string, fn func(*grouphome.GroupHome) error) (*grouphome.GroupHome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.homes[id]
	if !ok {
		return nil, grouphome.ErrNotFound
	}
	working := h.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.homes[id] = working
	return working.Clone(), nil
}

func (s *GroupHomeStore) CreateItem(ctx context.Context, item *grouphome.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *item
	s.items[item.ID] = &c
	s.itemOrder = append(s.itemOrder, item.ID)
	return nil
}

func (s *GroupHomeStore) ListItems(ctx context.Context, homeID string) ([]*grouphome.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*grouphome.InventoryItem
	for _, id := range s.itemOrder {
		if item := s.items[id]; item.HomeID == homeID {
			c := *item
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *GroupHomeStore) UpdateItem(ctx context.Context, homeID, itemID string, fn func(*grouphome.InventoryItem) error) (*grouphome.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok || item.HomeID != homeID {
		return nil, grouphome.ErrItemNotFound
	}
	working := *item
	if err := fn(&working); err != nil {
		return nil, err
	}
	s.items[itemID] = &working
	out := working
	return &out, nil
}
