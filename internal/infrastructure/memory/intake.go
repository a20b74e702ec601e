package memory

import (
	"context"
	"sync"

	"github.com/carehaven/go-mar/internal/domain/intake"
)

// IntakeStore is an in-memory intake.Store
type IntakeStore struct {
	mu    sync.RWMutex
	subs  map[string]*intake.Submission
	order []string
}

var _ intake.Store = (*IntakeStore)(nil)

// NewIntakeStore creates an empty store
func NewIntakeStore() *IntakeStore {
	return &IntakeStore{subs: make(map[string]*intake.Submission)}
}

func cloneSubmission(s *intake.Submission) *intake.Submission {
	c := *s
	c.Values = make(map[string]interface{}, len(s.Values))
	for k, v := range s.Values {
		c.Values[k] = v
	}
	return &c
}

func (s *IntakeStore) Save(ctx context.Context, sub *intake.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[sub.ID]; !exists {
		s.order = append(s.order, sub.ID)
	}
	s.subs[sub.ID] = cloneSubmission(sub)
	return nil
}

func (s *IntakeStore) Get(ctx context.Context, id string) (*intake.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, intake.ErrNotFound
	}
	return cloneSubmission(sub), nil
}

func (s *IntakeStore) List(ctx context.Context) ([]*intake.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*intake.Submission, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneSubmission(s.subs[id]))
	}
	return out, nil
}
