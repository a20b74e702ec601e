package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound means no submission has the given id
var ErrNotFound = errors.New("intake submission not found")

// Submission is a validated intake form
type Submission struct {
	ID          string                 `json:"id"`
	SchemaID    string                 `json:"schemaId"`
	ClientID    string                 `json:"clientId"`
	Values      map[string]interface{} `json:"values"`
	SubmittedBy string                 `json:"submittedBy"`
	SubmittedAt time.Time              `json:"submittedAt"`
}

// Store persists submissions
type Store interface {
	Save(ctx context.Context, s *Submission) error
	Get(ctx context.Context, id string) (*Submission, error)
	List(ctx context.Context) ([]*Submission, error)
}

// Service validates and stores intake submissions
type Service struct {
	schema Schema
	store  Store
	logger *zap.Logger
}

// NewService creates an intake service for schema
func NewService(schema Schema, store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{schema: schema, store: store, logger: logger}
}

// Schema returns the form served to clients
func (s *Service) Schema() Schema { return s.schema }

// Submit validates values and stores them. A new client id is assigned.
func (s *Service) Submit(ctx context.Context, values map[string]interface{}, submittedBy string) (*Submission, error) {
	if err := Validate(s.schema, values); err != nil {
		return nil, err
	}
	sub := &Submission{
		ID:          uuid.New().String(),
		SchemaID:    s.schema.ID,
		ClientID:    uuid.New().String(),
		Values:      values,
		SubmittedBy: submittedBy,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.store.Save(ctx, sub); err != nil {
		return nil, err
	}
	s.logger.Info("intake submitted", zap.String("submission_id", sub.ID), zap.String("client_id", sub.ClientID))
	return sub, nil
}

// Get returns one submission
func (s *Service) Get(ctx context.Context, id string) (*Submission, error) {
	return s.store.Get(ctx, id)
}

// List returns all submissions
func (s *Service) List(ctx context.Context) ([]*Submission, error) {
	return s.store.List(ctx)
}

// ClientName returns "firstName lastName" from the client's most recent
// intake, or "" when the client has none
func (s *Service) ClientName(ctx context.Context, clientID string) (string, error) {
	subs, err := s.store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list intake submissions: %w", err)
	}
	for i := len(subs) - 1; i >= 0; i-- {
		if subs[i].ClientID != clientID {
			continue
		}
		var parts []string
		for _, key := range []string{"firstName", "lastName"} {
			if v, ok := subs[i].Values[key].(string); ok && strings.TrimSpace(v) != "" {
				parts = append(parts, strings.TrimSpace(v))
			}
		}
		return strings.Join(parts, " "), nil
	}
	return "", nil
}
