package medication

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	aggregateMedication       = "Medication"
	aggregateClientMedication = "ClientMedication"

	// maxSaveAttempts bounds the reload-and-reapply loop on version conflicts
	maxSaveAttempts = 3
)

// AddMedicationRequest prescribes a medication to a client. The medication
// fields are resolved against the existing canonical records first.
type AddMedicationRequest struct {
	Medication         MedicationFields   `json:"medication"`
	ClientID           string             `json:"clientId"`
	ClientSpecificData ClientSpecificData `json:"clientSpecificData"`
}

// AddMedicationResult is the outcome of AddMedication
type AddMedicationResult struct {
	BaseMedication   *BaseMedication   `json:"baseMedication"`
	ClientMedication *ClientMedication `json:"clientMedication"`
	// Reused is true when an identical canonical record already existed
	Reused bool `json:"reused"`
}

// MAREntry is one client medication joined to its canonical record.
// Medication is nil when the record cannot be resolved.
type MAREntry struct {
	ClientMedication *ClientMedication
	Medication       *BaseMedication
}

// Service implements the MAR operations on top of a Store
type Service struct {
	store    Store
	observer Observer
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option configures a Service
type Option func(*Service)

// WithObserver sets the counter sink
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewService creates a MAR service
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		observer: nopObserver{},
		logger:   logger,
		tracer:   otel.Tracer("mar-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListMedications returns every canonical medication
func (s *Service) ListMedications(ctx context.Context) ([]*BaseMedication, error) {
	return s.store.ListMedications(ctx)
}

// ListClientMedications returns every client medication
func (s *Service) ListClientMedications(ctx context.Context) ([]*ClientMedication, error) {
	return s.store.ListClientMedications(ctx)
}

// ListClientMedicationsByClient returns the medications of one client
func (s *Service) ListClientMedicationsByClient(ctx context.Context, clientID string) ([]*ClientMedication, error) {
	return s.store.ListClientMedicationsByClient(ctx, clientID)
}

// AddMedication resolves the proposed medication against the existing
// canonical records, creating one only when no identical record exists, and
// links it to the client
func (s *Service) AddMedication(ctx context.Context, req AddMedicationRequest) (*AddMedicationResult, error) {
	ctx, span := s.tracer.Start(ctx, "AddMedication",
		trace.WithAttributes(attribute.String("client.id", req.ClientID)))
	defer span.End()

	if req.ClientID == "" || req.Medication.Name == "" {
		return nil, fmt.Errorf("%w: medication name and clientId are required", ErrInvalidInput)
	}

	base, reused, err := s.resolveMedication(ctx, req.Medication)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	cm := NewClientMedication(base.ID, req.ClientID, req.ClientSpecificData)
	evt, err := NewEvent(aggregateClientMedication, cm.ID, EventClientMedicationCreated, ClientMedicationCreatedData{
		ClientMedicationID: cm.ID,
		MedicationID:       base.ID,
		ClientID:           cm.ClientID,
		Supply:             cm.Supply,
		ReusedMedication:   reused,
	})
	if err != nil {
		return nil, fmt.Errorf("build event: %w", err)
	}
	evt.ClientID = cm.ClientID

	if err := s.store.CreateClientMedication(ctx, cm, evt); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create client medication: %w", err)
	}

	s.observer.MedicationResolved(reused)
	s.logger.Info("medication added",
		zap.String("medication_id", base.ID),
		zap.String("client_medication_id", cm.ID),
		zap.String("client_id", cm.ClientID),
		zap.Bool("reused", reused))

	return &AddMedicationResult{BaseMedication: base, ClientMedication: cm, Reused: reused}, nil
}

// resolveMedication returns the identical canonical record or creates one.
// A concurrent insert of the same tuple surfaces as ErrDuplicateMedication
// and is resolved again.
func (s *Service) resolveMedication(ctx context.Context, fields MedicationFields) (*BaseMedication, bool, error) {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		existing, err := s.store.ListMedications(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("list medications: %w", err)
		}
		if match, found := FindIdentical(fields.Descriptor(), existing); found {
			return match, true, nil
		}

		base := NewBaseMedication(fields)
		evt, err := NewEvent(aggregateMedication, base.ID, EventMedicationCreated, MedicationCreatedData{
			MedicationID: base.ID,
			Name:         base.Name,
			Dosage:       base.Dosage,
			Frequency:    base.Frequency,
			Route:        base.Route,
		})
		if err != nil {
			return nil, false, fmt.Errorf("build event: %w", err)
		}

		err = s.store.CreateMedication(ctx, base, evt)
		if errors.Is(err, ErrDuplicateMedication) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("create medication: %w", err)
		}
		return base, false, nil
	}
	return nil, false, ErrDuplicateMedication
}

// RecordAdministration appends an administration to the client medication
// identified by medicationId and clientId and applies the supply rule
func (s *Service) RecordAdministration(ctx context.Context, in AdministrationInput) (*Administration, error) {
	ctx, span := s.tracer.Start(ctx, "RecordAdministration",
		trace.WithAttributes(
			attribute.String("client.id", in.ClientID),
			attribute.String("medication.id", in.MedicationID),
			attribute.String("administration.status", string(in.Status)),
		))
	defer span.End()

	medicationName := ""
	if med, err := s.store.GetMedication(ctx, in.MedicationID); err == nil {
		medicationName = med.Name
	}

	var (
		recorded    Administration
		decremented bool
	)
	cm, err := s.mutate(ctx,
		func() (*ClientMedication, error) {
			return s.store.FindClientMedication(ctx, in.MedicationID, in.ClientID)
		},
		func(cm *ClientMedication) ([]*Event, error) {
			before := cloneSupply(cm.Supply)
			recorded = cm.Record(in)
			decremented = supplyChanged(before, cm.Supply)

			evt, err := NewEvent(aggregateClientMedication, cm.ID, EventAdministrationRecorded, AdministrationRecordedData{
				AdministrationID:   recorded.ID,
				ClientMedicationID: cm.ID,
				MedicationID:       recorded.MedicationID,
				MedicationName:     medicationName,
				ClientID:           recorded.ClientID,
				Status:             recorded.Status,
				AdministeredBy:     recorded.AdministeredBy,
				AdministeredTime:   recorded.AdministeredTime,
				SupplyBefore:       before,
				SupplyAfter:        cloneSupply(cm.Supply),
			})
			if err != nil {
				return nil, err
			}
			evt.ClientID = cm.ClientID
			return []*Event{evt}, nil
		})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.observer.AdministrationRecorded(recorded.Status, decremented, cm.Supply)
	fields := []zap.Field{
		zap.String("administration_id", recorded.ID),
		zap.String("client_medication_id", cm.ID),
		zap.String("status", string(recorded.Status)),
		zap.Bool("decremented", decremented),
	}
	if supply, ok := cm.SupplyValue(); ok {
		fields = append(fields, zap.Int("supply", supply))
		if supply < 0 {
			s.logger.Warn("client medication supply is negative", fields...)
		}
	}
	s.logger.Info("administration recorded", fields...)

	return &recorded, nil
}

// UpdateClientMedication applies a direct edit to a client medication
func (s *Service) UpdateClientMedication(ctx context.Context, id string, u ClientMedicationUpdate) (*ClientMedication, error) {
	ctx, span := s.tracer.Start(ctx, "UpdateClientMedication",
		trace.WithAttributes(attribute.String("client_medication.id", id)))
	defer span.End()

	cm, err := s.mutate(ctx,
		func() (*ClientMedication, error) { return s.store.GetClientMedication(ctx, id) },
		func(cm *ClientMedication) ([]*Event, error) {
			cm.Apply(u)
			evt, err := NewEvent(aggregateClientMedication, cm.ID, EventClientMedicationUpdated, ClientMedicationUpdatedData{
				ClientMedicationID: cm.ID,
				ClientID:           cm.ClientID,
				Status:             cm.Status,
				Supply:             cloneSupply(cm.Supply),
				RefillsRemaining:   cm.RefillsRemaining,
			})
			if err != nil {
				return nil, err
			}
			evt.ClientID = cm.ClientID
			return []*Event{evt}, nil
		})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.Info("client medication updated",
		zap.String("client_medication_id", cm.ID),
		zap.String("status", string(cm.Status)))
	return cm, nil
}

// History returns every administration of the client across all of their
// medications, newest scheduled time first. Entries without a parseable
// scheduled time sort last in their original order.
func (s *Service) History(ctx context.Context, clientID string) ([]Administration, error) {
	meds, err := s.store.ListClientMedicationsByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client medications: %w", err)
	}

	history := []Administration{}
	for _, cm := range meds {
		history = append(history, cm.AdministrationLog...)
	}
	SortByScheduledTime(history)
	return history, nil
}

// SortByScheduledTime sorts administrations by scheduled time descending.
// Unparseable times sort as earliest; the sort is stable.
func SortByScheduledTime(entries []Administration) {
	sortDescending(entries, func(a Administration) Timestamp { return a.ScheduledTime })
}

// SortByAdministeredTime sorts administrations by administered time
// descending with the same rules as SortByScheduledTime
func SortByAdministeredTime(entries []Administration) {
	sortDescending(entries, func(a Administration) Timestamp { return a.AdministeredTime })
}

func sortDescending(entries []Administration, key func(Administration) Timestamp) {
	sort.SliceStable(entries, func(i, j int) bool {
		ti, okI := key(entries[i]).Time()
		tj, okJ := key(entries[j]).Time()
		switch {
		case okI && okJ:
			return ti.After(tj)
		case okI:
			return true
		default:
			return false
		}
	})
}

// EditAdministration overwrites status and/or administeredBy of a logged
// administration. Only admins may edit; supply is never adjusted.
func (s *Service) EditAdministration(ctx context.Context, actor Actor, administrationID string, patch AdministrationPatch) (*Administration, error) {
	ctx, span := s.tracer.Start(ctx, "EditAdministration",
		trace.WithAttributes(attribute.String("administration.id", administrationID)))
	defer span.End()

	if !actor.IsAdmin() {
		span.SetStatus(codes.Error, ErrForbidden.Error())
		return nil, ErrForbidden
	}

	var edited Administration
	_, err := s.mutate(ctx,
		func() (*ClientMedication, error) { return s.store.FindByAdministration(ctx, administrationID) },
		func(cm *ClientMedication) ([]*Event, error) {
			before, after, err := cm.EditAdministration(administrationID, patch)
			if err != nil {
				return nil, err
			}
			edited = after
			evt, err := NewEvent(aggregateClientMedication, cm.ID, EventAdministrationEdited, AdministrationEditedData{
				AdministrationID:   after.ID,
				ClientMedicationID: cm.ID,
				ClientID:           cm.ClientID,
				EditedBy:           actor.Name,
				PreviousStatus:     before.Status,
				Status:             after.Status,
				PreviousBy:         before.AdministeredBy,
				AdministeredBy:     after.AdministeredBy,
			})
			if err != nil {
				return nil, err
			}
			evt.ClientID = cm.ClientID
			return []*Event{evt}, nil
		})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.observer.AdministrationEdited()
	s.logger.Info("administration edited",
		zap.String("administration_id", administrationID),
		zap.String("edited_by", actor.Name),
		zap.String("status", string(edited.Status)))
	return &edited, nil
}

// ClientMAR returns the client's medications joined to their canonical
// records
func (s *Service) ClientMAR(ctx context.Context, clientID string) ([]MAREntry, error) {
	meds, err := s.store.ListClientMedicationsByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client medications: %w", err)
	}

	entries := make([]MAREntry, 0, len(meds))
	for _, cm := range meds {
		entry := MAREntry{ClientMedication: cm}
		med, err := s.store.GetMedication(ctx, cm.MedicationID)
		switch {
		case err == nil:
			entry.Medication = med
		case errors.Is(err, ErrMedicationNotFound):
			s.logger.Warn("client medication references unknown medication",
				zap.String("client_medication_id", cm.ID),
				zap.String("medication_id", cm.MedicationID))
		default:
			return nil, fmt.Errorf("get medication: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// mutate loads a client medication, applies fn and saves it, reloading and
// reapplying on version conflicts
func (s *Service) mutate(
	ctx context.Context,
	load func() (*ClientMedication, error),
	fn func(*ClientMedication) ([]*Event, error),
) (*ClientMedication, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		cm, err := load()
		if err != nil {
			return nil, err
		}
		events, err := fn(cm)
		if err != nil {
			return nil, err
		}
		err = s.store.SaveClientMedication(ctx, cm, events...)
		if err == nil {
			return cm, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("save client medication: %w", err)
		}
		lastErr = err
		s.logger.Debug("client medication version conflict, retrying",
			zap.String("client_medication_id", cm.ID),
			zap.Int("attempt", attempt))
	}
	return nil, lastErr
}

func cloneSupply(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func supplyChanged(before, after *int) bool {
	if before == nil || after == nil {
		return false
	}
	return *before != *after
}
