package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

const uniqueViolation = "23505"

const medicationColumns = `id, name, dosage, frequency, route, instructions,
	side_effects, interactions, requires_authorization, created_at, updated_at`

const clientMedicationColumns = `id, medication_id, client_id, start_date, end_date, status,
	supply, refills_remaining, special_instructions, administration_log, version,
	created_at, updated_at`

// MedicationStore implements medication.Store on PostgreSQL. Every write
// commits its events to the outbox in the same transaction.
type MedicationStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ medication.Store = (*MedicationStore)(nil)

// NewMedicationStore creates a store on pool
func NewMedicationStore(pool *pgxpool.Pool, logger *zap.Logger) *MedicationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MedicationStore{pool: pool, logger: logger}
}

func (s *MedicationStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanMedication(row pgx.CollectableRow) (*medication.BaseMedication, error) {
	m := &medication.BaseMedication{}
	var sideEffects, interactions []byte
	if err := row.Scan(&m.ID, &m.Name, &m.Dosage, &m.Frequency, &m.Route, &m.Instructions,
		&sideEffects, &interactions, &m.RequiresAuthorization, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalList(sideEffects, &m.SideEffects); err != nil {
		return nil, fmt.Errorf("decode side effects of %s: %w", m.ID, err)
	}
	if err := unmarshalList(interactions, &m.Interactions); err != nil {
		return nil, fmt.Errorf("decode interactions of %s: %w", m.ID, err)
	}
	return m, nil
}

func unmarshalList(raw []byte, dst *[]string) error {
	*dst = []string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func scanClientMedication(row pgx.CollectableRow) (*medication.ClientMedication, error) {
	cm := &medication.ClientMedication{}
	var log []byte
	if err := row.Scan(&cm.ID, &cm.MedicationID, &cm.ClientID, &cm.StartDate, &cm.EndDate, &cm.Status,
		&cm.Supply, &cm.RefillsRemaining, &cm.SpecialInstructions, &log, &cm.Version,
		&cm.CreatedAt, &cm.UpdatedAt); err != nil {
		return nil, err
	}
	cm.AdministrationLog = []medication.Administration{}
	if len(log) > 0 {
		if err := json.Unmarshal(log, &cm.AdministrationLog); err != nil {
			return nil, fmt.Errorf("decode administration log of %s: %w", cm.ID, err)
		}
	}
	return cm, nil
}

// ListMedications returns every canonical record in creation order
func (s *MedicationStore) ListMedications(ctx context.Context) ([]*medication.BaseMedication, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+medicationColumns+` FROM medications ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	return pgx.CollectRows(rows, scanMedication)
}

// validID reports whether id can name a row. Record ids are UUID columns,
// so anything else cannot match and is answered as not found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *MedicationStore) GetMedication(ctx context.Context, id string) (*medication.BaseMedication, error) {
	if !validID(id) {
		return nil, medication.ErrMedicationNotFound
	}
	rows, err := s.pool.Query(ctx, `SELECT `+medicationColumns+` FROM medications WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMedication)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, medication.ErrMedicationNotFound
	}
	return m, err
}

// CreateMedication relies on the identity index to reject a concurrent
// identical insert
func (s *MedicationStore) CreateMedication(ctx context.Context, m *medication.BaseMedication, events ...*medication.Event) error {
	sideEffects, err := json.Marshal(nonNil(m.SideEffects))
	if err != nil {
		return err
	}
	interactions, err := json.Marshal(nonNil(m.Interactions))
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO medications (`+medicationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			m.ID, m.Name, m.Dosage, m.Frequency, string(m.Route), m.Instructions,
			sideEffects, interactions, m.RequiresAuthorization, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return medication.ErrDuplicateMedication
			}
			return fmt.Errorf("insert medication: %w", err)
		}
		return writeEvents(ctx, tx, events)
	})
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *MedicationStore) queryClientMedications(ctx context.Context, where string, args ...interface{}) ([]*medication.ClientMedication, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+clientMedicationColumns+` FROM client_medications `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query client medications: %w", err)
	}
	return pgx.CollectRows(rows, scanClientMedication)
}

func (s *MedicationStore) oneClientMedication(ctx context.Context, where string, args ...interface{}) (*medication.ClientMedication, error) {
	list, err := s.queryClientMedications(ctx, where+` LIMIT 1`, args...)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, medication.ErrClientMedicationNotFound
	}
	return list[0], nil
}

func (s *MedicationStore) ListClientMedications(ctx context.Context) ([]*medication.ClientMedication, error) {
	return s.queryClientMedications(ctx, `ORDER BY seq`)
}

func (s *MedicationStore) ListClientMedicationsByClient(ctx context.Context, clientID string) ([]*medication.ClientMedication, error) {
	return s.queryClientMedications(ctx, `WHERE client_id = $1 ORDER BY seq`, clientID)
}

func (s *MedicationStore) FindClientMedication(ctx context.Context, medicationID, clientID string) (*medication.ClientMedication, error) {
	if !validID(medicationID) {
		return nil, medication.ErrClientMedicationNotFound
	}
	return s.oneClientMedication(ctx, `WHERE medication_id = $1 AND client_id = $2 ORDER BY seq`, medicationID, clientID)
}

func (s *MedicationStore) GetClientMedication(ctx context.Context, id string) (*medication.ClientMedication, error) {
	if !validID(id) {
		return nil, medication.ErrClientMedicationNotFound
	}
	return s.oneClientMedication(ctx, `WHERE id = $1`, id)
}

func (s *MedicationStore) FindByAdministration(ctx context.Context, administrationID string) (*medication.ClientMedication, error) {
	probe, err := json.Marshal([]map[string]string{{"id": administrationID}})
	if err != nil {
		return nil, err
	}
	return s.oneClientMedication(ctx, `WHERE administration_log @> $1::jsonb ORDER BY seq`, probe)
}

func (s *MedicationStore) CreateClientMedication(ctx context.Context, cm *medication.ClientMedication, events ...*medication.Event) error {
	log, err := marshalLog(cm.AdministrationLog)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO client_medications (`+clientMedicationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)`,
			cm.ID, cm.MedicationID, cm.ClientID, cm.StartDate, cm.EndDate, string(cm.Status),
			cm.Supply, cm.RefillsRemaining, cm.SpecialInstructions, log, cm.CreatedAt, cm.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert client medication: %w", err)
		}
		return writeEvents(ctx, tx, events)
	})
	if err != nil {
		return err
	}
	cm.Version = 1
	return nil
}

func (s *MedicationStore) SaveClientMedication(ctx context.Context, cm *medication.ClientMedication, events ...*medication.Event) error {
	if !validID(cm.ID) {
		return medication.ErrClientMedicationNotFound
	}
	log, err := marshalLog(cm.AdministrationLog)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE client_medications
			SET end_date = $3, status = $4, supply = $5, refills_remaining = $6,
			    special_instructions = $7, administration_log = $8, updated_at = $9,
			    version = version + 1
			WHERE id = $1 AND version = $2`,
			cm.ID, cm.Version, cm.EndDate, string(cm.Status), cm.Supply, cm.RefillsRemaining,
			cm.SpecialInstructions, log, updatedAt(cm))
		if err != nil {
			return fmt.Errorf("update client medication: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM client_medications WHERE id = $1)`, cm.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check client medication: %w", err)
			}
			if !exists {
				return medication.ErrClientMedicationNotFound
			}
			return medication.ErrVersionConflict
		}
		return writeEvents(ctx, tx, events)
	})
	if err != nil {
		return err
	}
	cm.Version++
	return nil
}

func updatedAt(cm *medication.ClientMedication) time.Time {
	if cm.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return cm.UpdatedAt
}

func marshalLog(log []medication.Administration) ([]byte, error) {
	if log == nil {
		log = []medication.Administration{}
	}
	b, err := json.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("encode administration log: %w", err)
	}
	return b, nil
}
