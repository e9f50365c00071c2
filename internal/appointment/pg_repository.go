package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.OrganizationID,
		&a.PatientID,
		&a.DoctorID,
		&a.Status,
		&a.ScheduledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanAuditEntry(row pgx.Row) (*AuditEntry, error) {
	var e AuditEntry
	var metadata []byte

	err := row.Scan(
		&e.ID,
		&e.AppointmentID,
		&e.OrganizationID,
		&e.CallerID,
		&e.CallerRole,
		&e.PreviousStatus,
		&e.NewStatus,
		&e.Reason,
		&metadata,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata: %w", err)
		}
	}

	return &e, nil
}

// Interface methods

func (s *PgStore) GetCore(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, patient_id, doctor_id, status, scheduled_at, created_at, updated_at
		FROM appointments
		WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	return scanAppointment(row)
}

// CommitTransition row-locks the appointment, re-checks the status the
// caller validated against, then writes the status update and the audit
// entry inside the same transaction. Either both land or neither does.
func (s *PgStore) CommitTransition(ctx context.Context, entry *AuditEntry) (uuid.UUID, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var current AppointmentStatus
	err = tx.QueryRow(ctx, `
		SELECT status
		FROM appointments
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, entry.AppointmentID, entry.OrganizationID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrAppointmentNotFound
		}
		return uuid.Nil, fmt.Errorf("lock appointment row: %w", err)
	}

	if current != entry.PreviousStatus {
		return uuid.Nil, fmt.Errorf("%w: persisted status is %s", ErrStatusChanged, current)
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
		    updated_at = now()
		WHERE id = $1 AND organization_id = $2
	`, entry.AppointmentID, entry.OrganizationID, entry.NewStatus)
	if err != nil {
		return uuid.Nil, fmt.Errorf("update appointment status: %w", err)
	}

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode audit metadata: %w", err)
	}

	auditID := uuid.New()
	err = tx.QueryRow(ctx, `
		INSERT INTO appointment_audit
			(id, appointment_id, organization_id, caller_id, caller_role,
			 previous_status, new_status, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING created_at
	`,
		auditID,
		entry.AppointmentID,
		entry.OrganizationID,
		entry.CallerID,
		entry.CallerRole,
		entry.PreviousStatus,
		entry.NewStatus,
		entry.Reason,
		metadata,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit transition tx: %w", err)
	}

	entry.ID = auditID
	return auditID, nil
}

func (s *PgStore) History(ctx context.Context, orgID, appointmentID uuid.UUID) ([]AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, appointment_id, organization_id, caller_id, caller_role,
		       previous_status, new_status, reason, metadata, created_at
		FROM appointment_audit
		WHERE appointment_id = $1 AND organization_id = $2
		ORDER BY created_at DESC, id DESC
	`, appointmentID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *PgStore) FindOverdueConfirmed(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, patient_id, doctor_id, status, scheduled_at, created_at, updated_at
		FROM appointments
		WHERE status = 'confirmed'
		  AND scheduled_at < $1
		ORDER BY scheduled_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
