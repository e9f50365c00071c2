package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrStatusChanged means the appointment's persisted status no longer
	// matches the status the transition was validated against. The engine
	// re-validates once before surfacing it.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

// Store is the durable collaborator behind the engine. The status column and
// the audit table are mutated only through CommitTransition; reads are
// unrestricted.
type Store interface {
	// GetCore loads the appointment projection the engine validates against.
	GetCore(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error)

	// CommitTransition persists the status update and the audit entry as one
	// transaction. The status update is conditional on entry.PreviousStatus
	// still being the persisted status; a mismatch returns ErrStatusChanged
	// and nothing is written. Returns the audit entry id.
	CommitTransition(ctx context.Context, entry *AuditEntry) (uuid.UUID, error)

	// History returns the audit trail for one appointment, newest first.
	History(ctx context.Context, orgID, appointmentID uuid.UUID) ([]AuditEntry, error)

	// FindOverdueConfirmed lists confirmed appointments whose scheduled time
	// is before the cutoff, across all tenants. Used by the no-show sweeper.
	FindOverdueConfirmed(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)
}
