package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is the projection of an appointment the engine needs to decide
// a transition: identity, tenant, the two parties, the current status, and
// when the visit is scheduled. Wider appointment data (notes, billing, forms)
// lives outside this service.
type Appointment struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	Status         AppointmentStatus
	ScheduledAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransitionRequest is built per call and discarded once the call returns.
type TransitionRequest struct {
	AppointmentID  uuid.UUID
	OrganizationID uuid.UUID
	TargetStatus   AppointmentStatus
	CallerID       uuid.UUID
	CallerRole     Role
	Reason         string
	Metadata       map[string]string
}

// TransitionResult reports a committed transition back to the caller.
type TransitionResult struct {
	PreviousStatus AppointmentStatus
	NewStatus      AppointmentStatus
	AuditEntryID   uuid.UUID
	Notifications  []string
}

// AuditEntry is the immutable record of one committed transition. Entries are
// only ever appended, never rewritten.
type AuditEntry struct {
	ID             uuid.UUID
	AppointmentID  uuid.UUID
	OrganizationID uuid.UUID
	CallerID       uuid.UUID
	CallerRole     Role
	PreviousStatus AppointmentStatus
	NewStatus      AppointmentStatus
	Reason         string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// StatusChange describes a committed transition to the notification side
// channel.
type StatusChange struct {
	AppointmentID  uuid.UUID
	OrganizationID uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	Previous       AppointmentStatus
	New            AppointmentStatus
	ScheduledAt    time.Time
}
