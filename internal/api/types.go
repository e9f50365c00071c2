package api

import (
	"time"

	"github.com/google/uuid"
)

type TransitionRequestBody struct {
	TargetStatus   string            `json:"target_status"`
	CallerID       string            `json:"caller_id"`
	CallerRole     string            `json:"caller_role"`
	OrganizationID string            `json:"organization_id"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type TransitionResponse struct {
	Success           bool      `json:"success"`
	PreviousStatus    string    `json:"previous_status"`
	NewStatus         string    `json:"new_status"`
	AuditEntryID      uuid.UUID `json:"audit_entry_id"`
	NotificationsSent []string  `json:"notifications_sent"`
}

type AvailableTransitionsResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Role          string    `json:"role"`
	Allowed       []string  `json:"allowed_transitions"`
}

type AuditEntryResponse struct {
	ID             uuid.UUID         `json:"id"`
	CallerID       uuid.UUID         `json:"caller_id"`
	CallerRole     string            `json:"caller_role"`
	PreviousStatus string            `json:"previous_status"`
	NewStatus      string            `json:"new_status"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type HistoryResponse struct {
	AppointmentID uuid.UUID            `json:"appointment_id"`
	Entries       []AuditEntryResponse `json:"entries"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
