package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinova/appointment-engine/internal/appointment"
)

// TransitionService is the slice of the engine the handlers need.
type TransitionService interface {
	RequestTransition(ctx context.Context, req appointment.TransitionRequest) (*appointment.TransitionResult, error)
	GetAvailableTransitions(ctx context.Context, orgID, appointmentID uuid.UUID, role appointment.Role) ([]appointment.AppointmentStatus, error)
	History(ctx context.Context, orgID, appointmentID uuid.UUID) ([]appointment.AuditEntry, error)
}

func transitionHandler(svc TransitionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathID(w, r)
		if !ok {
			return
		}

		var body TransitionRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		orgID, err := uuid.Parse(body.OrganizationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_organization_id", "organization_id must be a valid UUID")
			return
		}

		callerID, err := uuid.Parse(body.CallerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_caller_id", "caller_id must be a valid UUID")
			return
		}

		target, err := appointment.ParseStatus(body.TargetStatus)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_target_status", err.Error())
			return
		}

		role, err := appointment.ParseRole(body.CallerRole)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_caller_role", err.Error())
			return
		}

		result, err := svc.RequestTransition(r.Context(), appointment.TransitionRequest{
			AppointmentID:  appointmentID,
			OrganizationID: orgID,
			TargetStatus:   target,
			CallerID:       callerID,
			CallerRole:     role,
			Reason:         body.Reason,
			Metadata:       body.Metadata,
		})
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, TransitionResponse{
			Success:           true,
			PreviousStatus:    string(result.PreviousStatus),
			NewStatus:         string(result.NewStatus),
			AuditEntryID:      result.AuditEntryID,
			NotificationsSent: result.Notifications,
		})
	}
}

func availableTransitionsHandler(svc TransitionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathID(w, r)
		if !ok {
			return
		}

		orgID, err := uuid.Parse(r.URL.Query().Get("organization_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_organization_id", "organization_id must be a valid UUID")
			return
		}

		role, err := appointment.ParseRole(r.URL.Query().Get("role"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_role", err.Error())
			return
		}

		allowed, err := svc.GetAvailableTransitions(r.Context(), orgID, appointmentID, role)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		resp := AvailableTransitionsResponse{
			AppointmentID: appointmentID,
			Role:          string(role),
			Allowed:       make([]string, 0, len(allowed)),
		}
		for _, s := range allowed {
			resp.Allowed = append(resp.Allowed, string(s))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func historyHandler(svc TransitionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathID(w, r)
		if !ok {
			return
		}

		orgID, err := uuid.Parse(r.URL.Query().Get("organization_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_organization_id", "organization_id must be a valid UUID")
			return
		}

		entries, err := svc.History(r.Context(), orgID, appointmentID)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		resp := HistoryResponse{
			AppointmentID: appointmentID,
			Entries:       make([]AuditEntryResponse, 0, len(entries)),
		}
		for _, e := range entries {
			resp.Entries = append(resp.Entries, AuditEntryResponse{
				ID:             e.ID,
				CallerID:       e.CallerID,
				CallerRole:     string(e.CallerRole),
				PreviousStatus: string(e.PreviousStatus),
				NewStatus:      string(e.NewStatus),
				Reason:         e.Reason,
				Metadata:       e.Metadata,
				CreatedAt:      e.CreatedAt,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// handleTransitionError keeps validation failures, conflicts, and storage
// failures distinguishable for the caller: only 5xx responses are worth a
// blind retry.
func handleTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "transition_forbidden", err.Error())
	case errors.Is(err, appointment.ErrRuleViolation):
		writeError(w, http.StatusUnprocessableEntity, "rule_violation", err.Error())
	case errors.Is(err, appointment.ErrTransitionInFlight):
		writeError(w, http.StatusConflict, "transition_in_flight", "another transition for this appointment is in flight, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "storage_failure", err.Error())
	}
}
