package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinova/appointment-engine/internal/metrics"
	redisclient "github.com/clinova/appointment-engine/internal/redis"
)

var (
	// ErrForbidden covers both flavours of a disallowed transition: the
	// lifecycle graph has no such edge, or the caller's role may never set
	// the target status. The wrapped reason says which.
	ErrForbidden = errors.New("transition forbidden")

	// ErrRuleViolation carries the failing business rule's reason.
	ErrRuleViolation = errors.New("business rule violation")

	// ErrTransitionInFlight is returned when another caller holds the
	// per-appointment lock or keeps winning the commit race. Safe to retry.
	ErrTransitionInFlight = errors.New("another transition for this appointment is in flight")
)

// Notifier is the side channel invoked after a committed transition.
// Outcomes are tags, never errors.
type Notifier interface {
	Dispatch(ctx context.Context, change StatusChange) []string
}

// Engine decides and commits appointment status transitions. It is the only
// writer of the status column and the audit table. Construct once at startup
// and share between handlers.
type Engine struct {
	store         Store
	locker        redisclient.Locker
	rules         *RuleValidator
	notifier      Notifier
	log           zerolog.Logger
	notifyTimeout time.Duration
	now           func() time.Time
}

type EngineConfig struct {
	CancelWindow  time.Duration // patient self-cancellation window
	NotifyTimeout time.Duration // budget for post-commit notification dispatch
}

func NewEngine(store Store, locker redisclient.Locker, notifier Notifier, logger zerolog.Logger, cfg EngineConfig) *Engine {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	return &Engine{
		store:         store,
		locker:        locker,
		rules:         NewRuleValidator(cfg.CancelWindow),
		notifier:      notifier,
		log:           logger,
		notifyTimeout: cfg.NotifyTimeout,
		now:           time.Now,
	}
}

// RequestTransition validates and commits one status transition. Validation
// failures are returned before anything is persisted; a committed transition
// always carries exactly one new audit entry. Notification failures never
// fail the transition.
func (e *Engine) RequestTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if !req.TargetStatus.Valid() {
		metrics.TransitionRejections.WithLabelValues("forbidden").Inc()
		return nil, fmt.Errorf("%w: unknown target status %q", ErrForbidden, string(req.TargetStatus))
	}
	if !req.CallerRole.Valid() {
		metrics.TransitionRejections.WithLabelValues("forbidden").Inc()
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, string(req.CallerRole))
	}

	appt, err := e.store.GetCore(ctx, req.OrganizationID, req.AppointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			metrics.TransitionRejections.WithLabelValues("not_found").Inc()
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := e.authorize(appt.Status, req.TargetStatus, req.CallerRole); err != nil {
		metrics.TransitionRejections.WithLabelValues("forbidden").Inc()
		return nil, err
	}
	if err := e.rules.Validate(appt, req.TargetStatus, req.CallerRole, e.now()); err != nil {
		metrics.TransitionRejections.WithLabelValues("rule_violation").Inc()
		return nil, err
	}

	var result *TransitionResult
	err = e.locker.WithAppointmentLock(ctx, req.AppointmentID, func(lockCtx context.Context) error {
		res, err := e.commit(lockCtx, appt, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, ErrStatusChanged) {
			metrics.TransitionRejections.WithLabelValues("conflict").Inc()
			return nil, fmt.Errorf("%w: %v", ErrTransitionInFlight, err)
		}
		return nil, err
	}

	metrics.TransitionsCommitted.WithLabelValues(string(result.NewStatus)).Inc()
	e.log.Info().
		Str("appointment_id", req.AppointmentID.String()).
		Str("previous_status", string(result.PreviousStatus)).
		Str("new_status", string(result.NewStatus)).
		Str("caller_role", string(req.CallerRole)).
		Str("audit_entry_id", result.AuditEntryID.String()).
		Msg("transition committed")

	// Dispatch on a context detached from the request so caller cancellation
	// after commit cannot reach the already-durable transition.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()
	result.Notifications = e.notifier.Dispatch(nctx, StatusChange{
		AppointmentID:  appt.ID,
		OrganizationID: appt.OrganizationID,
		PatientID:      appt.PatientID,
		DoctorID:       appt.DoctorID,
		Previous:       result.PreviousStatus,
		New:            result.NewStatus,
		ScheduledAt:    appt.ScheduledAt,
	})

	return result, nil
}

// authorize checks the lifecycle graph and the role allow-list; the reason
// distinguishes which of the two blocked the request.
func (e *Engine) authorize(current, target AppointmentStatus, role Role) error {
	if current.Terminal() {
		return fmt.Errorf("%w: cannot change status from final state", ErrForbidden)
	}
	if !CanTransition(current, target) {
		return fmt.Errorf("%w: status %s cannot flow to %s", ErrForbidden, current, target)
	}
	if !RoleMaySet(role, target) {
		return fmt.Errorf("%w: role %s may never set status %s", ErrForbidden, role, target)
	}
	return nil
}

// commit writes the status change and audit entry as one durable unit. If
// another transition landed between validation and commit, the persisted
// status is reloaded and the whole validation re-runs once against it.
func (e *Engine) commit(ctx context.Context, appt *Appointment, req TransitionRequest) (*TransitionResult, error) {
	for attempt := 0; ; attempt++ {
		entry := &AuditEntry{
			AppointmentID:  appt.ID,
			OrganizationID: appt.OrganizationID,
			CallerID:       req.CallerID,
			CallerRole:     req.CallerRole,
			PreviousStatus: appt.Status,
			NewStatus:      req.TargetStatus,
			Reason:         req.Reason,
			Metadata:       req.Metadata,
		}

		start := time.Now()
		auditID, err := e.store.CommitTransition(ctx, entry)
		metrics.CommitDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			return &TransitionResult{
				PreviousStatus: entry.PreviousStatus,
				NewStatus:      entry.NewStatus,
				AuditEntryID:   auditID,
			}, nil
		}
		if !errors.Is(err, ErrStatusChanged) || attempt >= 1 {
			return nil, err
		}

		appt, err = e.store.GetCore(ctx, req.OrganizationID, req.AppointmentID)
		if err != nil {
			return nil, fmt.Errorf("reload appointment after commit race: %w", err)
		}
		if err := e.authorize(appt.Status, req.TargetStatus, req.CallerRole); err != nil {
			metrics.TransitionRejections.WithLabelValues("forbidden").Inc()
			return nil, err
		}
		if err := e.rules.Validate(appt, req.TargetStatus, req.CallerRole, e.now()); err != nil {
			metrics.TransitionRejections.WithLabelValues("rule_violation").Inc()
			return nil, err
		}
	}
}

// GetAvailableTransitions returns the statuses the role could request for
// the appointment right now, without executing anything. UIs use this to
// decide which actions to offer.
func (e *Engine) GetAvailableTransitions(ctx context.Context, orgID, appointmentID uuid.UUID, role Role) ([]AppointmentStatus, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, string(role))
	}
	appt, err := e.store.GetCore(ctx, orgID, appointmentID)
	if err != nil {
		return nil, err
	}
	return AvailableTransitions(appt.Status, role), nil
}

// History returns the appointment's audit trail, newest first.
func (e *Engine) History(ctx context.Context, orgID, appointmentID uuid.UUID) ([]AuditEntry, error) {
	return e.store.History(ctx, orgID, appointmentID)
}
