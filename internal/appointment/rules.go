package appointment

import (
	"fmt"
	"time"
)

// DefaultCancelWindow is how close to the scheduled start a patient may still
// cancel their own appointment.
const DefaultCancelWindow = 2 * time.Hour

const (
	reasonFutureProgress = "cannot mark a future appointment as in-progress or completed"
	reasonClinicalOnly   = "only clinical or administrative roles may advance an appointment to in-progress or completed"
)

// RuleValidator holds the temporal business rules that cannot be expressed
// in the static transition graph or role tables.
type RuleValidator struct {
	cancelWindow time.Duration
}

func NewRuleValidator(cancelWindow time.Duration) *RuleValidator {
	if cancelWindow <= 0 {
		cancelWindow = DefaultCancelWindow
	}
	return &RuleValidator{cancelWindow: cancelWindow}
}

// Validate runs the business rules in order; the first failure wins and is
// returned as an ErrRuleViolation with the rule's reason. It is strictly
// read-only.
func (v *RuleValidator) Validate(appt *Appointment, target AppointmentStatus, role Role, now time.Time) error {
	progressing := target == StatusInProgress || target == StatusCompleted

	if progressing && appt.ScheduledAt.After(now) {
		return fmt.Errorf("%w: %s", ErrRuleViolation, reasonFutureProgress)
	}

	if progressing && role != RoleDoctor && role != RoleAdmin && role != RoleSuperadmin {
		return fmt.Errorf("%w: %s", ErrRuleViolation, reasonClinicalOnly)
	}

	if target == StatusCancelledByPatient && role == RolePatient {
		if appt.ScheduledAt.Sub(now) < v.cancelWindow {
			return fmt.Errorf("%w: cannot cancel within %s of the appointment",
				ErrRuleViolation, formatWindow(v.cancelWindow))
		}
	}

	return nil
}

func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
