package appointment

import "fmt"

type AppointmentStatus string

const (
	StatusPending            AppointmentStatus = "pending"
	StatusPendingPayment     AppointmentStatus = "pending_payment"
	StatusConfirmed          AppointmentStatus = "confirmed"
	StatusInProgress         AppointmentStatus = "in_progress"
	StatusRescheduled        AppointmentStatus = "rescheduled"
	StatusCompleted          AppointmentStatus = "completed"
	StatusCancelledByPatient AppointmentStatus = "cancelled_by_patient"
	StatusCancelledByClinic  AppointmentStatus = "cancelled_by_clinic"
	StatusNoShow             AppointmentStatus = "no_show"
)

// AllStatuses lists every status in a stable order.
func AllStatuses() []AppointmentStatus {
	return []AppointmentStatus{
		StatusPending,
		StatusPendingPayment,
		StatusConfirmed,
		StatusInProgress,
		StatusRescheduled,
		StatusCompleted,
		StatusCancelledByPatient,
		StatusCancelledByClinic,
		StatusNoShow,
	}
}

func ParseStatus(s string) (AppointmentStatus, error) {
	st := AppointmentStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown appointment status %q", s)
	}
	return st, nil
}

func (s AppointmentStatus) Valid() bool {
	_, ok := transitionGraph[s]
	return ok
}

// Terminal reports whether no further transitions are allowed from s.
func (s AppointmentStatus) Terminal() bool {
	return s.Valid() && len(transitionGraph[s]) == 0
}

// transitionGraph is the single authoritative adjacency table for the
// appointment lifecycle. The table is total: every status has an entry, and
// terminal statuses map to an empty set.
var transitionGraph = map[AppointmentStatus][]AppointmentStatus{
	StatusPending: {
		StatusPendingPayment,
		StatusConfirmed,
		StatusCancelledByClinic,
	},
	StatusPendingPayment: {
		StatusConfirmed,
		StatusCancelledByClinic,
		StatusCancelledByPatient,
	},
	StatusConfirmed: {
		StatusInProgress,
		StatusCompleted,
		StatusRescheduled,
		StatusCancelledByPatient,
		StatusCancelledByClinic,
		StatusNoShow,
	},
	StatusInProgress: {
		StatusCompleted,
	},
	StatusRescheduled: {
		StatusConfirmed,
		StatusCancelledByPatient,
		StatusCancelledByClinic,
	},
	StatusCompleted:          {},
	StatusCancelledByPatient: {},
	StatusCancelledByClinic:  {},
	StatusNoShow:             {},
}

// AllowedTransitions returns the statuses reachable from the given status,
// ignoring caller identity.
func AllowedTransitions(from AppointmentStatus) []AppointmentStatus {
	targets := transitionGraph[from]
	out := make([]AppointmentStatus, len(targets))
	copy(out, targets)
	return out
}

// CanTransition reports whether the lifecycle graph contains the edge
// from -> to.
func CanTransition(from, to AppointmentStatus) bool {
	for _, t := range transitionGraph[from] {
		if t == to {
			return true
		}
	}
	return false
}

type Role string

const (
	RolePatient    Role = "patient"
	RoleStaff      Role = "staff"
	RoleDoctor     Role = "doctor"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	_, ok := rolePolicy[r]
	return ok
}

// rolePolicy maps each role to the set of statuses it may ever set,
// independent of the current status. Patients can request bookings and
// cancel their own appointments, staff handle the scheduling desk, and only
// clinical or administrative roles may advance an appointment through the
// visit itself.
var rolePolicy = map[Role]map[AppointmentStatus]bool{
	RolePatient: {
		StatusPending:            true,
		StatusPendingPayment:     true,
		StatusCancelledByPatient: true,
	},
	RoleStaff: {
		StatusPending:            true,
		StatusPendingPayment:     true,
		StatusConfirmed:          true,
		StatusRescheduled:        true,
		StatusCancelledByPatient: true,
		StatusCancelledByClinic:  true,
		StatusNoShow:             true,
	},
	RoleDoctor: {
		StatusPending:            true,
		StatusPendingPayment:     true,
		StatusConfirmed:          true,
		StatusInProgress:         true,
		StatusRescheduled:        true,
		StatusCompleted:          true,
		StatusCancelledByPatient: true,
		StatusCancelledByClinic:  true,
		StatusNoShow:             true,
	},
	RoleAdmin:      allStatusSet(),
	RoleSuperadmin: allStatusSet(),
}

func allStatusSet() map[AppointmentStatus]bool {
	set := make(map[AppointmentStatus]bool, len(transitionGraph))
	for _, s := range AllStatuses() {
		set[s] = true
	}
	return set
}

// RoleMaySet reports whether the role's allow-list contains the status.
func RoleMaySet(r Role, s AppointmentStatus) bool {
	return rolePolicy[r][s]
}

// AvailableTransitions returns the intersection of the lifecycle graph and
// the role allow-list: the statuses this role could actually request from
// the given status. Order follows the graph's adjacency list.
func AvailableTransitions(from AppointmentStatus, role Role) []AppointmentStatus {
	var out []AppointmentStatus
	for _, t := range transitionGraph[from] {
		if RoleMaySet(role, t) {
			out = append(out, t)
		}
	}
	return out
}
