package notify

import (
	"strings"
	"time"

	"github.com/clinova/appointment-engine/internal/appointment"
)

type template struct {
	subject string
	body    string
}

var templates = map[string]template{
	"appointment_confirmed": {
		subject: "Your appointment is confirmed",
		body:    "Your appointment on {{scheduled_at}} has been confirmed. Please arrive 10 minutes early.",
	},
	"confirmed": {
		body: "Appointment confirmed for {{scheduled_at}}.",
	},
	"appointment_cancelled_by_clinic": {
		subject: "Your appointment was cancelled by the clinic",
		body:    "We are sorry: your appointment on {{scheduled_at}} was cancelled by the clinic. Please contact us to rebook.",
	},
	"appointment_cancelled_by_patient": {
		subject: "Patient cancelled an appointment",
		body:    "The patient cancelled appointment {{appointment_id}} scheduled for {{scheduled_at}}.",
	},
	"appointment_in_progress": {
		subject: "Appointment started",
		body:    "Appointment {{appointment_id}} is now in progress.",
	},
	"appointment_completed": {
		subject: "Thank you for your visit",
		body:    "Your appointment on {{scheduled_at}} is complete. A visit summary will be available shortly.",
	},
	"appointment_rescheduled": {
		subject: "Your appointment was rescheduled",
		body:    "Your appointment has been rescheduled. New time: {{scheduled_at}}.",
	},
	"appointment_no_show": {
		subject: "Missed appointment",
		body:    "The patient did not show up for appointment {{appointment_id}} scheduled for {{scheduled_at}}.",
	},
}

// render fills a template's {{placeholders}} from the status change. Unknown
// template ids render empty, which still produces a send attempt so the
// misconfiguration is visible in the outcomes.
func render(id string, change appointment.StatusChange) (subject, body string) {
	t := templates[id]
	repl := strings.NewReplacer(
		"{{appointment_id}}", change.AppointmentID.String(),
		"{{scheduled_at}}", change.ScheduledAt.Format(time.RFC1123),
		"{{previous_status}}", string(change.Previous),
		"{{new_status}}", string(change.New),
	)
	return repl.Replace(t.subject), repl.Replace(t.body)
}
