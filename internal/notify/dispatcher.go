// Package notify turns committed status transitions into best-effort
// notifications. The messaging channels themselves (SMTP relay, WhatsApp
// gateway, in-app inbox) are external collaborators behind the Messenger
// interface; this package owns only the routing table and the send attempt.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/clinova/appointment-engine/internal/appointment"
	"github.com/clinova/appointment-engine/internal/metrics"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSystem   Channel = "system"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Message is one outbound notification handed to a Messenger.
type Message struct {
	Channel   Channel
	Template  string
	Recipient string
	Priority  Priority
	Subject   string
	Body      string
}

// Messenger sends one message on one channel and returns the provider's
// message id. Implementations must respect ctx deadlines.
type Messenger interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type audience int

const (
	toPatient audience = iota
	toDoctor
	toClinic
)

type route struct {
	channel  Channel
	template string
	priority Priority
	to       audience
}

// routes maps a committed target status to the notifications it triggers.
// Statuses absent from the table trigger nothing and yield a skipped tag.
var routes = map[appointment.AppointmentStatus][]route{
	appointment.StatusConfirmed: {
		{channel: ChannelEmail, template: "appointment_confirmed", priority: PriorityNormal, to: toPatient},
		{channel: ChannelWhatsApp, template: "confirmed", priority: PriorityNormal, to: toPatient},
	},
	appointment.StatusCancelledByClinic: {
		{channel: ChannelEmail, template: "appointment_cancelled_by_clinic", priority: PriorityHigh, to: toPatient},
	},
	appointment.StatusCancelledByPatient: {
		{channel: ChannelSystem, template: "appointment_cancelled_by_patient", priority: PriorityNormal, to: toClinic},
	},
	appointment.StatusInProgress: {
		{channel: ChannelSystem, template: "appointment_in_progress", priority: PriorityLow, to: toClinic},
	},
	appointment.StatusCompleted: {
		{channel: ChannelEmail, template: "appointment_completed", priority: PriorityNormal, to: toPatient},
	},
	appointment.StatusRescheduled: {
		{channel: ChannelEmail, template: "appointment_rescheduled", priority: PriorityNormal, to: toPatient},
	},
	appointment.StatusNoShow: {
		{channel: ChannelSystem, template: "appointment_no_show", priority: PriorityNormal, to: toClinic},
	},
}

// Dispatcher fans a status change out to the configured messengers. Each
// send is independent and bounded; a failing channel is reported in the
// outcome tags and never blocks the others.
type Dispatcher struct {
	messengers  map[Channel]Messenger
	breakers    map[Channel]*gobreaker.CircuitBreaker[string]
	sendTimeout time.Duration
	log         zerolog.Logger
}

func NewDispatcher(messengers map[Channel]Messenger, sendTimeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 2 * time.Second
	}

	breakers := make(map[Channel]*gobreaker.CircuitBreaker[string], len(messengers))
	for ch := range messengers {
		breakers[ch] = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:    string(ch),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	return &Dispatcher{
		messengers:  messengers,
		breakers:    breakers,
		sendTimeout: sendTimeout,
		log:         logger,
	}
}

// Dispatch sends every notification the new status triggers and returns one
// tag per attempt: "<channel>:<template>" on success,
// "<channel>:<template>:failed" otherwise. A status with no routing rule
// yields a single "skipped:<status>" tag.
func (d *Dispatcher) Dispatch(ctx context.Context, change appointment.StatusChange) []string {
	rules := routes[change.New]
	if len(rules) == 0 {
		return []string{"skipped:" + string(change.New)}
	}

	outcomes := make([]string, 0, len(rules))
	for _, rule := range rules {
		tag := string(rule.channel) + ":" + rule.template
		if err := d.send(ctx, rule, change); err != nil {
			metrics.NotificationOutcomes.WithLabelValues(string(rule.channel), "failed").Inc()
			d.log.Warn().
				Err(err).
				Str("appointment_id", change.AppointmentID.String()).
				Str("channel", string(rule.channel)).
				Str("template", rule.template).
				Msg("notification send failed")
			outcomes = append(outcomes, tag+":failed")
			continue
		}
		metrics.NotificationOutcomes.WithLabelValues(string(rule.channel), "sent").Inc()
		outcomes = append(outcomes, tag)
	}

	return outcomes
}

func (d *Dispatcher) send(ctx context.Context, rule route, change appointment.StatusChange) error {
	m, ok := d.messengers[rule.channel]
	if !ok {
		return errNoMessenger{channel: rule.channel}
	}

	msg := Message{
		Channel:   rule.channel,
		Template:  rule.template,
		Recipient: recipientFor(rule.to, change),
		Priority:  rule.priority,
	}
	msg.Subject, msg.Body = render(rule.template, change)

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	_, err := d.breakers[rule.channel].Execute(func() (string, error) {
		return m.Send(sendCtx, msg)
	})
	return err
}

func recipientFor(to audience, change appointment.StatusChange) string {
	switch to {
	case toDoctor:
		return change.DoctorID.String()
	case toClinic:
		return change.OrganizationID.String()
	default:
		return change.PatientID.String()
	}
}

type errNoMessenger struct {
	channel Channel
}

func (e errNoMessenger) Error() string {
	return "no messenger configured for channel " + string(e.channel)
}
