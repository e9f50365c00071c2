package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogMessenger writes the message to the log instead of a real channel. It
// stands in for the email/WhatsApp/system collaborators in dev and seeds the
// wiring until the real gateways are plugged in.
type LogMessenger struct {
	channel Channel
	log     zerolog.Logger
}

func NewLogMessenger(channel Channel, logger zerolog.Logger) *LogMessenger {
	return &LogMessenger{channel: channel, log: logger}
}

func (m *LogMessenger) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	m.log.Info().
		Str("channel", string(m.channel)).
		Str("template", msg.Template).
		Str("recipient", msg.Recipient).
		Str("priority", string(msg.Priority)).
		Str("message_id", id).
		Msg("notification dispatched")

	return id, nil
}
