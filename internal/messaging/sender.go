// Package messaging defines the outbound transport boundary. The core only
// decides that and when a message goes out; constructing provider payloads,
// retrying, and backoff are the transport's concern.
package messaging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sender delivers one rendered message to one phone number and reports the
// provider's message id, or an error. Implementations must respect ctx.
type Sender interface {
	Send(ctx context.Context, phone, content string) (providerMsgID string, err error)
}

// LogSender is a development transport: it logs the message and fabricates a
// provider id. Phone numbers are masked in the log line.
type LogSender struct {
	Log zerolog.Logger
}

// Send logs the outbound message and returns a generated id.
func (s LogSender) Send(_ context.Context, phone, content string) (string, error) {
	id := "log-" + uuid.NewString()
	s.Log.Info().
		Str("phone", MaskPhone(phone)).
		Str("provider_msg_id", id).
		Int("content_len", len(content)).
		Msg("outbound message")
	return id, nil
}

// MaskPhone hides all but the last four characters of a phone number for
// logging.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
