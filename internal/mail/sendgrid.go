package mail

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-mailer/internal/resilience"
	"github.com/sells-group/lead-mailer/pkg/sendgrid"
)

// SendGrid delivers through the SendGrid v3 API.
type SendGrid struct {
	from   Sender
	client sendgrid.Client
}

// NewSendGrid creates a SendGrid transport.
func NewSendGrid(from Sender, client sendgrid.Client) *SendGrid {
	return &SendGrid{from: from, client: client}
}

// Deliver posts one HTML message. 429 and 5xx are transient; any other
// rejected request is permanent.
func (s *SendGrid) Deliver(ctx context.Context, msg Message) error {
	m := sendgrid.NewHTMLMessage(sendgrid.Address{Email: s.from.Email, Name: s.from.Name}, msg.To, msg.Subject, msg.HTML)
	if s.from.ReplyTo != "" {
		m.ReplyTo = &sendgrid.Address{Email: s.from.ReplyTo}
	}

	err := s.client.Send(ctx, m)
	if err == nil {
		return nil
	}

	var apiErr *sendgrid.APIError
	if errors.As(err, &apiErr) {
		wrapped := eris.Wrapf(err, "mail: sendgrid send to %s", msg.To)
		if apiErr.Retryable() {
			return resilience.NewTransientError(wrapped, apiErr.StatusCode)
		}
		return resilience.NewPermanentError(wrapped, apiErr.StatusCode)
	}
	return eris.Wrapf(err, "mail: sendgrid send to %s", msg.To)
}
