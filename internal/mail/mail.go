// Package mail delivers rendered campaign emails through SMTP, SendGrid, or
// a development log transport.
package mail

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-mailer/internal/config"
	"github.com/sells-group/lead-mailer/pkg/sendgrid"
)

// Message is one rendered email addressed to a single recipient.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Transport delivers a message. Errors wrapped as resilience.PermanentError
// are not retried by the dispatcher; everything else is.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// Sender identifies the From and Reply-To headers.
type Sender struct {
	Email   string
	Name    string
	ReplyTo string
}

// NewTransport builds the transport selected by cfg.Transport.
func NewTransport(cfg config.MailConfig) (Transport, error) {
	from := Sender{Email: cfg.FromEmail, Name: cfg.FromName, ReplyTo: cfg.ReplyTo}

	switch cfg.Transport {
	case "smtp":
		return NewSMTP(from, cfg.SMTP), nil
	case "sendgrid":
		client := sendgrid.NewClient(cfg.SendGrid.APIKey, sendgrid.WithBaseURL(cfg.SendGrid.BaseURL))
		return NewSendGrid(from, client), nil
	case "log", "":
		return LogTransport{}, nil
	default:
		return nil, eris.Errorf("mail: unsupported transport %q", cfg.Transport)
	}
}

// LogTransport logs messages instead of sending them.
type LogTransport struct{}

// Deliver logs the recipient and subject.
func (LogTransport) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	zap.L().Info("mail: log transport delivery",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
	)
	return nil
}
