package mail

import (
	"context"
	"errors"
	"net/textproto"

	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/lead-mailer/internal/config"
	"github.com/sells-group/lead-mailer/internal/resilience"
)

// dialer is satisfied by *gomail.Dialer.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTP delivers through an SMTP relay using gomail.
type SMTP struct {
	from   Sender
	dialer dialer
}

// NewSMTP creates an SMTP transport for the given relay.
func NewSMTP(from Sender, cfg config.SMTPConfig) *SMTP {
	return &SMTP{
		from:   from,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Deliver sends one HTML message. SMTP 5xx replies are permanent.
func (s *SMTP) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from.Email, s.from.Name)
	m.SetHeader("To", msg.To)
	if s.from.ReplyTo != "" {
		m.SetHeader("Reply-To", s.from.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return classifySMTP(eris.Wrapf(err, "mail: smtp send to %s", msg.To))
	}
	return nil
}

func classifySMTP(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return resilience.NewPermanentError(err, tpErr.Code)
		}
		return resilience.NewTransientError(err, tpErr.Code)
	}
	return err
}
