package mailer

import (
	"context"
	"errors"
	"net"
	"net/textproto"

	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// SMTPProvider is the limiter and breaker key of the SMTP transport.
const SMTPProvider = "smtp"

// SMTPConfig holds SMTP server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTP sends mail with gomail.
type SMTP struct {
	cfg  SMTPConfig
	send func(m ...*gomail.Message) error
}

// NewSMTP creates an SMTP transport.
func NewSMTP(cfg SMTPConfig) *SMTP {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTP{cfg: cfg, send: d.DialAndSend}
}

// Provider implements Transport.
func (s *SMTP) Provider() string { return SMTPProvider }

// Send implements Transport. The Message-ID is derived from the
// idempotency key and returned as the message id.
func (s *SMTP) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := MessageID(msg.IdempotencyKey, s.cfg.From)

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.From, s.cfg.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", id)
	m.SetHeader("X-Idempotency-Key", msg.IdempotencyKey)
	if msg.InReplyTo != "" {
		m.SetHeader("In-Reply-To", msg.InReplyTo)
		m.SetHeader("References", msg.InReplyTo)
	}
	m.SetBody("text/plain", msg.Body)

	if err := s.send(m); err != nil {
		return "", classifySMTP(err)
	}
	return id, nil
}

// classifySMTP maps SMTP replies onto the provider taxonomy: 4xx replies
// and network errors are transient, 5xx replies are permanent.
func classifySMTP(err error) error {
	wrapped := eris.Wrap(err, "smtp: send")
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		pe := resilience.Permanent(SMTPProvider, wrapped)
		if tpErr.Code >= 400 && tpErr.Code < 500 {
			pe.Kind = resilience.KindTransient
		}
		return pe
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.Transient(SMTPProvider, wrapped)
	}
	if resilience.IsTransient(err) {
		return resilience.Transient(SMTPProvider, wrapped)
	}
	return resilience.Permanent(SMTPProvider, wrapped)
}
