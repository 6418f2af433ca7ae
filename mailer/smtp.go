// Package mailer provides outbound delivery implementations of the
// pipeline's Mailer collaborator.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/EkilDavi/authchain"
)

// SMTPConfig configures an [SMTP] mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string

	// TLSMode is one of "auto" (STARTTLS when offered, the default),
	// "ssl" (implicit TLS), or "none".
	TLSMode            string
	InsecureSkipVerify bool
}

// SMTP delivers mail through an SMTP relay using go-mail. Each Send dials
// a fresh connection; sign-in code volume rarely justifies pooling.
type SMTP struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	return &SMTP{cfg: cfg}, nil
}

// Send delivers a plain-text message to the principal's email address. The
// context deadline is not honored mid-dial; go-mail's dialer has its own
// timeout.
func (s *SMTP) Send(ctx context.Context, to *authchain.Principal, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == nil || to.Email == "" {
		return fmt.Errorf("principal has no email address")
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}

	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.cfg.InsecureSkipVerify}
	default:
		// "auto": go-mail negotiates STARTTLS when the server offers it.
	}

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
