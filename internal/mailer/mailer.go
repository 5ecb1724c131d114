// Package mailer delivers one-time codes by email.
package mailer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/dmitrijs2005/formbot/internal/logging"
)

const Subject = "Your formbot verification code"

// Sender is the code-delivery service. A non-nil error means the code did
// not leave; callers abort the dialogue step.
type Sender interface {
	SendCode(ctx context.Context, to, code string) error
}

// Body renders the message text for code.
func Body(code string, ttl time.Duration) string {
	mins := int(math.Ceil(ttl.Minutes()))
	unit := "minutes"
	if mins == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Your code is: %s. It is valid for %d %s.", code, mins, unit)
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type SMTPMailer struct {
	from   string
	ttl    time.Duration
	client dialer
}

// NewSMTPMailer builds a mailer for cfg. Port 465 uses implicit TLS, any
// other port STARTTLS.
func NewSMTPMailer(cfg SMTPConfig, ttl time.Duration) (*SMTPMailer, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPMailer{from: from, ttl: ttl, client: client}, nil
}

// Compose builds the message carrying code to the given address.
func (m *SMTPMailer) Compose(to, code string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(Subject)
	msg.SetBodyString(mail.TypeTextPlain, Body(code, m.ttl))
	return msg, nil
}

func (m *SMTPMailer) SendCode(ctx context.Context, to, code string) error {
	msg, err := m.Compose(to, code)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	return nil
}

// LogMailer writes codes to the log instead of sending them. It is meant
// for local runs without SMTP credentials.
type LogMailer struct {
	log logging.Logger
	ttl time.Duration
}

func NewLogMailer(log logging.Logger, ttl time.Duration) *LogMailer {
	return &LogMailer{log: log, ttl: ttl}
}

func (m *LogMailer) SendCode(ctx context.Context, to, code string) error {
	m.log.Warn(ctx, "code not emailed, SMTP is not configured", "to", to, "body", Body(code, m.ttl))
	return nil
}
