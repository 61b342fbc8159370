// Package mail sends transactional email such as class invitations.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// ErrNoRecipients is returned when a message has no To address.
var ErrNoRecipients = errors.New("message has no recipients")

// Message is a single outgoing email.
type Message struct {
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Config configures SMTP delivery.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	SSL      bool
}

// dialer is the subset of *gomail.Dialer the SMTP mailer needs.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	from   string
	dialer dialer
	logger *observability.Logger
}

// NewSMTPMailer creates an SMTP mailer. Port 465 or SSL=true uses implicit
// TLS; other ports negotiate STARTTLS when the server offers it.
func NewSMTPMailer(cfg Config, logger *observability.Logger) *SMTPMailer {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	d := gomail.NewDialer(cfg.Host, port, cfg.User, cfg.Password)
	if cfg.SSL {
		d.SSL = true
	}
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &SMTPMailer{from: from, dialer: d, logger: logger}
}

// Send delivers msg. The context is only checked before dialing because
// gomail does not accept one.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.dialer.DialAndSend(m.compose(msg)); err != nil {
		m.logger.WithError(err).WithField("subject", msg.Subject).Error("failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}
	m.logger.WithFields(map[string]interface{}{
		"subject":    msg.Subject,
		"recipients": len(msg.To),
	}).Info("email sent")
	return nil
}

func (m *SMTPMailer) compose(msg Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To...)
	gm.SetHeader("Subject", msg.Subject)
	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		gm.SetBody("text/plain", msg.TextBody)
		gm.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		gm.SetBody("text/html", msg.HTMLBody)
	default:
		gm.SetBody("text/plain", msg.TextBody)
	}
	return gm
}

// LogMailer writes messages to the log instead of sending them. It is used
// when no SMTP host is configured.
type LogMailer struct {
	logger *observability.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	m.logger.WithFields(map[string]interface{}{
		"to":      strings.Join(msg.To, ","),
		"subject": msg.Subject,
	}).Info("smtp not configured, email not sent")
	return nil
}

// New returns an SMTP mailer when cfg has a host and a LogMailer otherwise.
func New(cfg Config, logger *observability.Logger) Mailer {
	if cfg.Host == "" {
		return NewLogMailer(logger)
	}
	return NewSMTPMailer(cfg, logger)
}
