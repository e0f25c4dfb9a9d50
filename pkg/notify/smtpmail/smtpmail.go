// Package smtpmail sends notifications synchronously over SMTP.
package smtpmail

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/notify"
)

// Config holds the SMTP relay settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      string // "opportunistic", "mandatory" or "none"
	Timeout  time.Duration
}

// Sender renders and sends each message in the calling goroutine
type Sender struct {
	renderer notify.Renderer
	log      *logger.Logger
	send     func(ctx context.Context, m *mail.Msg) error
}

// New creates an SMTP sender
func New(cfg Config, renderer notify.Renderer, log *logger.Logger) (*Sender, error) {
	if log == nil {
		log = logger.Global().WithComponent("smtpmail")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
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
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	return &Sender{
		renderer: renderer,
		log:      log,
		send: func(ctx context.Context, m *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, m)
		},
	}, nil
}

func tlsPolicy(name string) mail.TLSPolicy {
	switch name {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}

// Send renders msg and delivers it
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	body, err := s.renderer.Render(msg.TemplateID, msg.Context)
	if err != nil {
		return notify.TransportError(err)
	}

	m, err := Compose(msg, body)
	if err != nil {
		return notify.TransportError(err)
	}

	if err := s.send(ctx, m); err != nil {
		s.log.ErrorEvent(ctx, "smtp delivery failed", err)
		return notify.TransportError(err)
	}

	s.log.Info("notification sent", "subject", msg.Subject, "recipients", len(msg.To))
	return nil
}

// Compose builds the MIME message for msg with the rendered body
func Compose(msg notify.Message, body string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From.String()); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}

	to := make([]string, 0, len(msg.To))
	for _, a := range msg.To {
		to = append(to, a.String())
	}
	if err := m.To(to...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}

	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	for _, a := range msg.Attachments {
		ct := mail.ContentType(a.ContentType)
		if ct == "" {
			ct = mail.TypeTextPlain
		}
		m.AttachReadSeeker(a.Filename, bytes.NewReader(a.Content), mail.WithFileContentType(ct))
	}
	return m, nil
}
