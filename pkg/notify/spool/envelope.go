// Package spool queues rendered notifications on a Watermill topic and
// delivers them from a background flusher.
//
// The request that hit the fault only pays for rendering and publishing;
// SMTP latency and retries happen in the Flusher. The bus is either an
// in-process gochannel or a Redis Stream shared by several instances.
package spool

import (
	"encoding/json"
	"io"
	"time"

	"gopkg.in/mail.v2"

	"github.com/armorclaw/crashreport/pkg/notify"
)

// Envelope is the spooled, already rendered message
type Envelope struct {
	From        notify.Address      `json:"from"`
	To          []notify.Address    `json:"to"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	Attachments []notify.Attachment `json:"attachments,omitempty"`
	QueuedAt    time.Time           `json:"queued_at"`
}

// Marshal encodes the envelope as JSON
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes a spooled payload
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

// Message builds the MIME message to hand to a mail.Dialer
func (e Envelope) Message() *mail.Message {
	m := mail.NewMessage()
	m.SetAddressHeader("From", e.From.Email, e.From.Name)

	to := make([]string, 0, len(e.To))
	for _, a := range e.To {
		to = append(to, m.FormatAddress(a.Email, a.Name))
	}
	m.SetHeader("To", to...)
	m.SetHeader("Subject", e.Subject)
	m.SetDateHeader("Date", e.QueuedAt)
	m.SetBody("text/plain", e.Body)

	for _, a := range e.Attachments {
		content := a.Content
		ct := a.ContentType
		if ct == "" {
			ct = "text/plain"
		}
		m.Attach(a.Filename,
			mail.SetHeader(map[string][]string{"Content-Type": {ct}}),
			mail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		)
	}
	return m
}
