package spool

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/notify"
)

// Sender renders messages and publishes them to the spool topic
type Sender struct {
	pub      message.Publisher
	topic    string
	renderer notify.Renderer
	log      *logger.Logger
	now      func() time.Time
}

// NewSender creates a spooling sender
func NewSender(pub message.Publisher, topic string, renderer notify.Renderer, log *logger.Logger) *Sender {
	if log == nil {
		log = logger.Global().WithComponent("spool")
	}
	return &Sender{pub: pub, topic: topic, renderer: renderer, log: log, now: time.Now}
}

// Send renders msg and publishes it. A nil return means the message was
// spooled, not that it reached the recipients.
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	body, err := s.renderer.Render(msg.TemplateID, msg.Context)
	if err != nil {
		return notify.TransportError(err)
	}

	payload, err := Envelope{
		From:        msg.From,
		To:          msg.To,
		Subject:     msg.Subject,
		Body:        body,
		Attachments: msg.Attachments,
		QueuedAt:    s.now().UTC(),
	}.Marshal()
	if err != nil {
		return notify.TransportError(err)
	}

	wm := message.NewMessage(uuid.NewString(), payload)
	wm.SetContext(ctx)
	if err := s.pub.Publish(s.topic, wm); err != nil {
		s.log.ErrorEvent(ctx, "failed to spool notification", err)
		return notify.TransportError(err)
	}

	s.log.Debug("notification spooled", "message_uuid", wm.UUID, "subject", msg.Subject)
	return nil
}
