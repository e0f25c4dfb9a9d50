package spool

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"golang.org/x/time/rate"
	"gopkg.in/mail.v2"

	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/metrics"
)

// Deliverer hands finished messages to a mail server. *mail.Dialer
// implements it.
type Deliverer interface {
	DialAndSend(m ...*mail.Message) error
}

// DialerConfig configures NewDialer
type DialerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      string // "opportunistic", "mandatory" or "none"
	Timeout  time.Duration
}

// NewDialer creates a mail.Dialer from relay settings
func NewDialer(cfg DialerConfig) *mail.Dialer {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	switch cfg.TLS {
	case "mandatory":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		d.StartTLSPolicy = mail.OpportunisticStartTLS
	}
	return d
}

// FlusherConfig configures a Flusher
type FlusherConfig struct {
	Topic         string
	RatePerSecond float64 // 0 disables throttling
	Burst         int
	MaxRetries    int
	RetryInterval time.Duration
}

// Flusher consumes the spool topic and delivers each envelope
type Flusher struct {
	sub       message.Subscriber
	deliverer Deliverer
	cfg       FlusherConfig
	limiter   *rate.Limiter
	log       *logger.Logger
}

// NewFlusher creates a flusher
func NewFlusher(sub message.Subscriber, deliverer Deliverer, cfg FlusherConfig, log *logger.Logger) *Flusher {
	if log == nil {
		log = logger.Global().WithComponent("spool")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Flusher{
		sub:       sub,
		deliverer: deliverer,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, burst),
		log:       log,
	}
}

// Run consumes until ctx is cancelled
func (f *Flusher) Run(ctx context.Context) error {
	wlog := watermill.NewSlogLogger(f.log.Logger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, wlog)
	if err != nil {
		return fmt.Errorf("failed to create spool router: %w", err)
	}

	router.AddMiddleware(
		f.dropExhausted,
		middleware.Retry{
			MaxRetries:      f.cfg.MaxRetries,
			InitialInterval: f.cfg.RetryInterval,
			Multiplier:      2,
			MaxInterval:     time.Minute,
			Logger:          wlog,
		}.Middleware,
		middleware.Recoverer,
	)
	router.AddNoPublisherHandler("crashreport_mail_flush", f.cfg.Topic, f.sub, f.handle)

	f.log.Info("spool flusher started", "topic", f.cfg.Topic)
	return router.Run(ctx)
}

// dropExhausted acknowledges messages that still fail after all retries so
// the bus does not redeliver them forever.
func (f *Flusher) dropExhausted(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err != nil {
			f.log.Error("dropping undeliverable notification", "message_uuid", msg.UUID, "error", err)
			return nil, nil
		}
		return out, nil
	}
}

func (f *Flusher) handle(msg *message.Message) error {
	env, err := UnmarshalEnvelope(msg.Payload)
	if err != nil {
		f.log.Error("discarding malformed spool message", "message_uuid", msg.UUID, "error", err)
		return nil
	}

	if err := f.limiter.Wait(msg.Context()); err != nil {
		return err
	}

	err = f.deliverer.DialAndSend(env.Message())
	metrics.RecordSpoolDelivery(err)
	if err != nil {
		return fmt.Errorf("deliver %q: %w", env.Subject, err)
	}

	f.log.Info("spooled notification delivered", "subject", env.Subject, "queued_at", env.QueuedAt)
	return nil
}
