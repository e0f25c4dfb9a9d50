// Package app builds the crash reporter from configuration.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/armorclaw/crashreport/pkg/artifact"
	"github.com/armorclaw/crashreport/pkg/capture"
	"github.com/armorclaw/crashreport/pkg/config"
	"github.com/armorclaw/crashreport/pkg/correlation"
	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/middleware"
	"github.com/armorclaw/crashreport/pkg/notify"
	"github.com/armorclaw/crashreport/pkg/notify/smtpmail"
	"github.com/armorclaw/crashreport/pkg/notify/spool"
	"github.com/armorclaw/crashreport/pkg/redact"
	"github.com/armorclaw/crashreport/pkg/report"
	"github.com/armorclaw/crashreport/pkg/session"
)

// UserSessionKey is the session value the default identity resolver reads
const UserSessionKey = "user"

// App holds the wired components
type App struct {
	Config    *config.Config
	Log       *logger.Logger
	Store     artifact.Store
	Sessions  session.Store
	Sender    notify.Sender
	Assembler *report.Assembler
	Pipeline  *capture.Pipeline
	Reporter  *middleware.Reporter

	janitor *artifact.Janitor
	flusher *spool.Flusher
	closers []func() error
}

type sessionPruner interface {
	Prune(ctx context.Context) (int, error)
}

// New wires every component described by cfg. Close releases what it opened,
// also when New fails halfway.
func New(cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Global()
	}

	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openArtifacts(); err != nil {
		return nil, err
	}
	if err := a.openSessions(); err != nil {
		return nil, err
	}
	if err := a.openSender(); err != nil {
		return nil, err
	}

	from, err := notify.ParseAddress(cfg.Mail.Sender)
	if err != nil {
		return nil, fmt.Errorf("%w: mail.sender: %w", config.ErrInvalidConfig, err)
	}
	to, err := notify.ParseAddressList(cfg.Mail.Receivers)
	if err != nil {
		return nil, fmt.Errorf("%w: mail.receivers: %w", config.ErrInvalidConfig, err)
	}

	a.Assembler = report.New(report.Config{
		From:            from,
		To:              to,
		SubjectPrefix:   cfg.Mail.SubjectPrefix,
		SystemVersion:   cfg.Reporter.SystemVersion,
		SessionTokenKey: cfg.Reporter.SessionTokenKey,
	}, a.Sender, log)

	tracker := correlation.NewTracker(
		correlation.DefaultKeys(cfg.Reporter.SessionKeyPrefix),
		correlation.WithReportStatuses(cfg.Reporter.ReportStatuses...),
	)

	a.Pipeline = capture.New(capture.Config{
		Production:  cfg.IsProduction(),
		Folder:      cfg.Reporter.BacktraceFolder,
		DefaultUser: cfg.Reporter.DefaultUser,
		Fields:      redactionFields(cfg),
	}, a.Store, tracker, a.Assembler,
		capture.WithLogger(log),
		capture.WithIdentity(middleware.SessionIdentity(UserSessionKey)),
	)

	a.Reporter = middleware.New(middleware.Config{
		CookieName:   cfg.Sessions.CookieName,
		CookieSecure: cfg.IsProduction(),
		TTL:          cfg.SessionTTL(),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, a.Pipeline, a.Sessions, log)

	log.Info("crash reporter ready",
		"production", cfg.IsProduction(),
		"mail_backend", cfg.Mail.Backend,
		"artifact_backend", cfg.Artifacts.Backend,
		"session_backend", cfg.Sessions.Backend,
	)
	return a, nil
}

func redactionFields(cfg *config.Config) redact.FieldSet {
	return redact.DefaultFieldSet().
		Override(redact.FieldSet{
			redact.SourceRequest: cfg.Redaction.Request,
			redact.SourceServer:  cfg.Redaction.Server,
			redact.SourceHeaders: cfg.Redaction.Headers,
			redact.SourceCookies: cfg.Redaction.Cookies,
		}).
		With(redact.SourceCookies, cfg.Sessions.CookieName)
}

func (a *App) openArtifacts() error {
	cfg := a.Config.Artifacts
	switch cfg.Backend {
	case "sqlite":
		store, err := artifact.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.Store = artifact.NewRedisStore(client, cfg.RedisPrefix, a.Config.ArtifactRetention())
		a.closers = append(a.closers, client.Close)
	default:
		a.Store = artifact.NewFileStore(a.Config.Reporter.BacktraceFolder)
	}

	if sweeper, ok := a.Store.(artifact.Sweeper); ok {
		a.janitor = artifact.NewJanitor(sweeper, a.Config.ArtifactRetention(), cfg.SweepSchedule,
			a.Log.WithComponent("janitor"))
	}
	return nil
}

func (a *App) openSessions() error {
	cfg := a.Config.Sessions
	switch cfg.Backend {
	case "sqlite":
		store, err := session.NewSQLiteStore(cfg.SQLitePath, a.Config.SessionTTL())
		if err != nil {
			return err
		}
		a.Sessions = store
		a.closers = append(a.closers, store.Close)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.Sessions = session.NewRedisStore(client, cfg.RedisPrefix, a.Config.SessionTTL())
		a.closers = append(a.closers, client.Close)
	default:
		a.Sessions = session.NewMemoryStore()
	}
	return nil
}

func (a *App) openSender() error {
	cfg := a.Config.Mail
	renderer, err := notify.NewRenderer(cfg.TemplateDir)
	if err != nil {
		return err
	}

	if cfg.Backend == "smtp" {
		sender, err := smtpmail.New(smtpmail.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			TLS:      cfg.SMTP.TLS,
			Timeout:  a.Config.SMTPTimeout(),
		}, renderer, a.Log.WithComponent("smtpmail"))
		if err != nil {
			return err
		}
		a.Sender = sender
		return nil
	}

	consumer, _ := os.Hostname()
	bus, err := spool.NewBus(spool.BusConfig{
		Kind:          cfg.Spool.Bus,
		Topic:         cfg.Spool.Topic,
		RedisAddr:     cfg.Spool.RedisAddr,
		ConsumerGroup: cfg.Spool.ConsumerGroup,
		Consumer:      consumer,
	}, a.Log.WithComponent("spool"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, bus.Close)

	a.Sender = spool.NewSender(bus.Publisher, cfg.Spool.Topic, renderer, a.Log.WithComponent("spool"))
	a.flusher = spool.NewFlusher(bus.Subscriber, spool.NewDialer(spool.DialerConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		TLS:      cfg.SMTP.TLS,
		Timeout:  a.Config.SMTPTimeout(),
	}), spool.FlusherConfig{
		Topic:         cfg.Spool.Topic,
		RatePerSecond: cfg.Spool.RatePerSecond,
		Burst:         cfg.Spool.Burst,
		MaxRetries:    cfg.Spool.MaxRetries,
		RetryInterval: time.Second,
	}, a.Log.WithComponent("spool"))
	return nil
}

// Run runs the background workers (spool flusher, artifact janitor) until
// ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.janitor != nil && a.Config.Artifacts.SweepSchedule != "" {
		if err := a.janitor.Start(ctx); err != nil {
			return err
		}
		defer a.janitor.Stop()
	}
	if a.flusher != nil {
		g.Go(func() error {
			return a.flusher.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	return g.Wait()
}

// Sweep removes stale artifacts and expired sessions once. It returns the
// number of artifacts and sessions removed.
func (a *App) Sweep(ctx context.Context) (artifacts, sessions int, err error) {
	if a.janitor != nil {
		if artifacts, err = a.janitor.RunOnce(ctx); err != nil {
			return artifacts, 0, err
		}
	}
	if p, ok := a.Sessions.(sessionPruner); ok {
		if sessions, err = p.Prune(ctx); err != nil {
			return artifacts, sessions, fmt.Errorf("failed to prune sessions: %w", err)
		}
	}
	return artifacts, sessions, nil
}

// Close releases stores, clients and the spool bus
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}
