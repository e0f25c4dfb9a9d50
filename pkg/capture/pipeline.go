// Package capture runs the two phases of crash reporting for a request.
//
// Capture stores the backtrace of an unhandled fault and marks the client
// session as pending. Respond runs once the response is known: it asks the
// correlation tracker what to do and either reports the fault, suppresses it
// as a repeat or discards it, cleaning up the stored artifact in every case.
package capture

import (
	"context"
	"fmt"

	"github.com/armorclaw/crashreport/pkg/artifact"
	"github.com/armorclaw/crashreport/pkg/correlation"
	"github.com/armorclaw/crashreport/pkg/errors"
	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/metrics"
	"github.com/armorclaw/crashreport/pkg/redact"
	"github.com/armorclaw/crashreport/pkg/report"
	"github.com/armorclaw/crashreport/pkg/request"
	"github.com/armorclaw/crashreport/pkg/session"
)

const (
	// DefaultMaxAttempts bounds the persistence retry loop
	DefaultMaxAttempts = 3

	// DefaultUser is reported when no identity is known
	DefaultUser = "No user"

	// MissingBacktrace replaces a backtrace that could not be read
	MissingBacktrace = "Backtrace artifact %s could not be found on the server"

	// DeleteFailedAnnotation is appended to a report whose artifact could not be removed
	DeleteFailedAnnotation = "The backtrace artifact %s could not be removed: %v"
)

// IdentityFunc resolves the display name of the user behind ctx
type IdentityFunc func(ctx context.Context) (string, bool)

// Config configures a Pipeline
type Config struct {
	Production  bool
	Folder      string
	MaxAttempts int
	DefaultUser string
	Fields      redact.FieldSet
}

// OutcomeKind classifies the result of Capture
type OutcomeKind string

const (
	OutcomeSkipped      OutcomeKind = "skipped"
	OutcomeStored       OutcomeKind = "stored"
	OutcomeUploadFailed OutcomeKind = "upload_failed"
)

// Outcome is the result of one capture
type Outcome struct {
	Kind        OutcomeKind
	ArtifactKey string
	Attempts    int

	// Err and Backtrace are set for OutcomeUploadFailed
	Err       error
	Backtrace string
}

// Exchange is the request and response a response phase runs for
type Exchange struct {
	Request  request.Snapshot
	Response request.Response
}

// Pipeline captures faults and reports them once their response is known
type Pipeline struct {
	cfg       Config
	store     artifact.Store
	tracker   *correlation.Tracker
	assembler *report.Assembler
	identity  IdentityFunc
	log       *logger.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithIdentity sets the user identity resolver
func WithIdentity(fn IdentityFunc) Option {
	return func(p *Pipeline) { p.identity = fn }
}

// WithLogger sets the pipeline logger
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a Pipeline
func New(cfg Config, store artifact.Store, tracker *correlation.Tracker, assembler *report.Assembler, opts ...Option) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.DefaultUser == "" {
		cfg.DefaultUser = DefaultUser
	}
	if cfg.Fields == nil {
		cfg.Fields = redact.DefaultFieldSet()
	}

	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		tracker:   tracker,
		assembler: assembler,
		log:       logger.Global(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithComponent("capture")
	return p
}

// Production reports whether faults are captured at all
func (p *Pipeline) Production() bool {
	return p.cfg.Production
}

// Capture stores the backtrace of f and marks sess pending. When the
// backtrace cannot be stored the failure notice is sent immediately and its
// transport error, if any, is returned.
func (p *Pipeline) Capture(ctx context.Context, sess session.Session, f Fault) (Outcome, error) {
	if IsExpected(f.Err) || !p.cfg.Production {
		metrics.RecordCapture(string(OutcomeSkipped))
		return Outcome{Kind: OutcomeSkipped}, nil
	}

	backtrace := BuildBacktrace(f, p.user(ctx))
	p.tracker.Begin(sess, f.Message)

	key, attempts, err := p.persist(ctx, backtrace)
	if err == nil {
		p.tracker.Record(sess, key)
		metrics.RecordCapture(string(OutcomeStored))
		p.log.WithArtifact(key).Info("backtrace stored", "attempts", attempts, "fault_type", f.Type)
		return Outcome{Kind: OutcomeStored, ArtifactKey: key, Attempts: attempts}, nil
	}

	metrics.RecordCapture(string(OutcomeUploadFailed))
	p.log.ErrorEvent(ctx, "backtrace could not be stored", err)

	out := Outcome{Kind: OutcomeUploadFailed, Attempts: attempts, Err: err, Backtrace: backtrace}
	return out, p.assembler.SendUploadFailed(ctx, ErrorType(err), err, backtrace)
}

// persist writes content under a fresh name. An existing name is replaced
// and retried, an upload failure is retried under the same name and any
// other error ends the loop.
func (p *Pipeline) persist(ctx context.Context, content string) (string, int, error) {
	a, err := artifact.New(p.cfg.Folder, content)
	if err != nil {
		return "", 0, errors.Wrap(errors.CodeCaptureUnexpected, err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err := p.store.Write(ctx, a.Name, a.Content)
		switch {
		case err == nil:
			metrics.RecordPersistAttempt("stored")
			return a.Name, attempt, nil

		case errors.Is(err, errors.ErrAlreadyExists):
			metrics.RecordPersistAttempt("exists")
			p.log.Debug("artifact name taken, regenerating", "artifact", a.Name, "attempt", attempt)
			lastErr = err
			if err := a.Regenerate(); err != nil {
				return "", attempt, errors.Wrap(errors.CodeCaptureUnexpected, err)
			}

		case errors.Is(err, errors.ErrUploadFailed):
			metrics.RecordPersistAttempt("upload_failed")
			p.log.Warn("artifact upload failed, retrying", "artifact", a.Name, "attempt", attempt, "error", err)
			lastErr = err

		default:
			metrics.RecordPersistAttempt("unexpected")
			return "", attempt, errors.Wrap(errors.CodeCaptureUnexpected, err)
		}
	}

	return "", p.cfg.MaxAttempts, errors.NewBuilder(errors.CodeCaptureExhausted).
		Wrap(lastErr).
		WithMessagef("artifact not stored after %d attempts", p.cfg.MaxAttempts).
		Build()
}

// Respond runs the response phase for sess. Only a reported fault can fail,
// with the transport error of the report.
func (p *Pipeline) Respond(ctx context.Context, sess session.Session, ex Exchange) (correlation.Decision, error) {
	d := p.tracker.Evaluate(sess, correlation.Response{
		Path:   ex.Request.Path,
		Status: ex.Response.Status,
	}, p.cfg.Production)
	metrics.RecordDecision(string(d.Action))

	switch d.Action {
	case correlation.ActionNone:
		return d, nil
	case correlation.ActionDiscard, correlation.ActionSuppress:
		p.log.Debug("fault not reported", "action", d.Action, "reason", d.Reason, "path", ex.Request.Path)
		p.discard(ctx, d.ArtifactKey)
		return d, nil
	}

	defer p.tracker.Complete(sess)

	backtrace, annotation := p.load(ctx, d.ArtifactKey)
	err := p.assembler.Send(ctx, report.Input{
		User:         p.user(ctx),
		ErrorMessage: d.ErrorMessage,
		Backtrace:    backtrace,
		Annotation:   annotation,
		Request:      redact.Redact(ex.Request, p.cfg.Fields),
		Response:     ex.Response,
		Session:      sess.All(),
	})
	return d, err
}

// load reads and removes the artifact behind key. A failed delete comes back
// as an annotation for the report.
func (p *Pipeline) load(ctx context.Context, key string) (backtrace, annotation string) {
	log := p.log.WithArtifact(key)

	content, found, err := p.store.Read(ctx, key)
	switch {
	case err != nil:
		log.Warn("artifact read failed", "error", err)
		backtrace = fmt.Sprintf(MissingBacktrace, key)
	case !found || content == "":
		log.Warn("artifact missing")
		backtrace = fmt.Sprintf(MissingBacktrace, key)
	default:
		backtrace = content
	}

	if err := p.store.Delete(ctx, key); err != nil {
		metrics.RecordDeleteFailure()
		log.Warn("artifact delete failed", "error", err)
		annotation = fmt.Sprintf(DeleteFailedAnnotation, key, err)
	}
	return backtrace, annotation
}

// discard removes an artifact that will not be reported. Failures only
// surface in the log, and only in production.
func (p *Pipeline) discard(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := p.store.Delete(ctx, key); err != nil {
		metrics.RecordDeleteFailure()
		if p.cfg.Production {
			p.log.WithArtifact(key).Warn("artifact delete failed", "error", err)
		}
	}
}

func (p *Pipeline) user(ctx context.Context) string {
	if p.identity != nil {
		if u, ok := p.identity(ctx); ok && u != "" {
			return u
		}
	}
	return p.cfg.DefaultUser
}
