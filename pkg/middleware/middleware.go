// Package middleware connects the capture pipeline to net/http.
//
// Reporter.Handler loads the client session, buffers the request body,
// recovers panics into captured faults and, once the handler returns, runs
// the response phase before saving the session. Handlers that return errors
// instead of panicking report them with Fail or through HandlerFunc.
package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/armorclaw/crashreport/pkg/capture"
	"github.com/armorclaw/crashreport/pkg/errors"
	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/request"
	"github.com/armorclaw/crashreport/pkg/session"
)

// Config configures a Reporter
type Config struct {
	CookieName   string
	CookieSecure bool
	TTL          time.Duration
	MaxBodyBytes int64
}

// Reporter is the HTTP side of the capture pipeline
type Reporter struct {
	cfg      Config
	pipeline *capture.Pipeline
	sessions session.Store
	log      *logger.Logger
}

type ctxKey struct{}

// requestState is what handlers further down can reach through the context
type requestState struct {
	reporter *Reporter
	session  *session.Bag
	captured bool
}

// New creates a Reporter
func New(cfg Config, pipeline *capture.Pipeline, sessions session.Store, log *logger.Logger) *Reporter {
	if cfg.CookieName == "" {
		cfg.CookieName = "CRASHREPORTSESSID"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if log == nil {
		log = logger.Global()
	}
	return &Reporter{
		cfg:      cfg,
		pipeline: pipeline,
		sessions: sessions,
		log:      log.WithComponent("middleware"),
	}
}

// Handler wraps next with session handling, fault capture and the response
// phase
func (m *Reporter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sess := m.loadSession(ctx, w, r)
		state := &requestState{reporter: m, session: sess}

		body := m.bufferBody(r)
		rec := newRecorder(w)
		ctx = context.WithValue(ctx, ctxKey{}, state)
		r = r.WithContext(ctx)

		func() {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				state.capture(ctx, capture.FaultFromPanic(v))
				if !rec.wroteHeader {
					http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(rec, r)
		}()

		exchange := capture.Exchange{
			Request:  request.FromHTTP(r, body),
			Response: rec.response(r.Proto),
		}
		if _, err := m.pipeline.Respond(ctx, sess, exchange); err != nil {
			m.log.WithSessionID(sess.ID()).ErrorEvent(ctx, "crash report not delivered", err)
		}

		m.saveSession(ctx, sess)
	})
}

func (m *Reporter) loadSession(ctx context.Context, w http.ResponseWriter, r *http.Request) *session.Bag {
	if c, err := r.Cookie(m.cfg.CookieName); err == nil && c.Value != "" {
		values, err := m.sessions.Load(ctx, c.Value)
		if err == nil {
			return session.NewBag(c.Value, values)
		}
		m.log.ErrorEvent(ctx, "session load failed, starting a new one", errors.Wrap(errors.CodeSessionLoad, err))
	}

	id := session.NewID()
	cookie := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.cfg.TTL > 0 {
		cookie.MaxAge = int(m.cfg.TTL.Seconds())
	}
	http.SetCookie(w, cookie)
	return session.NewBag(id, nil)
}

func (m *Reporter) saveSession(ctx context.Context, sess *session.Bag) {
	if !sess.Dirty() {
		return
	}
	if err := m.sessions.Save(ctx, sess.ID(), sess.All()); err != nil {
		m.log.WithSessionID(sess.ID()).ErrorEvent(ctx, "session save failed", errors.Wrap(errors.CodeSessionSave, err))
	}
}

// bufferBody reads up to MaxBodyBytes of the request body for the report and
// gives the handler an equivalent reader.
func (m *Reporter) bufferBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, m.cfg.MaxBodyBytes))
	if err != nil {
		m.log.Debug("request body not buffered", "error", err)
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
	return body
}

func (s *requestState) capture(ctx context.Context, f capture.Fault) {
	if s.captured {
		return
	}
	s.captured = true
	out, err := s.reporter.pipeline.Capture(ctx, s.session, f)
	if err != nil {
		s.reporter.log.ErrorEvent(ctx, "upload failure notice not delivered", err)
	}
	if out.Kind != capture.OutcomeSkipped {
		s.reporter.log.WithSessionID(s.session.ID()).Debug("fault captured", "outcome", out.Kind, "artifact", out.ArtifactKey)
	}
}

// Session returns the session of the request behind ctx
func Session(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*requestState)
	if !ok {
		return nil, false
	}
	return s.session, true
}

// SessionIdentity resolves the user from a session value
func SessionIdentity(key string) capture.IdentityFunc {
	return func(ctx context.Context) (string, bool) {
		s, ok := Session(ctx)
		if !ok {
			return "", false
		}
		return session.String(s, key)
	}
}

// Fail captures err as a fault, unless it maps to an expected client error,
// and writes the matching status.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	if s, ok := r.Context().Value(ctxKey{}).(*requestState); ok && !capture.IsExpected(err) {
		s.capture(r.Context(), capture.FaultFromError(err))
	}
	status := capture.StatusOf(err)
	http.Error(w, http.StatusText(status), status)
}

// HandlerFunc is an http handler that reports failure by returning an error
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP calls f and hands a returned error to Fail
func (f HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := f(w, r); err != nil {
		Fail(w, r, err)
	}
}
