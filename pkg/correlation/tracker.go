// Package correlation links the capture phase of a fault to the response
// phase that reports it, using per-client session state.
//
// A successful capture leaves the session Pending: the artifact key, the
// error message and a pending flag are stored. The next response evaluated
// for that session decides whether the fault is reported, suppressed as a
// repeat of a recently reported error, or discarded. Every decision except
// ActionNone clears the pending state, so a flag never outlives the response
// it belongs to.
package correlation

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	"github.com/armorclaw/crashreport/pkg/session"
)

const (
	// SuppressionWindow is how long an identical error stays muted after it
	// was reported
	SuppressionWindow = 10 * time.Minute

	// TimeLayout is the minute-precision format of the stored report time
	TimeLayout = "2006-01-02 15:04"
)

// Keys names the session entries used by the tracker
type Keys struct {
	Filename         string
	Error            string
	PreviousTime     string
	PreviousHash     string
	ExceptionPresent string
}

// DefaultKeys returns the session keys under prefix
func DefaultKeys(prefix string) Keys {
	return Keys{
		Filename:         prefix + "filename",
		Error:            prefix + "error",
		PreviousTime:     prefix + "previous_time",
		PreviousHash:     prefix + "previous_hash",
		ExceptionPresent: prefix + "exception_present",
	}
}

// State is the correlation state of a session
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
)

// Action is what the response phase must do
type Action string

const (
	ActionNone     Action = "none"
	ActionDiscard  Action = "discard"
	ActionSuppress Action = "suppress"
	ActionReport   Action = "report"
)

// Decision is the outcome of Evaluate
type Decision struct {
	Action       Action
	ArtifactKey  string
	ErrorMessage string
	Hash         string
	Reason       string
}

// Response is what the tracker needs to know about the outgoing response
type Response struct {
	Path   string
	Status int
}

// Tracker drives the correlation state machine
type Tracker struct {
	keys     Keys
	statuses []int
	now      func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithReportStatuses sets the response statuses that may be reported. An
// empty list allows any status.
func WithReportStatuses(statuses ...int) Option {
	return func(t *Tracker) { t.statuses = slices.Clone(statuses) }
}

// NewTracker creates a tracker. By default only 500 responses are reported.
func NewTracker(keys Keys, opts ...Option) *Tracker {
	t := &Tracker{
		keys:     keys,
		statuses: []int{500},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Keys returns the session keys in use
func (t *Tracker) Keys() Keys {
	return t.keys
}

// Begin marks the start of a capture: any previous artifact key is dropped
// and message becomes the last error.
func (t *Tracker) Begin(s session.Session, message string) {
	s.Remove(t.keys.Filename)
	s.Set(t.keys.Error, message)
}

// Record stores the persisted artifact key and marks the session Pending
func (t *Tracker) Record(s session.Session, artifactKey string) {
	s.Set(t.keys.Filename, artifactKey)
	s.Set(t.keys.ExceptionPresent, true)
}

// State reports whether a capture is waiting for its response phase
func (t *Tracker) State(s session.Session) State {
	if session.Bool(s, t.keys.ExceptionPresent) {
		return StatePending
	}
	return StateIdle
}

// Evaluate decides the response phase action and updates the session.
func (t *Tracker) Evaluate(s session.Session, resp Response, production bool) Decision {
	key, _ := session.String(s, t.keys.Filename)
	message, _ := session.String(s, t.keys.Error)

	if !production {
		if key == "" && !s.Has(t.keys.ExceptionPresent) {
			return Decision{Action: ActionNone}
		}
		t.clear(s)
		return Decision{Action: ActionDiscard, ArtifactKey: key, ErrorMessage: message, Reason: "not production"}
	}

	if t.State(s) != StatePending {
		return Decision{Action: ActionNone}
	}

	if !t.reportable(resp.Status) {
		t.clear(s)
		return Decision{Action: ActionDiscard, ArtifactKey: key, ErrorMessage: message, Reason: "status not reported"}
	}

	hash := Hash(resp.Path, message)

	if key == "" {
		t.clear(s)
		return Decision{Action: ActionSuppress, ErrorMessage: message, Hash: hash, Reason: "artifact key missing"}
	}

	if t.isRepeat(s, hash) {
		t.clear(s)
		return Decision{Action: ActionSuppress, ArtifactKey: key, ErrorMessage: message, Hash: hash, Reason: "repeat within window"}
	}

	s.Set(t.keys.PreviousHash, hash)
	s.Set(t.keys.PreviousTime, t.now().Format(TimeLayout))

	return Decision{Action: ActionReport, ArtifactKey: key, ErrorMessage: message, Hash: hash}
}

// Complete clears the pending state once a report was attempted
func (t *Tracker) Complete(s session.Session) {
	t.clear(s)
}

func (t *Tracker) clear(s session.Session) {
	s.Remove(t.keys.Filename)
	s.Remove(t.keys.Error)
	s.Remove(t.keys.ExceptionPresent)
}

func (t *Tracker) reportable(status int) bool {
	return len(t.statuses) == 0 || slices.Contains(t.statuses, status)
}

// isRepeat reports whether hash matches the last report and its window has
// not yet expired. An unparsable stored time never suppresses.
func (t *Tracker) isRepeat(s session.Session, hash string) bool {
	prevHash, _ := session.String(s, t.keys.PreviousHash)
	if prevHash != hash {
		return false
	}
	prevTime, ok := session.String(s, t.keys.PreviousTime)
	if !ok {
		return false
	}
	now := t.now()
	reported, err := time.ParseInLocation(TimeLayout, prevTime, now.Location())
	if err != nil {
		return false
	}
	return now.Before(reported.Add(SuppressionWindow))
}

// Hash identifies an error occurrence by request path and message
func Hash(path, message string) string {
	sum := sha256.Sum256([]byte(path + message))
	return hex.EncodeToString(sum[:])
}
