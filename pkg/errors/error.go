// Package errors provides coded, traced errors for the crash reporter.
//
// Every failure that crosses a component boundary is a *TracedError carrying a
// registered code (see codes.go). errors.Is matches on the code, so sentinel
// values such as ErrAlreadyExists can be compared against wrapped errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Severity levels for errors
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// TracedError is a structured error with the location it was raised at
type TracedError struct {
	Code     string   `json:"code"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`

	Message  string `json:"message"`
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`

	Stack     []StackFrame `json:"stack,omitempty"`
	Timestamp time.Time    `json:"timestamp"`

	cause error `json:"-"`
}

// Error implements the error interface
func (e *TracedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *TracedError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a TracedError with the same code.
func (e *TracedError) Is(target error) bool {
	t, ok := target.(*TracedError)
	if !ok || t == nil {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the code is registered as retryable.
func (e *TracedError) Retryable() bool {
	return Lookup(e.Code).Retryable
}

// ErrorBuilder constructs TracedError instances with fluent API
type ErrorBuilder struct {
	err *TracedError
}

// NewBuilder creates a new error builder for the given code
func NewBuilder(code string) *ErrorBuilder {
	return newBuilder(code, 2)
}

func newBuilder(code string, skip int) *ErrorBuilder {
	pc, file, line, _ := runtime.Caller(skip)

	def := Lookup(code)
	fn := ""
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
	}

	return &ErrorBuilder{
		err: &TracedError{
			Code:      code,
			Category:  def.Category,
			Severity:  def.Severity,
			Message:   def.Message,
			Function:  fn,
			File:      file,
			Line:      line,
			Timestamp: time.Now(),
		},
	}
}

// Wrap wraps an existing error with this code
func (b *ErrorBuilder) Wrap(cause error) *ErrorBuilder {
	b.err.cause = cause
	if b.err.Message == "" && cause != nil {
		b.err.Message = cause.Error()
	}
	return b
}

// WithMessage sets a custom message
func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err.Message = msg
	return b
}

// WithMessagef sets a formatted custom message
func (b *ErrorBuilder) WithMessagef(format string, args ...any) *ErrorBuilder {
	b.err.Message = fmt.Sprintf(format, args...)
	return b
}

// WithSeverity overrides the default severity
func (b *ErrorBuilder) WithSeverity(sev Severity) *ErrorBuilder {
	b.err.Severity = sev
	return b
}

// WithStack attaches the caller's stack
func (b *ErrorBuilder) WithStack() *ErrorBuilder {
	b.err.Stack = CaptureStack(1)
	return b
}

// Build creates the final TracedError
func (b *ErrorBuilder) Build() *TracedError {
	return b.err
}

// New creates a new traced error with just a code and message
func New(code, message string) *TracedError {
	return newBuilder(code, 2).WithMessage(message).Build()
}

// Newf creates a new traced error with formatted message
func Newf(code, format string, args ...any) *TracedError {
	return newBuilder(code, 2).WithMessagef(format, args...).Build()
}

// Wrap wraps an error with a code
func Wrap(code string, cause error) *TracedError {
	return newBuilder(code, 2).Wrap(cause).Build()
}

// Wrapf wraps an error with a code and formatted message
func Wrapf(code string, cause error, format string, args ...any) *TracedError {
	return newBuilder(code, 2).Wrap(cause).WithMessagef(format, args...).Build()
}

// Code returns the code of the first TracedError in err's chain, or "".
func Code(err error) string {
	var te *TracedError
	if stderrors.As(err, &te) {
		return te.Code
	}
	return ""
}

// Is and As forward to the standard library so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// sentinel returns a comparison-only value for a code.
func sentinel(code string) *TracedError {
	def := Lookup(code)
	return &TracedError{Code: code, Category: def.Category, Severity: def.Severity, Message: def.Message}
}

// FormatStack renders frames one per entry, innermost first.
func FormatStack(frames []StackFrame) string {
	var sb strings.Builder
	for i, f := range frames {
		fmt.Fprintf(&sb, "#%d %s\n    %s:%d\n", i, f.Function, f.File, f.Line)
	}
	return sb.String()
}
