package capture

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"

	"github.com/armorclaw/crashreport/pkg/errors"
)

// Fault is an unhandled error that reached the request boundary
type Fault struct {
	Err     error
	Code    string
	Type    string
	Message string
	File    string
	Line    int
	Stack   []errors.StackFrame
}

// FaultFromError describes err. The stack is taken from err when it carries
// one (a TracedError or a github.com/pkg/errors value), otherwise from the
// caller.
func FaultFromError(err error) Fault {
	stack := errors.StackOf(err)
	if len(stack) == 0 {
		stack = errors.CaptureStack(1)
	}
	f := Fault{
		Err:     err,
		Code:    faultCode(err),
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Stack:   stack,
	}
	f.locate(0)
	return f
}

// FaultFromPanic describes a value recovered from a panic. It must be called
// from the deferred function that recovered v.
func FaultFromPanic(v any) Fault {
	stack := panicStack()

	err, ok := v.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", v)
	}
	f := Fault{
		Err:     err,
		Code:    faultCode(err),
		Type:    fmt.Sprintf("%T", v),
		Message: fmt.Sprint(v),
		Stack:   stack,
	}
	f.locate(0)
	return f
}

// panicStack returns the stack of the panicking goroutine starting at the
// frame that panicked, or the caller's stack when no panic is in progress.
func panicStack() []errors.StackFrame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(3, pcs)
	pcs = pcs[:n]
	for i, pc := range pcs {
		if fn := runtime.FuncForPC(pc - 1); fn != nil && fn.Name() == "runtime.gopanic" {
			return errors.StackFromPCs(pcs[i+1:])
		}
	}
	return errors.StackFromPCs(pcs)
}

// ErrorType names the type of err, qualified by its code when it has one
func ErrorType(err error) string {
	if code := errors.Code(err); code != "" {
		return fmt.Sprintf("%T(%s)", err, code)
	}
	return fmt.Sprintf("%T", err)
}

func (f *Fault) locate(from int) {
	if from < len(f.Stack) {
		f.File = f.Stack[from].File
		f.Line = f.Stack[from].Line
	}
}

func faultCode(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.Status)
	}
	if code := errors.Code(err); code != "" {
		return code
	}
	return "0"
}

// BuildBacktrace renders the fixed-format backtrace stored for a fault
func BuildBacktrace(f Fault, user string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Fault code: %s\n", f.Code)
	fmt.Fprintf(&sb, "Fault type: %s\n", f.Type)
	fmt.Fprintf(&sb, "User: %s\n", user)
	fmt.Fprintf(&sb, "Location: %s:%d\n", f.File, f.Line)
	fmt.Fprintf(&sb, "Message: %s\n", f.Message)
	sb.WriteString("\nBacktrace:\n")
	sb.WriteString(errors.FormatStack(f.Stack))
	return sb.String()
}

// StatusError attaches an HTTP status to an error returned by a handler
type StatusError struct {
	Status int
	Err    error
}

// NewStatusError wraps err with status
func NewStatusError(status int, err error) *StatusError {
	return &StatusError{Status: status, Err: err}
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return http.StatusText(e.Status)
	}
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status for err, 500 unless a StatusError says
// otherwise
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) && se.Status > 0 {
		return se.Status
	}
	return http.StatusInternalServerError
}

// IsExpected reports whether err maps to a client error that is never
// captured: bad request, forbidden, not found or gone.
func IsExpected(err error) bool {
	if err == nil {
		return false
	}
	switch StatusOf(err) {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}
