package errors

import (
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

const maxStackDepth = 64

// CaptureStack captures the current call stack. skip counts frames above the
// caller of CaptureStack.
func CaptureStack(skip int) []StackFrame {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}
	return framesFromPCs(pcs[:n])
}

// StackFromPCs converts raw program counters, as returned by runtime.Callers,
// into frames.
func StackFromPCs(pcs []uintptr) []StackFrame {
	return framesFromPCs(pcs)
}

func framesFromPCs(pcs []uintptr) []StackFrame {
	var frames []StackFrame
	callers := runtime.CallersFrames(pcs)
	for {
		frame, more := callers.Next()
		if strings.HasPrefix(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}

		frames = append(frames, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})

		if frame.Function == "main.main" || !more {
			break
		}
	}
	return frames
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// StackOf returns the deepest stack recorded in err's chain. Stacks attached
// by github.com/pkg/errors and TracedError.Stack are both recognised. It
// returns nil when no error in the chain carries a stack.
func StackOf(err error) []StackFrame {
	var found []StackFrame
	for err != nil {
		switch e := err.(type) {
		case stackTracer:
			found = fromPkgStack(e.StackTrace())
		case *TracedError:
			if len(e.Stack) > 0 {
				found = e.Stack
			}
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return found
}

func fromPkgStack(st pkgerrors.StackTrace) []StackFrame {
	frames := make([]StackFrame, 0, len(st))
	for _, f := range st {
		pc := uintptr(f) - 1
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line := fn.FileLine(pc)
		frames = append(frames, StackFrame{Function: fn.Name(), File: file, Line: line})
	}
	return frames
}
