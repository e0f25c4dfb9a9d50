package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestTracedError_IsMatchesCode(t *testing.T) {
	err := Wrap(CodeArtifactExists, fmt.Errorf("file exists"))
	wrapped := fmt.Errorf("write: %w", err)

	if !stderrors.Is(wrapped, ErrAlreadyExists) {
		t.Fatalf("Is(%v, ErrAlreadyExists) = false, want true", wrapped)
	}
	if stderrors.Is(wrapped, ErrUploadFailed) {
		t.Fatalf("Is(%v, ErrUploadFailed) = true, want false", wrapped)
	}
	if got := Code(wrapped); got != CodeArtifactExists {
		t.Errorf("Code() = %q, want %q", got, CodeArtifactExists)
	}
}

func TestTracedError_Retryable(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{CodeArtifactExists, true},
		{CodeArtifactUpload, true},
		{CodeCaptureUnexpected, false},
		{"XXX-999", false},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").Retryable(); got != tt.want {
			t.Errorf("Retryable(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestNewBuilder_Defaults(t *testing.T) {
	err := NewBuilder(CodeNotifyTransport).Build()

	if err.Message != "notification transport failed" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Category != "notify" {
		t.Errorf("Category = %q", err.Category)
	}
	if !strings.HasSuffix(err.File, "error_test.go") {
		t.Errorf("File = %q, want caller file", err.File)
	}
	if !strings.Contains(err.Function, "TestNewBuilder_Defaults") {
		t.Errorf("Function = %q", err.Function)
	}
}

func TestNew_RecordsCaller(t *testing.T) {
	for _, err := range []*TracedError{
		New(CodeArtifactRead, "x"),
		Newf(CodeArtifactRead, "%s", "x"),
		Wrap(CodeArtifactRead, fmt.Errorf("x")),
		Wrapf(CodeArtifactRead, fmt.Errorf("x"), "y"),
	} {
		if !strings.Contains(err.Function, "TestNew_RecordsCaller") {
			t.Errorf("Function = %q, want test function", err.Function)
		}
	}
}

func TestTracedError_Error(t *testing.T) {
	err := Wrapf(CodeArtifactUpload, fmt.Errorf("disk full"), "write %s", "a.btl")
	want := "ART-002: write a.btl: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestStackOf_PkgErrors(t *testing.T) {
	err := fmt.Errorf("handler: %w", pkgerrors.New("DB down"))

	frames := StackOf(err)
	if len(frames) == 0 {
		t.Fatal("StackOf() returned no frames")
	}
	if !strings.Contains(frames[0].Function, "TestStackOf_PkgErrors") {
		t.Errorf("frames[0].Function = %q", frames[0].Function)
	}
}

func TestStackOf_PlainError(t *testing.T) {
	if frames := StackOf(fmt.Errorf("plain")); frames != nil {
		t.Errorf("StackOf(plain) = %v, want nil", frames)
	}
}

func TestCaptureStack_Format(t *testing.T) {
	frames := CaptureStack(0)
	if len(frames) == 0 {
		t.Fatal("CaptureStack() returned no frames")
	}
	if !strings.Contains(frames[0].Function, "TestCaptureStack_Format") {
		t.Errorf("frames[0].Function = %q", frames[0].Function)
	}

	out := FormatStack(frames[:1])
	if !strings.HasPrefix(out, "#0 ") || !strings.Contains(out, "error_test.go:") {
		t.Errorf("FormatStack() = %q", out)
	}
}
