package notify

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/crashreport/pkg/errors"
)

func TestParseAddress_Forms(t *testing.T) {
	a, err := ParseAddress("Exception Handler <crash@example.com>")
	require.NoError(t, err)
	assert.Equal(t, Address{Name: "Exception Handler", Email: "crash@example.com"}, a)
	assert.Equal(t, `"Exception Handler" <crash@example.com>`, a.String())

	_, err = ParseAddress("not an address")
	require.Error(t, err)

	list, err := ParseAddressList([]string{"a@example.com", "b@example.com"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "<a@example.com>", list[0].String())
}

func TestTransportError_Wraps(t *testing.T) {
	assert.NoError(t, TransportError(nil))

	err := TransportError(stderrors.New("connection refused"))
	assert.ErrorIs(t, err, errors.ErrTransport)
	assert.Same(t, err, TransportError(err))
}

func TestRenderer_Exception(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	body, err := r.Render(TemplateException, map[string]any{
		"user":          "alice",
		"method":        "GET",
		"host":          "http://shop.example.com",
		"requestUri":    "/orders",
		"systemVersion": "v1.2.3",
		"errorMessage":  "DB down",
		"annotation":    "\n\n failed to remove the backtrace file\n\n",
	})
	require.NoError(t, err)

	assert.Contains(t, body, "An error 500 occurred at /orders.")
	assert.Contains(t, body, "User:           alice")
	assert.Contains(t, body, "System version: v1.2.3")
	assert.Contains(t, body, "\n    DB down\n")
	assert.Contains(t, body, "\nfailed to remove the backtrace file\n")
}

func TestRenderer_UploadFailed(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	body, err := r.Render(TemplateUploadFailed, map[string]any{
		"type":      "*errors.fundamental",
		"exception": "ART-002: disk full",
		"backtrace": "Fault type: x",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body, "A *errors.fundamental was raised"))
	assert.Contains(t, body, "    ART-002: disk full")
	assert.Contains(t, body, "The backtrace:\nFault type: x")
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	_, err = r.Render("missing.tmpl", nil)
	assert.ErrorIs(t, err, errors.ErrTemplate)
}

func TestRenderer_OverrideDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, TemplateException), []byte("custom {{ .errorMessage | upper }}"), 0600))

	r, err := NewRenderer(dir)
	require.NoError(t, err)

	body, err := r.Render(TemplateException, map[string]any{"errorMessage": "db down"})
	require.NoError(t, err)
	assert.Equal(t, "custom DB DOWN", body)

	// untouched templates still come from the embedded set
	_, err = r.Render(TemplateUploadFailed, map[string]any{"type": "x", "exception": "y", "backtrace": "z"})
	require.NoError(t, err)
}
