package report

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crerrors "github.com/armorclaw/crashreport/pkg/errors"
	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/notify"
	"github.com/armorclaw/crashreport/pkg/notify/notifytest"
	"github.com/armorclaw/crashreport/pkg/request"
)

func loginSnapshot() request.Snapshot {
	return request.Snapshot{
		Method:   "POST",
		URI:      "/login?next=%2Forders",
		Path:     "/login",
		Host:     "shop.example.com",
		Protocol: "HTTP/1.1",
		Headers: http.Header{
			"Content-Type": {"application/x-www-form-urlencoded"},
			"Host":         {"shop.example.com"},
		},
		Request: map[string]any{
			"username": "alice",
			"password": "**REMOVED**",
			"address":  map[string]any{"city": "Ghent", "zip": "9000"},
		},
		Query:   map[string]any{"next": "/orders"},
		Cookies: map[string]string{"theme": "dark"},
		Server:  map[string]string{"REQUEST_METHOD": "POST", "SERVER_NAME": "shop.example.com"},
	}
}

func TestRequestDump_Golden(t *testing.T) {
	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "request_dump", []byte(RequestDump(loginSnapshot(), DefaultMaxDepth)))
}

func TestRequestDump_SkipsEmptyParameters(t *testing.T) {
	s := request.Snapshot{
		Method:   "GET",
		URI:      "/orders",
		Protocol: "HTTP/1.1",
		Headers:  http.Header{"Host": {"shop.example.com"}},
	}

	out := RequestDump(s, DefaultMaxDepth)
	assert.Equal(t, "GET /orders HTTP/1.1\r\n\r\nRequest headers:\r\nHost: shop.example.com\r\n\r\n", out)
	assert.NotContains(t, out, "variables")
}

func TestRender_AlignsAndSorts(t *testing.T) {
	out := Render(map[string]any{"b": "2", "aaa": "1"}, DefaultMaxDepth)
	assert.Equal(t, "\r\naaa: 1\r\nb:   2", out)
}

func TestRender_NumericKeysFirst(t *testing.T) {
	out := Render(map[string]any{"10": "ten", "2": "two", "x": "ex"}, DefaultMaxDepth)
	assert.Equal(t, "\r\n2:  two\r\n10: ten\r\nx:  ex", out)
}

func TestRender_Lists(t *testing.T) {
	out := Render([]any{"a", 1.0, nil, true}, DefaultMaxDepth)
	assert.Equal(t, "\r\n0: a\r\n1: 1\r\n2: \r\n3: true", out)
}

func TestRender_MaxDepth(t *testing.T) {
	nested := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": map[string]any{"d": "deep"},
			},
		},
	}

	out := Render(nested, DefaultMaxDepth)
	assert.Contains(t, out, "\t\tc: "+MaxDepthMarker)
	assert.NotContains(t, out, "deep")
}

func TestRender_Scalar(t *testing.T) {
	assert.Equal(t, "plain", Render("plain", DefaultMaxDepth))
	assert.Equal(t, "", Render(nil, DefaultMaxDepth))
	assert.Equal(t, "", Render(map[string]any{}, DefaultMaxDepth))
}

func TestGlobalsDump_StripsSessionToken(t *testing.T) {
	out := GlobalsDump(
		map[string]any{"_security_main": "serialized-token", "cart": "3 items"},
		map[string]string{"theme": "dark"},
		DefaultSessionTokenKey, DefaultMaxDepth,
	)

	assert.True(t, strings.HasPrefix(out, "\nSession variables: \n"))
	assert.Contains(t, out, "cart: 3 items")
	assert.Contains(t, out, "\n\nCookie variables: \n\r\ntheme: dark")
	assert.NotContains(t, out, "serialized-token")
}

func TestServerDump_Format(t *testing.T) {
	out := ServerDump(map[string]string{"SERVER_NAME": "shop", "HTTPS": "on"}, DefaultMaxDepth)
	assert.Equal(t, "Server variables: \n\r\nHTTPS:       on\r\nSERVER_NAME: shop", out)
}

func newAssembler(sender notify.Sender) *Assembler {
	return New(Config{
		From:          notify.Address{Email: "crash@example.com"},
		To:            []notify.Address{{Email: "ops@example.com"}},
		SystemVersion: "1.4.2",
	}, sender, logger.Nop())
}

func TestAssembler_Build(t *testing.T) {
	a := newAssembler(&notifytest.Recorder{})
	msg := a.Build(Input{
		User:         "alice",
		ErrorMessage: "DB down",
		Backtrace:    "#0 main.handler",
		Annotation:   "could not remove artifact",
		Request:      loginSnapshot(),
		Response: request.Response{
			Protocol: "HTTP/1.1",
			Status:   http.StatusInternalServerError,
			Header:   http.Header{"Content-Type": {"text/plain"}},
			Body:     []byte("Internal Server Error"),
		},
		Session: map[string]any{"_security_main": "token", "cart": "1"},
	})

	assert.Equal(t, "Exception Handler: 500 error at /login?next=%2Forders", msg.Subject)
	assert.Equal(t, notify.TemplateException, msg.TemplateID)
	assert.Equal(t, "DB down", msg.Context["errorMessage"])
	assert.Equal(t, "alice", msg.Context["user"])
	assert.Equal(t, "POST", msg.Context["method"])
	assert.Equal(t, "shop.example.com", msg.Context["host"])
	assert.Equal(t, "1.4.2", msg.Context["systemVersion"])
	assert.Equal(t, "could not remove artifact", msg.Context["annotation"])

	require.Len(t, msg.Attachments, 5)
	names := make([]string, 0, 5)
	byName := make(map[string]string)
	for _, att := range msg.Attachments {
		names = append(names, att.Filename)
		byName[att.Filename] = string(att.Content)
	}
	assert.Equal(t, []string{ServerAttachment, BacktraceAttachment, RequestAttachment, ResponseAttachment, GlobalsAttachment}, names)
	assert.Equal(t, "#0 main.handler", byName[BacktraceAttachment])
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\nContent-Type: text/plain\r\n\r\n", byName[ResponseAttachment])
	assert.NotContains(t, byName[GlobalsAttachment], "token")
}

func TestAssembler_Build_DefaultStatus(t *testing.T) {
	a := New(Config{SubjectPrefix: "Shop"}, nil, logger.Nop())
	msg := a.Build(Input{Request: request.Snapshot{URI: "/x"}})
	assert.Equal(t, "Shop: 500 error at /x", msg.Subject)
}

func TestAssembler_Send(t *testing.T) {
	rec := &notifytest.Recorder{}
	a := newAssembler(rec)

	require.NoError(t, a.Send(context.Background(), Input{ErrorMessage: "DB down", Request: loginSnapshot()}))
	require.Equal(t, 1, rec.Len())
	assert.Equal(t, []notify.Address{{Email: "ops@example.com"}}, rec.Messages()[0].To)
}

func TestAssembler_Send_TransportFailure(t *testing.T) {
	a := newAssembler(&notifytest.Recorder{Err: errors.New("connection refused")})

	err := a.Send(context.Background(), Input{Request: loginSnapshot()})
	require.Error(t, err)
	assert.True(t, crerrors.Is(err, crerrors.ErrTransport))
}

func TestAssembler_Send_NoSender(t *testing.T) {
	a := newAssembler(nil)
	err := a.Send(context.Background(), Input{Request: loginSnapshot()})
	assert.True(t, crerrors.Is(err, crerrors.ErrTransport))
}

func TestAssembler_BuildUploadFailed(t *testing.T) {
	a := newAssembler(nil)
	msg := a.BuildUploadFailed("*errors.errorString", errors.New("bucket unavailable"), "#0 main.handler")

	assert.Equal(t, "Exception Handler: Failed to upload backtrace", msg.Subject)
	assert.Equal(t, notify.TemplateUploadFailed, msg.TemplateID)
	assert.Equal(t, "bucket unavailable", msg.Context["exception"])
	assert.Equal(t, "*errors.errorString", msg.Context["type"])
	assert.Equal(t, "#0 main.handler", msg.Context["backtrace"])
	assert.Empty(t, msg.Attachments)
}

func TestAssembler_SendUploadFailed(t *testing.T) {
	rec := &notifytest.Recorder{}
	a := newAssembler(rec)

	require.NoError(t, a.SendUploadFailed(context.Background(), "panic", errors.New("disk full"), "bt"))
	require.Equal(t, 1, rec.Len())
	assert.Equal(t, notify.TemplateUploadFailed, rec.Messages()[0].TemplateID)
}
