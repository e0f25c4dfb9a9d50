package request

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTP_Form(t *testing.T) {
	body := "username=alice&password=secret123&address[city]=Ghent&tags[]=a&tags[]=b"
	r := httptest.NewRequest("POST", "http://shop.example.com:8080/login?next=%2Forders", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("Authorization", "Bearer abc")
	r.AddCookie(&http.Cookie{Name: "REMEMBERME", Value: "token"})
	r.SetBasicAuth("alice", "pw")

	s := FromHTTP(r, []byte(body))

	assert.Equal(t, "POST", s.Method)
	assert.Equal(t, "/login?next=%2Forders", s.URI)
	assert.Equal(t, "/login", s.Path)
	assert.Equal(t, "http://shop.example.com:8080", s.BaseURL())
	assert.Equal(t, "HTTP/1.1", s.Protocol)

	assert.Equal(t, "secret123", s.Request["password"])
	assert.Equal(t, map[string]any{"city": "Ghent"}, s.Request["address"])
	assert.Equal(t, map[string]any{"0": "a", "1": "b"}, s.Request["tags"])
	assert.Equal(t, "/orders", s.Query["next"])
	assert.Equal(t, "token", s.Cookies["REMEMBERME"])

	assert.Equal(t, "shop.example.com", s.Server["SERVER_NAME"])
	assert.Equal(t, "8080", s.Server["SERVER_PORT"])
	assert.Equal(t, "Basic YWxpY2U6cHc=", s.Server["HTTP_AUTHORIZATION"])
	assert.Equal(t, "pw", s.Server["AUTH_PW"])
	assert.Equal(t, "alice", s.Server["REMOTE_USER"])
	assert.Equal(t, "shop.example.com:8080", s.Headers.Get("Host"))
}

func TestFromHTTP_JSON(t *testing.T) {
	body := `{"order":{"id":7,"lines":[1,2]},"password":"x"}`
	r := httptest.NewRequest("PUT", "/orders/7", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")

	s := FromHTTP(r, []byte(body))

	require.Contains(t, s.Request, "order")
	assert.Equal(t, "x", s.Request["password"])
	order := s.Request["order"].(map[string]any)
	assert.Equal(t, float64(7), order["id"])
}

func TestFromHTTP_UnknownBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/upload", nil)
	r.Header.Set("Content-Type", "application/octet-stream")
	s := FromHTTP(r, []byte{0x01, 0x02})
	assert.Empty(t, s.Request)
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	s := Snapshot{
		Headers: http.Header{"Cookie": {"a=b"}},
		Request: map[string]any{"nested": map[string]any{"password": "x"}},
		Cookies: map[string]string{"PHPSESSID": "1"},
		Server:  map[string]string{"HTTP_COOKIE": "a=b"},
	}
	c := s.Clone()

	c.Headers.Set("Cookie", "changed")
	c.Request["nested"].(map[string]any)["password"] = "changed"
	c.Cookies["PHPSESSID"] = "changed"
	c.Server["HTTP_COOKIE"] = "changed"

	assert.Equal(t, "a=b", s.Headers.Get("Cookie"))
	assert.Equal(t, "x", s.Request["nested"].(map[string]any)["password"])
	assert.Equal(t, "1", s.Cookies["PHPSESSID"])
	assert.Equal(t, "a=b", s.Server["HTTP_COOKIE"])
}

func TestParseParams_Brackets(t *testing.T) {
	values := url.Values{
		"a":       {"1", "2"},
		"m[x][y]": {"deep"},
		"broken[": {"b"},
		"list[]":  {"p", "q"},
		"list[5]": {"r"},
		"[nokey]": {"n"},
	}
	got := ParseParams(values)

	assert.Equal(t, "2", got["a"])
	assert.Equal(t, map[string]any{"x": map[string]any{"y": "deep"}}, got["m"])
	assert.Equal(t, "b", got["broken["])
	assert.Equal(t, "n", got["[nokey]"])
	// names are applied in sorted order, so list[5] is set before the appends
	assert.Equal(t, map[string]any{"5": "r", "6": "p", "7": "q"}, got["list"])
}

func TestHeaderString_Format(t *testing.T) {
	h := http.Header{
		"Content-Type": {"text/html"},
		"X-Id":         {"1", "2"},
	}
	want := "Content-Type: text/html\r\n" +
		"X-Id:         1\r\n" +
		"X-Id:         2\r\n"
	assert.Equal(t, want, HeaderString(h))
	assert.Equal(t, "", HeaderString(nil))
}

func TestResponse_StringAndSplitHead(t *testing.T) {
	resp := Response{
		Protocol: "HTTP/1.1",
		Status:   500,
		Header:   http.Header{"Content-Type": {"text/plain"}},
		Body:     []byte("Internal error"),
	}
	full := resp.String()
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\nContent-Type: text/plain\r\n\r\nInternal error", full)

	head := SplitHead(full, string(resp.Body))
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\nContent-Type: text/plain\r\n\r\n", head)

	assert.Equal(t, full, SplitHead(full, ""))
	assert.Equal(t, full, SplitHead(full, "not there"))

	// body text that also appears in the status line
	full = "HTTP/1.1 500 Internal Server Error\r\n\r\nInternal Server Error"
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\n\r\n", SplitHead(full, "Internal Server Error"))
	assert.Equal(t, "HTTP/1.1 500 ", SplitHead("HTTP/1.1 500 Internal Server Error\r\n\r\nbody", "Internal Server Error"))
}
