// Package request captures immutable snapshots of an HTTP exchange for
// redaction and reporting.
package request

import (
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Snapshot is a copy of the request data a report is built from
type Snapshot struct {
	Method   string
	URI      string // path and query as sent by the client
	Path     string
	Scheme   string
	Host     string
	Protocol string

	Headers http.Header
	Request map[string]any // body parameters
	Query   map[string]any
	Cookies map[string]string
	Server  map[string]string // CGI-style server variables
}

// FromHTTP snapshots r. body is the buffered request body, if any; r.Body is
// not read.
func FromHTTP(r *http.Request, body []byte) Snapshot {
	s := Snapshot{
		Method:   r.Method,
		URI:      r.URL.RequestURI(),
		Path:     r.URL.Path,
		Scheme:   "http",
		Host:     r.Host,
		Protocol: r.Proto,
		Headers:  r.Header.Clone(),
		Query:    ParseParams(r.URL.Query()),
		Request:  parseBody(r.Header.Get("Content-Type"), body),
		Cookies:  make(map[string]string),
	}
	if r.TLS != nil {
		s.Scheme = "https"
	}
	if s.Headers == nil {
		s.Headers = http.Header{}
	}
	if r.Host != "" {
		s.Headers.Set("Host", r.Host)
	}
	for _, c := range r.Cookies() {
		s.Cookies[c.Name] = c.Value
	}
	s.Server = serverVars(r, s)
	return s
}

// BaseURL returns scheme://host
func (s Snapshot) BaseURL() string {
	return s.Scheme + "://" + s.Host
}

// Clone returns a deep copy
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Headers = s.Headers.Clone()
	c.Request = cloneMap(s.Request)
	c.Query = cloneMap(s.Query)
	if s.Cookies != nil {
		c.Cookies = make(map[string]string, len(s.Cookies))
		for k, v := range s.Cookies {
			c.Cookies[k] = v
		}
	}
	if s.Server != nil {
		c.Server = make(map[string]string, len(s.Server))
		for k, v := range s.Server {
			c.Server[k] = v
		}
	}
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func serverVars(r *http.Request, s Snapshot) map[string]string {
	vars := map[string]string{
		"REQUEST_METHOD":  r.Method,
		"REQUEST_URI":     s.URI,
		"QUERY_STRING":    r.URL.RawQuery,
		"SERVER_PROTOCOL": r.Proto,
		"REQUEST_SCHEME":  s.Scheme,
		"REMOTE_ADDR":     r.RemoteAddr,
	}

	host := r.Host
	if h, port, err := net.SplitHostPort(r.Host); err == nil {
		host = h
		vars["SERVER_PORT"] = port
	}
	vars["SERVER_NAME"] = host
	if r.TLS != nil {
		vars["HTTPS"] = "on"
	}

	for name, values := range s.Headers {
		vars[ServerHeaderKey(name)] = strings.Join(values, ", ")
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		vars["CONTENT_TYPE"] = ct
	}
	if r.ContentLength > 0 {
		vars["CONTENT_LENGTH"] = strconv.FormatInt(r.ContentLength, 10)
	}
	if user, pass, ok := r.BasicAuth(); ok {
		vars["AUTH_TYPE"] = "Basic"
		vars["REMOTE_USER"] = user
		vars["AUTH_PW"] = pass
	}
	return vars
}

// ServerHeaderKey returns the server variable a header is copied to
func ServerHeaderKey(name string) string {
	return "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func parseBody(contentType string, body []byte) map[string]any {
	if len(body) == 0 {
		return map[string]any{}
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return map[string]any{}
	}

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return map[string]any{}
		}
		return ParseParams(values)
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		out := map[string]any{}
		if err := json.Unmarshal(body, &out); err != nil {
			return map[string]any{}
		}
		return out
	default:
		return map[string]any{}
	}
}

// ParseParams turns url.Values into a nested map. Bracketed names nest:
// "user[address][city]=X" becomes {"user": {"address": {"city": "X"}}} and
// "tags[]=a&tags[]=b" becomes {"tags": {"0": "a", "1": "b"}}. A repeated
// plain name keeps its last value.
func ParseParams(values url.Values) map[string]any {
	out := make(map[string]any)
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := splitName(name)
		for _, v := range values[name] {
			setPath(out, path, v)
		}
	}
	return out
}

func splitName(name string) []string {
	i := strings.IndexByte(name, '[')
	if i <= 0 || !strings.HasSuffix(name, "]") {
		return []string{name}
	}

	path := []string{name[:i]}
	rest := name[i:]
	for rest != "" {
		if rest[0] != '[' {
			return []string{name}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{name}
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}
	return path
}

func setPath(m map[string]any, path []string, value string) {
	key := path[0]
	if key == "" {
		key = nextIndex(m)
	}
	if len(path) == 1 {
		m[key] = value
		return
	}

	child, ok := m[key].(map[string]any)
	if !ok {
		child = make(map[string]any)
		m[key] = child
	}
	setPath(child, path[1:], value)
}

func nextIndex(m map[string]any) string {
	next := 0
	for k := range m {
		if n, err := strconv.Atoi(k); err == nil && n >= next {
			next = n + 1
		}
	}
	return strconv.Itoa(next)
}

// HeaderString renders headers one per line, names sorted and padded to a
// common column, each line terminated by CRLF.
func HeaderString(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	names := make([]string, 0, len(h))
	width := 0
	for name := range h {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)
	width++

	var sb strings.Builder
	for _, name := range names {
		for _, v := range h[name] {
			fmt.Fprintf(&sb, "%-*s %s\r\n", width, name+":", v)
		}
	}
	return sb.String()
}
