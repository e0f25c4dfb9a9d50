// Package redact removes sensitive fields from request snapshots before they
// are reported.
package redact

import (
	"net/http"
	"slices"

	"github.com/armorclaw/crashreport/pkg/request"
)

// Marker replaces every redacted value
const Marker = "**REMOVED**"

// Source names a part of the request snapshot
type Source string

const (
	SourceRequest Source = "request"
	SourceServer  Source = "server"
	SourceHeaders Source = "headers"
	SourceCookies Source = "cookies"
)

// redirectPrefix is prepended to server variables copied by internal redirects
const redirectPrefix = "REDIRECT_"

// FieldSet lists the field names to redact per source
type FieldSet map[Source][]string

// DefaultFieldSet returns the built-in sensitive fields
func DefaultFieldSet() FieldSet {
	return FieldSet{
		SourceRequest: {"password", "_password"},
		SourceServer:  {"PHP_AUTH_PW", "AUTH_PW", "HTTP_AUTHORIZATION", "HTTP_COOKIE"},
		SourceHeaders: {"authorization", "cookie", "php-auth-pw"},
		SourceCookies: {"PHPSESSID", "REMEMBERME"},
	}
}

// Override returns a copy of f where every non-empty source in other
// replaces the corresponding list.
func (f FieldSet) Override(other FieldSet) FieldSet {
	out := f.clone()
	for src, fields := range other {
		if len(fields) > 0 {
			out[src] = slices.Clone(fields)
		}
	}
	return out
}

// With returns a copy of f with fields appended to src
func (f FieldSet) With(src Source, fields ...string) FieldSet {
	out := f.clone()
	for _, field := range fields {
		if field != "" && !slices.Contains(out[src], field) {
			out[src] = append(out[src], field)
		}
	}
	return out
}

func (f FieldSet) clone() FieldSet {
	out := make(FieldSet, len(f))
	for src, fields := range f {
		out[src] = slices.Clone(fields)
	}
	return out
}

// Redact returns a copy of s with every configured field present in its
// source replaced by Marker. Server variables are also matched with the
// REDIRECT_ prefix. Header names match case-insensitively and also redact
// their HTTP_ copy in the server variables. s is not modified.
func Redact(s request.Snapshot, fields FieldSet) request.Snapshot {
	out := s.Clone()

	for _, name := range fields[SourceRequest] {
		if _, ok := out.Request[name]; ok {
			out.Request[name] = Marker
		}
	}

	for _, name := range fields[SourceServer] {
		redactServer(out.Server, name)
	}

	for _, name := range fields[SourceHeaders] {
		key := http.CanonicalHeaderKey(name)
		if _, ok := out.Headers[key]; ok {
			out.Headers[key] = []string{Marker}
		}
		redactServer(out.Server, request.ServerHeaderKey(name))
	}

	for _, name := range fields[SourceCookies] {
		if _, ok := out.Cookies[name]; ok {
			out.Cookies[name] = Marker
		}
	}

	return out
}

func redactServer(server map[string]string, name string) {
	for _, key := range []string{name, redirectPrefix + name} {
		if _, ok := server[key]; ok {
			server[key] = Marker
		}
	}
}
