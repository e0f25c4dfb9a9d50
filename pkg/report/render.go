package report

import (
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/armorclaw/crashreport/pkg/request"
)

const (
	// DefaultMaxDepth is how many nesting levels Render descends into
	DefaultMaxDepth = 3

	// MaxDepthMarker replaces values nested deeper than the maximum depth
	MaxDepthMarker = "**Maximum recursion level reached**"
)

type entry struct {
	key   string
	value any
}

// Render renders a mapping or list as indented "key: value" lines. Keys are
// sorted, padded to a common column and each line starts with CRLF followed
// by one tab per nesting level. Containers nested maxDepth levels deep are
// replaced by MaxDepthMarker.
func Render(v any, maxDepth int) string {
	return render(v, 0, maxDepth)
}

func render(v any, depth, maxDepth int) string {
	if depth >= maxDepth {
		return MaxDepthMarker
	}

	entries, ok := entriesOf(v)
	if !ok {
		return scalar(v)
	}

	width := 0
	for _, e := range entries {
		if len(e.key) > width {
			width = len(e.key)
		}
	}
	width++

	var sb strings.Builder
	indent := strings.Repeat("\t", depth)
	for _, e := range entries {
		value := scalar(e.value)
		if _, nested := entriesOf(e.value); nested {
			value = render(e.value, depth+1, maxDepth)
		}
		fmt.Fprintf(&sb, "\r\n%s%-*s %s", indent, width, e.key+":", value)
	}
	return sb.String()
}

// entriesOf lists the entries of a container in render order. ok is false
// for scalars.
func entriesOf(v any) (entries []entry, ok bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		for k, val := range t {
			entries = append(entries, entry{k, val})
		}
	case map[string]string:
		for k, val := range t {
			entries = append(entries, entry{k, val})
		}
	case http.Header:
		for k, vals := range t {
			entries = append(entries, entry{k, strings.Join(vals, ", ")})
		}
	case []any:
		for i, val := range t {
			entries = append(entries, entry{strconv.Itoa(i), val})
		}
		return entries, true
	case []string:
		for i, val := range t {
			entries = append(entries, entry{strconv.Itoa(i), val})
		}
		return entries, true
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Map:
			iter := rv.MapRange()
			for iter.Next() {
				entries = append(entries, entry{fmt.Sprint(iter.Key().Interface()), iter.Value().Interface()})
			}
		case reflect.Slice, reflect.Array:
			if rv.Type().Elem().Kind() == reflect.Uint8 {
				return nil, false
			}
			for i := 0; i < rv.Len(); i++ {
				entries = append(entries, entry{strconv.Itoa(i), rv.Index(i).Interface()})
			}
			return entries, true
		default:
			return nil, false
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return keyLess(entries[i].key, entries[j].key)
	})
	return entries, true
}

// keyLess orders numeric keys numerically and before other keys
func keyLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// RequestDump renders the request line, headers and non-empty parameter
// sets of s.
func RequestDump(s request.Snapshot, maxDepth int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s", s.Method, s.URI, s.Protocol)
	sb.WriteString("\r\n\r\nRequest headers:\r\n")
	sb.WriteString(request.HeaderString(s.Headers))
	sb.WriteString("\r\n")

	if len(s.Request) > 0 {
		sb.WriteString("Request 'request' variables:")
		sb.WriteString(Render(s.Request, maxDepth))
		sb.WriteString("\r\n")
	}
	if len(s.Query) > 0 {
		sb.WriteString("Request 'query' variables:")
		sb.WriteString(Render(s.Query, maxDepth))
	}
	return sb.String()
}

// GlobalsDump renders session variables (without tokenKey) and cookies
func GlobalsDump(sessionVars map[string]any, cookies map[string]string, tokenKey string, maxDepth int) string {
	vars := make(map[string]any, len(sessionVars))
	for k, v := range sessionVars {
		if k != tokenKey {
			vars[k] = v
		}
	}
	return "\nSession variables: \n" + Render(vars, maxDepth) +
		"\n\nCookie variables: \n" + Render(cookies, maxDepth)
}

// ServerDump renders the server variables
func ServerDump(server map[string]string, maxDepth int) string {
	return "Server variables: \n" + Render(server, maxDepth)
}
