package request

import (
	"fmt"
	"net/http"
	"strings"
)

// Response is a copy of the response sent for a request
type Response struct {
	Protocol string
	Status   int
	Header   http.Header
	Body     []byte
}

// String renders the full response: status line, headers, blank line, body
func (r Response) String() string {
	proto := r.Protocol
	if proto == "" {
		proto = "HTTP/1.1"
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d %s\r\n", proto, status, http.StatusText(status))
	sb.WriteString(HeaderString(r.Header))
	sb.WriteString("\r\n")
	sb.Write(r.Body)
	return sb.String()
}

// SplitHead returns the part of full that precedes body. A trailing body is
// cut off; otherwise full is split at the first occurrence of body. With an
// empty or absent body the whole text is returned.
func SplitHead(full, body string) string {
	if body == "" {
		return full
	}
	if strings.HasSuffix(full, body) {
		return full[:len(full)-len(body)]
	}
	if i := strings.Index(full, body); i >= 0 {
		return full[:i]
	}
	return full
}
