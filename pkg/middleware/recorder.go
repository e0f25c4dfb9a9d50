package middleware

import (
	"bytes"
	"net/http"

	"github.com/armorclaw/crashreport/pkg/request"
)

// maxRecordedBody caps how much of a response body is kept for the report
const maxRecordedBody = 64 << 10

// recorder passes writes through to the client and keeps a copy of the
// status, headers and body
type recorder struct {
	http.ResponseWriter

	status      int
	header      http.Header
	body        bytes.Buffer
	wroteHeader bool
}

func newRecorder(w http.ResponseWriter) *recorder {
	return &recorder{ResponseWriter: w}
}

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.header = r.ResponseWriter.Header().Clone()
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	if room := maxRecordedBody - r.body.Len(); room > 0 {
		r.body.Write(p[:min(len(p), room)])
	}
	return r.ResponseWriter.Write(p)
}

func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		if !r.wroteHeader {
			r.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// response returns what was sent so far. A handler that wrote nothing
// produced an empty 200.
func (r *recorder) response(proto string) request.Response {
	status, header := r.status, r.header
	if !r.wroteHeader {
		status = http.StatusOK
		header = r.ResponseWriter.Header().Clone()
	}
	return request.Response{
		Protocol: proto,
		Status:   status,
		Header:   header,
		Body:     bytes.Clone(r.body.Bytes()),
	}
}
