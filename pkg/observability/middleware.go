package observability

import (
	"net/http"
	"strconv"
	"time"
)

// Middleware records sitepix_requests_total and
// sitepix_request_duration_seconds for every request served by next.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := NewStatusWriter(w)
		next.ServeHTTP(sw, r)

		m.RequestsTotal.WithLabelValues(r.Method, statusClass(sw.Status())).Inc()
		m.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// statusClass maps 404 to "4xx".
func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// StatusWriter wraps http.ResponseWriter to capture the status code and
// the number of body bytes written.
type StatusWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

// NewStatusWriter wraps w. The status defaults to 200.
func NewStatusWriter(w http.ResponseWriter) *StatusWriter {
	return &StatusWriter{ResponseWriter: w, status: http.StatusOK}
}

// Status returns the captured status code.
func (w *StatusWriter) Status() int { return w.status }

// BytesWritten returns the number of body bytes written.
func (w *StatusWriter) BytesWritten() int { return w.bytes }

func (w *StatusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	w.written = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *StatusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the original writer.
func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
