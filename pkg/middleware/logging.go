package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/spraakbanken/mink-backend-sub000/internal/metrics"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// quietPaths are requested so frequently, mostly by the queue scheduler and
// monitoring, that logging each request would drown everything else.
var quietPaths = map[string]bool{
	"/advance-queue": true,
	"/health":        true,
	"/ready":         true,
	"/metrics":       true,
}

// Logging middleware logs HTTP requests and records request metrics.
// The metrics recorder may be nil.
func Logging(met *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			if met != nil {
				met.ObserveRequest(r.Method, r.URL.Path, rw.statusCode, duration)
			}
			if quietPaths[r.URL.Path] {
				return
			}
			slog.Info("HTTP request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status_code", rw.statusCode,
				"duration_ms", duration.Milliseconds(),
				"bytes_written", rw.written,
				"remote_addr", r.RemoteAddr,
				"correlation_id", GetCorrelationID(r.Context()),
			)
		})
	}
}
