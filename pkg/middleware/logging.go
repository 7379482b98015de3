package middleware

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/metrics"
)

// RequestLogger returns middleware that logs HTTP requests at DEBUG level
// and records request count and latency metrics. Pass a nil logger to
// disable logging; pass nil metrics to disable instrumentation.
func RequestLogger(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			elapsed := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}

			if m != nil {
				m.HTTPRequests.WithLabelValues(route, statusClass(wrapped.statusCode)).Inc()
				m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
			}
			if logger != nil {
				logger.Debug("HTTP request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", wrapped.statusCode),
					zap.Duration("duration", elapsed),
					zap.String("remote_addr", r.RemoteAddr),
				)
			}
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
