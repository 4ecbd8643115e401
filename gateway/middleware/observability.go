package middleware

import (
	"net/http"
	"strings"
	"time"

	"zapspay/observability"
)

// Metrics records request counts, error counts, and latency for a route.
func Metrics(metrics *observability.GatewayMetrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			metrics.Observe(route, r.Method, recorder.status, time.Since(start))
		})
	}
}

// responseRecorder captures the status code and body written by a handler.
// The idempotency layer replays the body; the metrics layer only needs the
// status.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   strings.Builder
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.body.Write(b)
	return rr.ResponseWriter.Write(b)
}
