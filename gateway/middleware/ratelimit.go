package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"zapspay/observability"
)

// RateLimitConfig throttles requests per client. The client identity is the
// authenticated subject when present, otherwise the remote IP.
type RateLimitConfig struct {
	RequestsPerMinute float64
	Burst             int
	IdleEviction      time.Duration
}

// RateLimiter enforces a token-bucket limit per API client.
type RateLimiter struct {
	cfg     RateLimitConfig
	metrics *observability.GatewayMetrics

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cfg RateLimitConfig, metrics *observability.GatewayMetrics) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleEviction <= 0 {
		cfg.IdleEviction = 5 * time.Minute
	}
	return &RateLimiter{
		cfg:      cfg,
		metrics:  metrics,
		visitors: make(map[string]*visitor),
	}
}

// Middleware rejects over-limit requests with 429. The route label is only
// used for metrics.
func (rl *RateLimiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.obtain(clientID(r)).Allow() {
				rl.metrics.RecordThrottle(route, "rate_limit")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) obtain(id string) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if entry, ok := rl.visitors[id]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	rl.evictIdle(now)
	limiter := rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerMinute/60.0), rl.cfg.Burst)
	rl.visitors[id] = &visitor{limiter: limiter, lastSeen: now}
	return limiter
}

// evictIdle runs under the mutex whenever a new client shows up, which
// bounds the visitor map without a background goroutine.
func (rl *RateLimiter) evictIdle(now time.Time) {
	for id, entry := range rl.visitors {
		if now.Sub(entry.lastSeen) > rl.cfg.IdleEviction {
			delete(rl.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	if subject, ok := r.Context().Value(ContextKeySubject).(string); ok && subject != "" {
		return subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
