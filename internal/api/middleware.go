package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/finscenario/scenariomap/internal/core"
)

// keyValidator is the part of the engine the auth middleware needs. The
// engine answers from its live config so reloaded keys apply immediately.
type keyValidator interface {
	AuthEnabled() bool
	ValidateAPIKey(key string) bool
}

// authMiddleware enforces API key authentication on all endpoints except /health.
// Keys are accepted as "Authorization: Bearer <key>" or "X-API-Key: <key>".
func authMiddleware(next http.Handler, keys keyValidator, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		// No keys configured: open mode.
		if !keys.AuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if auth := r.Header.Get("Authorization"); auth != "" {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "missing authentication, provide Authorization: Bearer <key> or X-API-Key header",
			})
			return
		}

		if !keys.ValidateAPIKey(key) {
			logger.Warn().Str("path", r.URL.Path).Str("ip", clientIP(r)).Msg("invalid API key")
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid API key"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ipLimiter is a per-IP token bucket rate limiter.
type ipLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	perSecond float64
	burst     float64
	lastSweep time.Time
}

type tokenBucket struct {
	tokens    float64
	maxTokens float64
	lastTime  time.Time
}

func (b *tokenBucket) allow(rate float64, now time.Time) bool {
	elapsed := now.Sub(b.lastTime).Seconds()
	b.lastTime = now
	b.tokens += elapsed * rate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func newIPLimiter(perMinute int) *ipLimiter {
	burst := float64(perMinute) / 6 // ten seconds of traffic
	if burst < 5 {
		burst = 5
	}
	return &ipLimiter{
		buckets:   make(map[string]*tokenBucket),
		perSecond: float64(perMinute) / 60,
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > 5*time.Minute {
		cutoff := now.Add(-10 * time.Minute)
		for k, b := range l.buckets {
			if b.lastTime.Before(cutoff) {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &tokenBucket{tokens: l.burst, maxTokens: l.burst, lastTime: now}
		l.buckets[ip] = b
	}
	return b.allow(l.perSecond, now)
}

// rateLimitMiddleware limits each client IP to requestsPerMinute. Zero or
// less disables limiting.
func rateLimitMiddleware(next http.Handler, requestsPerMinute int) http.Handler {
	if requestsPerMinute <= 0 {
		return next
	}
	limiter := newIPLimiter(requestsPerMinute)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded, try again shortly",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware reads the allowed origins from the engine on every request so
// reloaded origins apply without a restart.
func corsMiddleware(next http.Handler, engine *core.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := engine.ServerSettings().CORSOrigins
		origin := r.Header.Get("Origin")
		allowed := "*"
		if len(allowedOrigins) > 0 {
			allowed = ""
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = origin
					break
				}
			}
			if allowed == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Actor")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
