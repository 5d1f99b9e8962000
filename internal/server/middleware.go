package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/draymonix/pathlens/internal/version"
)

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares to h in order, so the first middleware listed
// runs outermost (first to see the request, last to see the response).
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type requestIDKey struct{}

// RequestIDMiddleware attaches a random request ID to the request context
// and echoes it back on the X-Request-Id response header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request ID attached by RequestIDMiddleware,
// or "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func newRequestID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// RecoveryMiddleware converts a panic in a downstream handler into a 500
// response and logs it, instead of taking down the whole server process.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered in handler",
						zap.Any("recover", rec),
						zap.String("path", r.URL.Path),
					)
					InternalError(w, "internal server error", r.URL.Path)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs each request's method, path, status, and latency.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", RequestIDFromContext(r.Context())),
			)
		})
	}
}

// SecurityHeadersMiddleware sets a conservative baseline of security headers
// on every response.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// VersionHeaderMiddleware stamps every response with the running build's
// short version string.
func VersionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pathlens-Version", version.Short())
		next.ServeHTTP(w, r)
	})
}

// tokenBucket is a simple per-client token bucket: tokens refill
// continuously at rate per second up to burst, one bucket per remote address.
type tokenBucket struct {
	mu     sync.Mutex
	tokens map[string]float64
	last   map[string]time.Time
	rate   float64
	burst  float64
}

// RateLimitMiddleware limits each remote address to rate requests/sec, up to
// burst, exempting the given paths (health/metrics endpoints hit by
// orchestrators shouldn't be throttled).
func RateLimitMiddleware(rate, burst float64, exempt []string) Middleware {
	tb := &tokenBucket{
		tokens: make(map[string]float64),
		last:   make(map[string]time.Time),
		rate:   rate,
		burst:  burst,
	}
	exemptSet := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		exemptSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptSet[r.URL.Path] || !tb.allow(r.RemoteAddr) {
				if !exemptSet[r.URL.Path] {
					RateLimited(w, "rate limit exceeded", r.URL.Path)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (tb *tokenBucket) allow(client string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tokens, ok := tb.tokens[client]
	if !ok {
		tokens = tb.burst
	} else {
		elapsed := now.Sub(tb.last[client]).Seconds()
		tokens += elapsed * tb.rate
		if tokens > tb.burst {
			tokens = tb.burst
		}
	}
	tb.last[client] = now

	if tokens < 1 {
		tb.tokens[client] = tokens
		return false
	}
	tb.tokens[client] = tokens - 1
	return true
}
