package httpserver

import (
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
	"github.com/fairyhunter13/chat-orchestrator/internal/security"
)

// RequestID assigns a ULID to each request and threads it through context and
// the X-Request-Id response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := observability.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SecurityHeaders applies the uniform response headers on every route.
func SecurityHeaders(next http.Handler) http.Handler {
	headers := security.Headers()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// AccessLog writes one structured line per request.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", ClientIP(r),
			"request_id", observability.RequestIDFromContext(r.Context()))
	})
}

// ClientIP resolves the originating address behind proxies: first
// X-Forwarded-For element, then X-Real-IP, then CF-Connecting-IP, then the
// peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit enforces the sliding-window budget for one endpoint class and
// rejects blacklisted addresses. Limiter failures fail open: a degraded Redis
// must not take the API down.
func RateLimit(limiter domain.RateLimiter, class string, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if blocked, err := limiter.IsBlacklisted(r.Context(), ip); err == nil && blocked {
				observability.RateLimitRejectsTotal.WithLabelValues(class).Inc()
				writeError(w, http.StatusForbidden, "FORBIDDEN", "access denied")
				return
			}
			allowed, remaining, err := limiter.Allow(r.Context(), class, ip, limit)
			if err != nil {
				slog.Warn("rate limiter unavailable", "class", class, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				observability.RateLimitRejectsTotal.WithLabelValues(class).Inc()
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
					"Too many requests. Please slow down and try again.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// jitterSleep spreads out lockout responses so attempt timing leaks nothing.
func jitterSleep() {
	time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)
}
