package middleware

import (
	"net/http"
	"strings"

	"ctxstore/internal/auth"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/interfaces/http/response"
	"ctxstore/internal/observability"
)

// RateLimit sheds load per principal. Authenticated callers are keyed by
// principal id so every agent gets its own budget; anonymous traffic falls
// back to the client address. Denials carry a Retry-After hint.
func RateLimit(limiter *auth.RateLimiter, metrics *observability.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			allowed, retryAfter := limiter.Allow(key)
			if !allowed {
				if metrics != nil {
					metrics.RateLimitedHits.Inc()
				}
				response.Error(w, r, apperrors.NewRateLimited("rate limit exceeded", retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.ID
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		addr = addr[:idx]
	}
	return addr
}
