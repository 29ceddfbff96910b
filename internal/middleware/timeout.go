package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/interfaces/http/response"
)

// Timeout caps the total time a request may spend in handlers. The deadline
// propagates through the request context so backends cancel their own work;
// if the handler still has not finished when it fires, the caller gets a
// clean error instead of a hung connection.
func Timeout(timeout time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			r = r.WithContext(ctx)
			done := make(chan struct{})

			go func() {
				defer func() {
					if rec := recover(); rec != nil {
						logger.Error("panic in timed handler",
							zap.Any("panic", rec),
							zap.String("path", r.URL.Path),
						)
					}
				}()
				next.ServeHTTP(w, r)
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				logger.Warn("request deadline exceeded",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Duration("timeout", timeout),
				)
				if w.Header().Get("Content-Type") == "" {
					response.Error(w, r, apperrors.NewInternal("request timed out", ctx.Err()))
				}
			}
		})
	}
}
