package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/interfaces/http/response"
)

// Recovery turns handler panics into structured 500 responses instead of
// dropped connections. The stack trace goes to the log, never to the caller.
func Recovery(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						zap.Any("panic", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)

					// If the handler already wrote a response the
					// connection is beyond saving.
					if w.Header().Get("Content-Type") == "" {
						err := apperrors.NewInternal("internal error", fmt.Errorf("panic: %v", rec))
						response.Error(w, r, err)
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
