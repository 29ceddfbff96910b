package middleware

import (
	"net/http"

	"github.com/google/uuid"

	reqctx "ctxstore/internal/context"
)

// TraceID tags every request with a trace id. An inbound X-Request-ID is
// honored so callers can correlate across services; otherwise one is
// generated. The id rides the request context into every log line and
// response envelope, and is echoed back in the response header.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Request-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := reqctx.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Request-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
