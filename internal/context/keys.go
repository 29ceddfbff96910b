// Package context provides shared request-scoped context keys.
package context

import (
	"context"
)

// contextKey is used for context values
type contextKey struct {
	name string
}

// TraceIDKey is the key used to store the request trace id in context.
var TraceIDKey = contextKey{"traceID"}

// TraceIDFrom extracts the trace id from context.
func TraceIDFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(TraceIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// WithTraceID adds a trace id to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}
