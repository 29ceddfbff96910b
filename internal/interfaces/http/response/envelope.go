// Package response writes the wire envelope every tool endpoint shares.
// Success and failure take the same shape, so clients parse one structure.
// The success, warnings, error and trace_id keys are present on every
// response; callers must inspect warnings even when success is true:
//
//	{"success": true, "data": {...}, "warnings": [...], "error": null, "trace_id": "...", "timings_ms": {...}}
//	{"success": false, "warnings": [], "error": {"kind": "...", "message": "...", "details": {...}}, "trace_id": "..."}
package response

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	reqctx "ctxstore/internal/context"
	apperrors "ctxstore/internal/errors"
)

// Warning is a non-fatal degradation inside a successful call.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorBody is the failure half of the envelope. Details never carry
// internals; the wrapped cause stays in the server log.
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Timings reports elapsed milliseconds, total and per backend.
type Timings struct {
	Total      float64            `json:"total"`
	PerBackend map[string]float64 `json:"per_backend,omitempty"`
}

// Envelope is the body of every response.
type Envelope struct {
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Warnings []Warning  `json:"warnings"`
	Error    *ErrorBody `json:"error"`
	TraceID  string     `json:"trace_id"`
	Timings  *Timings   `json:"timings_ms,omitempty"`
}

// statusOf maps error kinds onto HTTP status codes.
var statusOf = map[apperrors.Kind]int{
	apperrors.KindValidation:   http.StatusBadRequest,
	apperrors.KindAuthRequired: http.StatusUnauthorized,
	apperrors.KindForbidden:    http.StatusForbidden,
	apperrors.KindNotFound:     http.StatusNotFound,
	apperrors.KindConflict:     http.StatusConflict,
	apperrors.KindRateLimited:  http.StatusTooManyRequests,
	apperrors.KindUnavailable:  http.StatusServiceUnavailable,
	apperrors.KindInternal:     http.StatusInternalServerError,
}

// Status returns the HTTP status for an error.
func Status(err error) int {
	if code, ok := statusOf[apperrors.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// OK writes a success envelope.
func OK(w http.ResponseWriter, r *http.Request, data any, warnings []Warning, timings *Timings) {
	if warnings == nil {
		warnings = []Warning{}
	}
	writeJSON(w, r, http.StatusOK, Envelope{
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Timings:  timings,
	})
}

// Error writes a failure envelope. Rate-limited errors additionally carry a
// Retry-After header, rounded up to whole seconds.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	appErr := asAppError(err)
	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(appErr.RetryAfter)))
	}
	writeJSON(w, r, Status(err), Envelope{
		Success:  false,
		Warnings: []Warning{},
		Error: &ErrorBody{
			Kind:    string(appErr.Kind),
			Message: appErr.Message,
			Details: appErr.Details,
		},
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, env Envelope) {
	if env.TraceID == "" {
		env.TraceID, _ = reqctx.TraceIDFrom(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

// asAppError keeps foreign errors opaque: the client sees kind internal and
// a fixed message, never the underlying text.
func asAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &apperrors.AppError{Kind: apperrors.KindInternal, Message: "internal error"}
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// Millis converts per-backend durations into the wire timing shape.
func Millis(total time.Duration, perBackend map[string]time.Duration) *Timings {
	t := &Timings{Total: float64(total.Microseconds()) / 1000}
	if len(perBackend) > 0 {
		t.PerBackend = make(map[string]float64, len(perBackend))
		for name, d := range perBackend {
			t.PerBackend[name] = float64(d.Microseconds()) / 1000
		}
	}
	return t
}
