package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reqctx "ctxstore/internal/context"
	apperrors "ctxstore/internal/errors"
)

func record(t *testing.T, write func(w http.ResponseWriter, r *http.Request)) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	req := httptest.NewRequest("POST", "/tools/store_context", nil)
	req = req.WithContext(reqctx.WithTraceID(req.Context(), "trace-1"))
	w := httptest.NewRecorder()

	write(w, req)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestOKEnvelope(t *testing.T) {
	w, env := record(t, func(w http.ResponseWriter, r *http.Request) {
		OK(w, r, map[string]string{"id": "ctx-1"},
			[]Warning{{Kind: "partial_success", Message: "kv store failed"}},
			Millis(42*time.Millisecond, nil))
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
	assert.Equal(t, "trace-1", env.TraceID)
	require.Len(t, env.Warnings, 1)
	assert.Equal(t, "partial_success", env.Warnings[0].Kind)
	require.NotNil(t, env.Timings)
	assert.InDelta(t, 42.0, env.Timings.Total, 0.001)
}

func TestErrorEnvelopeStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{apperrors.NewValidation("bad input"), http.StatusBadRequest, "validation"},
		{apperrors.NewAuthRequired("key required"), http.StatusUnauthorized, "auth_required"},
		{apperrors.NewForbidden("reader cannot store"), http.StatusForbidden, "auth_forbidden"},
		{apperrors.NewNotFound("no such context"), http.StatusNotFound, "not_found"},
		{apperrors.NewConflict("locked"), http.StatusConflict, "conflict"},
		{apperrors.NewRateLimited("slow down", time.Second), http.StatusTooManyRequests, "rate_limited"},
		{apperrors.NewUnavailable("graph", nil), http.StatusServiceUnavailable, "backend_unavailable"},
		{apperrors.NewInternal("boom", nil), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			w, env := record(t, func(w http.ResponseWriter, r *http.Request) {
				Error(w, r, tc.err)
			})

			assert.Equal(t, tc.status, w.Code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.kind, env.Error.Kind)
			assert.Equal(t, "trace-1", env.TraceID)
		})
	}
}

func TestEnvelopeKeysAlwaysPresent(t *testing.T) {
	bodies := map[string]func(w http.ResponseWriter, r *http.Request){
		"success": func(w http.ResponseWriter, r *http.Request) {
			OK(w, r, map[string]string{"id": "ctx-1"}, nil, Millis(time.Millisecond, nil))
		},
		"failure": func(w http.ResponseWriter, r *http.Request) {
			Error(w, r, apperrors.NewNotFound("gone"))
		},
	}

	for name, write := range bodies {
		t.Run(name, func(t *testing.T) {
			w, _ := record(t, write)

			var raw map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
			for _, key := range []string{"success", "warnings", "error", "trace_id"} {
				assert.Contains(t, raw, key)
			}
		})
	}
}

func TestForeignErrorsAreMasked(t *testing.T) {
	w, env := record(t, func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, errors.New("pq: connection reset while talking to 10.1.2.3"))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "internal", env.Error.Kind)
	assert.Equal(t, "internal error", env.Error.Message)
	assert.NotContains(t, w.Body.String(), "10.1.2.3")
}

func TestRetryAfterRoundsUp(t *testing.T) {
	w, _ := record(t, func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, apperrors.NewRateLimited("slow down", 1200*time.Millisecond))
	})

	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestValidationDetailsSurvive(t *testing.T) {
	err := apperrors.NewValidation("request validation failed").
		WithDetail("type", "must be one of design decision trace sprint log test")

	_, env := record(t, func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, err)
	})

	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Details, "type")
}

func TestMillisConvertsPerBackend(t *testing.T) {
	timings := Millis(100*time.Millisecond, map[string]time.Duration{
		"vector": 30 * time.Millisecond,
		"graph":  1500 * time.Microsecond,
	})

	assert.InDelta(t, 100.0, timings.Total, 0.001)
	assert.InDelta(t, 30.0, timings.PerBackend["vector"], 0.001)
	assert.InDelta(t, 1.5, timings.PerBackend["graph"], 0.001)
}
