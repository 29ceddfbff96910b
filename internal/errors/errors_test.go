package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Run("WithoutCause", func(t *testing.T) {
		err := NewValidation("title is required")
		assert.Equal(t, "validation: title is required", err.Error())
	})

	t.Run("WithCause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewUnavailable("vector", cause)
		assert.Equal(t, "backend_unavailable: vector backend unavailable: connection refused", err.Error())
		assert.Equal(t, "vector", err.Details["backend"])
	})
}

func TestWrapPreservesKind(t *testing.T) {
	t.Run("WrapValidation", func(t *testing.T) {
		err := Wrap(NewValidation("bad type"), "store context")
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Equal(t, "validation: store context: bad type", err.Error())
	})

	t.Run("WrapForeignError", func(t *testing.T) {
		err := Wrap(errors.New("boom"), "store context")
		assert.True(t, IsInternal(err))
	})

	t.Run("WrapNil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, "anything"))
	})

	t.Run("WrapKeepsDetailsAndRetryAfter", func(t *testing.T) {
		inner := NewRateLimited("too many requests", 2*time.Second).WithDetail("principal", "agent-7")
		err := Wrap(inner, "retrieve")
		var appErr *AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, 2*time.Second, appErr.RetryAfter)
		assert.Equal(t, "agent-7", appErr.Details["principal"])
	})
}

func TestWrapThroughFmtChain(t *testing.T) {
	// Predicates must see through %w wrapping done outside this package.
	inner := NewNotFound("context missing")
	outer := fmt.Errorf("while purging: %w", inner)
	assert.True(t, IsNotFound(outer))
	assert.Equal(t, KindNotFound, KindOf(outer))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConflict, KindOf(NewConflict("lock held")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"Validation", NewValidation("x"), IsValidation},
		{"AuthRequired", NewAuthRequired("x"), IsAuthRequired},
		{"Forbidden", NewForbidden("x"), IsForbidden},
		{"NotFound", NewNotFound("x"), IsNotFound},
		{"Unavailable", NewUnavailable("kv", nil), IsUnavailable},
		{"Partial", NewPartial("x"), IsPartial},
		{"RateLimited", NewRateLimited("x", time.Second), IsRateLimited},
		{"Conflict", NewConflict("x"), IsConflict},
		{"Internal", NewInternal("x", nil), IsInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.pred(tc.err))
			assert.False(t, tc.pred(errors.New("other")))
		})
	}
}
