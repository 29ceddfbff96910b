package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(perMinute int) (*RateLimiter, *time.Time) {
	l := NewRateLimiter(perMinute)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRateLimiterBurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("alice")
		require.True(t, ok, "request %d should pass", i)
	}
	ok, retry := l.Allow("alice")
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, 20*time.Second)
}

func TestRateLimiterRefills(t *testing.T) {
	l, now := newTestLimiter(60)
	defer l.Stop()

	for i := 0; i < 60; i++ {
		ok, _ := l.Allow("alice")
		require.True(t, ok)
	}
	ok, _ := l.Allow("alice")
	require.False(t, ok)

	// One refill interval restores exactly one token.
	*now = now.Add(time.Second)
	ok, _ = l.Allow("alice")
	assert.True(t, ok)
	ok, _ = l.Allow("alice")
	assert.False(t, ok)
}

func TestRateLimiterKeysIndependent(t *testing.T) {
	l, _ := newTestLimiter(1)
	defer l.Stop()

	ok, _ := l.Allow("alice")
	require.True(t, ok)
	ok, _ = l.Allow("alice")
	require.False(t, ok)

	ok, _ = l.Allow("bob")
	assert.True(t, ok)
}

func TestRateLimiterDisabled(t *testing.T) {
	l := NewRateLimiter(0)
	defer l.Stop()

	for i := 0; i < 1000; i++ {
		ok, retry := l.Allow("anyone")
		require.True(t, ok)
		require.Zero(t, retry)
	}
}

func TestRateLimiterCapDoesNotExceedCapacity(t *testing.T) {
	l, now := newTestLimiter(2)
	defer l.Stop()

	ok, _ := l.Allow("alice")
	require.True(t, ok)

	// A long idle period refills to capacity, not beyond.
	*now = now.Add(time.Hour)
	ok, _ = l.Allow("alice")
	require.True(t, ok)
	ok, _ = l.Allow("alice")
	require.True(t, ok)
	ok, _ = l.Allow("alice")
	assert.False(t, ok)
}
