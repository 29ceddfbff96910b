package namespace

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ctxstore/internal/config"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/repository/kvstore"
)

func newLockManager(t *testing.T) (*LockManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv := kvstore.New(kvstore.NewClient(mr.Addr(), "", 0), map[string]time.Duration{}, zap.NewNop())
	cfg := config.LockConfig{
		MinTTL:     config.Duration(time.Second),
		MaxTTL:     config.Duration(5 * time.Minute),
		DefaultTTL: config.Duration(30 * time.Second),
	}
	return NewLockManager(kv, cfg, zap.NewNop()), mr
}

func TestAcquireAndRelease(t *testing.T) {
	m, _ := newLockManager(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "/project/p1", "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, "/project/p1/", lease.Namespace)
	assert.Equal(t, 30*time.Second, lease.TTL)
	_, err = uuid.Parse(lease.Token)
	assert.NoError(t, err)

	held, remaining, err := m.Status(ctx, "/project/p1/")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Greater(t, remaining, time.Duration(0))

	require.NoError(t, m.Release(ctx, "/project/p1/", lease.Token))

	held, _, err = m.Status(ctx, "/project/p1/")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAcquireHeldNamespaceConflicts(t *testing.T) {
	m, _ := newLockManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "/project/p1/", "alice", time.Minute)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "/project/p1/", "bob", time.Minute)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	_, err = m.Acquire(ctx, "/project/p2/", "bob", time.Minute)
	assert.NoError(t, err)
}

func TestReleaseWrongTokenRefused(t *testing.T) {
	m, _ := newLockManager(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "/team/t1/", "alice", time.Minute)
	require.NoError(t, err)

	err = m.Release(ctx, "/team/t1/", uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	held, _, err := m.Status(ctx, "/team/t1/")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, m.Release(ctx, "/team/t1/", lease.Token))
}

func TestReleaseAfterExpiryIsNoOp(t *testing.T) {
	m, mr := newLockManager(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "/user/u1/", "alice", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	assert.NoError(t, m.Release(ctx, "/user/u1/", lease.Token))

	_, err = m.Acquire(ctx, "/user/u1/", "bob", time.Second)
	assert.NoError(t, err)
}

func TestAcquireTTLBounds(t *testing.T) {
	m, _ := newLockManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "/project/p1/", "alice", 500*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = m.Acquire(ctx, "/project/p1/", "alice", 10*time.Minute)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestAcquireInvalidNamespace(t *testing.T) {
	m, _ := newLockManager(t)

	_, err := m.Acquire(context.Background(), "/org/x/", "alice", time.Minute)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestLeaseRecordWritten(t *testing.T) {
	m, mr := newLockManager(t)

	lease, err := m.Acquire(context.Background(), "/project/p1/", "alice", time.Minute)
	require.NoError(t, err)

	raw, err := mr.Get("lease:" + lease.Token)
	require.NoError(t, err)
	assert.Contains(t, raw, `"holder":"alice"`)
	assert.Contains(t, raw, `"namespace":"/project/p1/"`)
}
