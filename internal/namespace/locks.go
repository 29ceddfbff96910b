package namespace

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ctxstore/internal/config"
	apperrors "ctxstore/internal/errors"
)

// LockStore is the slice of the KV adapter the lock manager needs.
type LockStore interface {
	AcquireLock(ctx context.Context, namespace, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, namespace, token string) (bool, error)
	LockTTL(ctx context.Context, namespace string) (time.Duration, error)
	WriteLease(ctx context.Context, token string, meta map[string]any, ttl time.Duration) error
}

// Lease is a granted namespace lock. The KV expiry is authoritative;
// ExpiresAt is informational and callers must finish before it.
type Lease struct {
	Namespace string        `json:"namespace"`
	Token     string        `json:"token"`
	Holder    string        `json:"holder"`
	TTL       time.Duration `json:"ttl"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// LockManager grants short leases on namespaces.
type LockManager struct {
	kv         LockStore
	logger     *zap.Logger
	minTTL     time.Duration
	maxTTL     time.Duration
	defaultTTL time.Duration
}

// NewLockManager builds the manager with the configured TTL bounds.
func NewLockManager(kv LockStore, cfg config.LockConfig, logger *zap.Logger) *LockManager {
	return &LockManager{
		kv:         kv,
		logger:     logger,
		minTTL:     cfg.MinTTL.Std(),
		maxTTL:     cfg.MaxTTL.Std(),
		defaultTTL: cfg.DefaultTTL.Std(),
	}
}

// Acquire takes the namespace lock for the holder. A zero TTL selects the
// configured default; out-of-bounds TTLs are rejected rather than clamped.
// A held lock returns a conflict.
func (m *LockManager) Acquire(ctx context.Context, path, holder string, ttl time.Duration) (*Lease, error) {
	ns, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	if ttl < m.minTTL || ttl > m.maxTTL {
		return nil, apperrors.NewValidationf("lock ttl %s outside [%s, %s]", ttl, m.minTTL, m.maxTTL)
	}

	token := uuid.NewString()
	ok, err := m.kv.AcquireLock(ctx, ns.Path(), token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewConflict("namespace " + ns.Path() + " is locked")
	}

	lease := &Lease{
		Namespace: ns.Path(),
		Token:     token,
		Holder:    holder,
		TTL:       ttl,
		ExpiresAt: time.Now().Add(ttl),
	}
	meta := map[string]any{
		"namespace":  lease.Namespace,
		"holder":     holder,
		"expires_at": lease.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if err := m.kv.WriteLease(ctx, token, meta, ttl); err != nil {
		m.logger.Warn("lease record write failed", zap.String("namespace", ns.Path()), zap.Error(err))
	}
	return lease, nil
}

// Release gives the lock back. Releasing an expired or never-held lock is
// a no-op; releasing a lock now held under a different token is refused.
func (m *LockManager) Release(ctx context.Context, path, token string) error {
	ns, err := Parse(path)
	if err != nil {
		return err
	}
	owned, err := m.kv.ReleaseLock(ctx, ns.Path(), token)
	if err != nil {
		return err
	}
	if owned {
		return nil
	}
	remaining, err := m.kv.LockTTL(ctx, ns.Path())
	if err != nil {
		return err
	}
	if remaining > 0 {
		return apperrors.NewConflict("lease for " + ns.Path() + " is held by another token")
	}
	return nil
}

// Status reports whether the namespace is locked and for how much longer.
func (m *LockManager) Status(ctx context.Context, path string) (bool, time.Duration, error) {
	ns, err := Parse(path)
	if err != nil {
		return false, 0, err
	}
	remaining, err := m.kv.LockTTL(ctx, ns.Path())
	if err != nil {
		return false, 0, err
	}
	return remaining > 0, remaining, nil
}
