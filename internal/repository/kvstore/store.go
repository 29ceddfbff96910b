// Package kvstore adapts Redis as the KV backend. It owns the key families
// for context caches, scratchpads, namespace locks, lock leases, and event
// streams. Every key written here carries an explicit TTL; expiry is the
// correctness mechanism for locks and the retention mechanism for data.
package kvstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/repository"
)

// Key family prefixes.
const (
	prefixCtx     = "ctx:"
	prefixScratch = "scratch:"
	prefixLock    = "lock:"
	prefixLease   = "lease:"
	prefixEvents  = "events:"
)

// releaseScript deletes a lock only while the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Store is the Redis-backed KV adapter.
type Store struct {
	client     *redis.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
	retentions map[string]time.Duration
}

// New builds the adapter. Retentions maps namespace scopes (global,
// project, team, user) to the TTL applied to context copies cached here.
func New(client *redis.Client, retentions map[string]time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client:     client,
		breaker:    repository.NewBreaker("kv", logger),
		logger:     logger,
		retentions: retentions,
	}
}

// NewClient builds the Redis client from configuration.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Ping verifies connectivity, for startup checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Name implements repository.Backend.
func (s *Store) Name() string { return repository.BackendKV }

// Store caches the record under ctx:{id} with the retention TTL of its
// namespace scope. Implements repository.Backend.
func (s *Store) Store(ctx context.Context, rec repository.Record) (string, error) {
	data, err := json.Marshal(rec.Payload)
	if err != nil {
		return "", apperrors.NewInternal("marshal kv payload", err)
	}
	key := prefixCtx + rec.ID
	ttl := s.retentionFor(rec.Namespace)
	_, err = s.breaker.Execute(func() (any, error) {
		return nil, s.set(ctx, key, string(data), ttl)
	})
	if err != nil {
		return "", apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return key, nil
}

// Search implements repository.Backend. The KV backend answers exact-key
// shapes only: a UUID query hits the context cache directly, anything else
// is matched against scratchpad key names. Values are never searched.
func (s *Store) Search(ctx context.Context, q repository.SearchQuery) ([]repository.SearchResult, error) {
	if q.Limit <= 0 || strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	res, err := s.breaker.Execute(func() (any, error) {
		if _, err := uuid.Parse(strings.TrimSpace(q.Text)); err == nil {
			return s.lookupContext(ctx, strings.TrimSpace(q.Text))
		}
		return s.matchScratchKeys(ctx, q)
	})
	if err != nil {
		return nil, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return res.([]repository.SearchResult), nil
}

func (s *Store) lookupContext(ctx context.Context, id string) ([]repository.SearchResult, error) {
	data, err := s.client.Get(ctx, prefixCtx+id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, err
	}
	r := repository.SearchResult{
		ID:      id,
		Score:   1.0,
		Source:  repository.BackendKV,
		Payload: payload,
	}
	if ts, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.CreatedAt = t
		}
	}
	return []repository.SearchResult{r}, nil
}

func (s *Store) matchScratchKeys(ctx context.Context, q repository.SearchQuery) ([]repository.SearchResult, error) {
	pattern := prefixScratch + "*"
	if q.Filters.Author != "" {
		pattern = prefixScratch + q.Filters.Author + ":*"
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var results []repository.SearchResult
	iter := s.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		name := key[strings.LastIndex(key, ":")+1:]
		score := matchScore(strings.ToLower(name), needle)
		if score == 0 {
			continue
		}
		value, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, repository.SearchResult{
			ID:      key,
			Score:   score,
			Source:  repository.BackendKV,
			Payload: map[string]any{"key": name, "value": value},
		})
		if len(results) >= q.Limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// matchScore ranks key-name matches: exact, then prefix, then substring.
func matchScore(name, needle string) float64 {
	switch {
	case name == needle:
		return 1.0
	case strings.HasPrefix(name, needle):
		return 0.8
	case strings.Contains(name, needle):
		return 0.5
	default:
		return 0
	}
}

// Delete implements repository.Backend. Absent keys are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.client.Del(ctx, prefixCtx+id).Err()
	})
	if err != nil {
		return apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return nil
}

// Health implements repository.Backend.
func (s *Store) Health(ctx context.Context) repository.Health {
	if s.breaker.State() == gobreaker.StateOpen {
		return repository.Health{State: repository.Degraded, Message: "circuit breaker open"}
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return repository.Health{State: repository.Unhealthy, Message: err.Error()}
	}
	return repository.Health{State: repository.Healthy}
}

// set is the single write primitive: it refuses TTL-less writes.
func (s *Store) set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return apperrors.NewValidationf("key %q written without a ttl", key)
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Store) retentionFor(namespace string) time.Duration {
	scope := "global"
	if parts := strings.Split(strings.Trim(namespace, "/"), "/"); len(parts) > 0 && parts[0] != "" {
		scope = parts[0]
	}
	if ttl, ok := s.retentions[scope]; ok {
		return ttl
	}
	return 30 * 24 * time.Hour
}

// ---- Scratchpads ----

// SetScratch writes one scratchpad entry. TTL is mandatory.
func (s *Store) SetScratch(ctx context.Context, agentID, key, value string, ttl time.Duration) error {
	return s.set(ctx, prefixScratch+agentID+":"+key, value, ttl)
}

// GetScratch reads one scratchpad entry.
func (s *Store) GetScratch(ctx context.Context, agentID, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, prefixScratch+agentID+":"+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return v, true, nil
}

// ScratchKeys lists an agent's scratchpad key names.
func (s *Store) ScratchKeys(ctx context.Context, agentID string) ([]string, error) {
	prefix := prefixScratch + agentID + ":"
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return keys, nil
}

// DeleteScratch removes all scratchpad entries for an agent key prefix,
// used when a context owning working memory is purged.
func (s *Store) DeleteScratch(ctx context.Context, agentID, key string) error {
	return s.client.Del(ctx, prefixScratch+agentID+":"+key).Err()
}

// ScratchEntry is one scratchpad value with its owner, as scanned across
// agents.
type ScratchEntry struct {
	AgentID string
	Key     string
	Value   string
}

// ScratchEntries scans every agent's scratchpad for keys starting with
// keyPrefix, in stable key order. The sync worker uses it to find entries
// marked for long-term retention.
func (s *Store) ScratchEntries(ctx context.Context, keyPrefix string) ([]ScratchEntry, error) {
	var fullKeys []string
	iter := s.client.Scan(ctx, 0, prefixScratch+"*", 256).Iterator()
	for iter.Next(ctx) {
		fullKeys = append(fullKeys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	sort.Strings(fullKeys)

	var entries []ScratchEntry
	for _, full := range fullKeys {
		rest := strings.TrimPrefix(full, prefixScratch)
		agentID, key, ok := strings.Cut(rest, ":")
		if !ok || !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		v, err := s.client.Get(ctx, full).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, apperrors.NewUnavailable(repository.BackendKV, err)
		}
		entries = append(entries, ScratchEntry{AgentID: agentID, Key: key, Value: v})
	}
	return entries, nil
}

// ---- Locks & leases ----

// AcquireLock takes the namespace lock if free. The TTL is the lease; there
// is no renewal and release is best-effort.
func (s *Store) AcquireLock(ctx context.Context, namespace, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, apperrors.NewValidation("lock ttl must be positive")
	}
	ok, err := s.client.SetNX(ctx, prefixLock+namespace, token, ttl).Result()
	if err != nil {
		return false, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return ok, nil
}

// ReleaseLock deletes the lock only if the token still owns it. Returns
// false when the lease already expired or another holder took over.
func (s *Store) ReleaseLock(ctx context.Context, namespace, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{prefixLock + namespace}, token).Int()
	if err != nil {
		return false, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return n == 1, nil
}

// LockTTL reports the remaining lease on a namespace lock, for retry hints.
func (s *Store) LockTTL(ctx context.Context, namespace string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, prefixLock+namespace).Result()
	if err != nil {
		return 0, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return d, nil
}

// WriteLease records lease metadata for introspection; it expires with the
// lock it describes.
func (s *Store) WriteLease(ctx context.Context, token string, meta map[string]any, ttl time.Duration) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return apperrors.NewInternal("marshal lease", err)
	}
	return s.set(ctx, prefixLease+token, string(data), ttl)
}

// ---- Event streams ----

// AppendEvent pushes one event onto a bounded stream, newest first. The
// stream is trimmed to capacity and refreshed to live for retention.
func (s *Store) AppendEvent(ctx context.Context, stream, payload string, capacity int, retention time.Duration) error {
	key := prefixEvents + stream
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(capacity-1))
	pipe.Expire(ctx, key, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return nil
}

// DrainEvents pops up to max events from the old end of the stream, in
// chronological order. Concurrent appends land at the head and are safe.
func (s *Store) DrainEvents(ctx context.Context, stream string, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	key := prefixEvents + stream
	vals, err := s.client.LRange(ctx, key, int64(-max), -1).Result()
	if err != nil {
		return nil, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	if err := s.client.LTrim(ctx, key, 0, int64(-(len(vals) + 1))).Err(); err != nil {
		return nil, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	// LRange returns head-to-tail order; reverse for oldest-first.
	out := make([]string, len(vals))
	for i, v := range vals {
		out[len(vals)-1-i] = v
	}
	return out, nil
}

// EventStreams lists stream names with pending events.
func (s *Store) EventStreams(ctx context.Context) ([]string, error) {
	var streams []string
	iter := s.client.Scan(ctx, 0, prefixEvents+"*", 256).Iterator()
	for iter.Next(ctx) {
		streams = append(streams, strings.TrimPrefix(iter.Val(), prefixEvents))
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return streams, nil
}

// ---- Sweeper support ----

// KeysWithoutTTL scans for keys missing an expiry, up to limit.
func (s *Store) KeysWithoutTTL(ctx context.Context, limit int) ([]string, error) {
	var violations []string
	iter := s.client.Scan(ctx, 0, "*", 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := s.client.TTL(ctx, key).Result()
		if err != nil {
			return nil, apperrors.NewUnavailable(repository.BackendKV, err)
		}
		if ttl == -1 {
			violations = append(violations, key)
			if len(violations) >= limit {
				break
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.NewUnavailable(repository.BackendKV, err)
	}
	return violations, nil
}

// ApplyTTL sets an expiry on a key found without one.
func (s *Store) ApplyTTL(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return apperrors.NewValidation("ttl must be positive")
	}
	return s.client.Expire(ctx, key, ttl).Err()
}

// DeleteKeys removes keys outright, for the "delete" sweep policy.
func (s *Store) DeleteKeys(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}
