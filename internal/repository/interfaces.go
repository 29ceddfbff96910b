// Package repository defines the uniform access layer over the storage
// backends.
//
// PURPOSE: every engine (vector index, property graph, KV cache, in-process
// text index) is wrapped in an adapter satisfying the same small Backend
// interface, so the dispatcher can fan a query out to any subset and the
// orchestrator can write through them without knowing engine specifics.
//
// Adapters expose richer engine-specific operations as methods on their
// concrete types; Backend covers only what dispatch and storage
// orchestration need from all of them.
package repository

import (
	"context"
	"time"
)

// Backend names used in dispatch configuration, source attribution, and
// metrics labels.
const (
	BackendVector = "vector"
	BackendGraph  = "graph"
	BackendKV     = "kv"
	BackendText   = "text"
)

// Backend is the uniform surface over one storage engine.
type Backend interface {
	// Name returns the stable backend name used in attribution and config.
	Name() string

	// Store writes one record and returns the backend-specific handle.
	Store(ctx context.Context, rec Record) (string, error)

	// Search runs the backend's native matching and returns scored results,
	// best first. Backends that cannot serve the query shape (for example a
	// vector search without a vector) return an empty slice, not an error.
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)

	// Delete removes a record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Health reports the adapter's view of its engine.
	Health(ctx context.Context) Health
}

// Record is the backend-neutral write payload. Adapters pick the fields
// they index; Payload mirrors the caller-visible content and metadata.
type Record struct {
	ID        string
	ParentID  string
	Type      string
	Namespace string
	Title     string
	Text      string
	Author    string
	Tags      []string
	Payload   map[string]any
	Vector    []float32
	CreatedAt time.Time
}

// Filters narrow searches. Zero values mean "no constraint".
type Filters struct {
	Namespace string
	Types     []string
	Tags      []string
	Author    string
	Since     *time.Time
	Until     *time.Time
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f.Namespace == "" && len(f.Types) == 0 && len(f.Tags) == 0 &&
		f.Author == "" && f.Since == nil && f.Until == nil
}

// SearchQuery is one backend search request. Variants carry query rewrites:
// lexical backends union their tokens with the original text, and the vector
// backend scores AltVectors alongside Vector, keeping the best similarity
// per id. Backends that cannot use rewrites ignore both fields.
type SearchQuery struct {
	Text       string
	Variants   []string
	Vector     []float32
	AltVectors [][]float32
	Filters    Filters
	Limit      int
}

// SearchResult is one scored hit from a backend.
type SearchResult struct {
	ID        string
	ParentID  string
	Score     float64
	Source    string
	Payload   map[string]any
	CreatedAt time.Time
	// Hops is graph distance from the query anchor; 0 means a direct hit.
	Hops int
	// Deleted marks soft-deleted records so the dispatcher can drop them
	// post-merge if a backend surfaces one.
	Deleted bool
}

// HealthState classifies backend health.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// Health is one adapter's self-report.
type Health struct {
	State   HealthState `json:"state"`
	Message string      `json:"message,omitempty"`
}
