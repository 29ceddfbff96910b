package repository

import (
	"context"
	"sort"
)

// Registry maps backend names to adapters. It is assembled once at startup
// and read-only afterwards.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(backends ...Backend) *Registry {
	m := make(map[string]Backend, len(backends))
	for _, b := range backends {
		m[b.Name()] = b
	}
	return &Registry{backends: m}
}

// Get returns the named backend.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Names returns all registered backend names, sorted for stable iteration.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthAll polls every backend.
func (r *Registry) HealthAll(ctx context.Context) map[string]Health {
	out := make(map[string]Health, len(r.backends))
	for name, b := range r.backends {
		out[name] = b.Health(ctx)
	}
	return out
}
