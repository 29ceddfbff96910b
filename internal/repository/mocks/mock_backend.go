// Package mocks provides in-memory test doubles for the repository layer.
package mocks

import (
	"context"
	"sync"
	"time"

	"ctxstore/internal/repository"
)

// MockBackend is an in-memory repository.Backend with canned search results,
// per-method error injection, and an optional response delay so dispatch
// timeout and cancellation paths can be exercised.
type MockBackend struct {
	mu sync.Mutex

	name    string
	results []repository.SearchResult
	stored  map[string]repository.Record
	deleted []string
	health  repository.Health

	delay        time.Duration
	shouldFailOn map[string]error
	searchCalls  int
}

// NewBackend creates a mock backend wearing the given name.
func NewBackend(name string) *MockBackend {
	return &MockBackend{
		name:         name,
		stored:       make(map[string]repository.Record),
		health:       repository.Health{State: repository.Healthy},
		shouldFailOn: make(map[string]error),
	}
}

// SetResults replaces the canned search results.
func (m *MockBackend) SetResults(results ...repository.SearchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
}

// SetError configures the mock to fail a specific method.
func (m *MockBackend) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOn[method] = err
}

// SetDelay makes Search block for d before answering, honoring the context.
func (m *MockBackend) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetHealth overrides the reported health.
func (m *MockBackend) SetHealth(h repository.Health) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = h
}

// SearchCalls reports how many times Search ran.
func (m *MockBackend) SearchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCalls
}

// Stored returns a record written through Store.
func (m *MockBackend) Stored(id string) (repository.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.stored[id]
	return rec, ok
}

// StoredCount reports how many records were written.
func (m *MockBackend) StoredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

// DeletedIDs lists ids passed to Delete, in order.
func (m *MockBackend) DeletedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func (m *MockBackend) checkError(method string) error {
	if err, ok := m.shouldFailOn[method]; ok {
		return err
	}
	return nil
}

// Name implements repository.Backend.
func (m *MockBackend) Name() string { return m.name }

// Store implements repository.Backend.
func (m *MockBackend) Store(ctx context.Context, rec repository.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("Store"); err != nil {
		return "", err
	}
	m.stored[rec.ID] = rec
	return rec.ID, nil
}

// Search implements repository.Backend.
func (m *MockBackend) Search(ctx context.Context, q repository.SearchQuery) ([]repository.SearchResult, error) {
	m.mu.Lock()
	m.searchCalls++
	delay := m.delay
	err := m.checkError("Search")
	results := append([]repository.SearchResult(nil), m.results...)
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Delete implements repository.Backend.
func (m *MockBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError("Delete"); err != nil {
		return err
	}
	m.deleted = append(m.deleted, id)
	delete(m.stored, id)
	return nil
}

// Health implements repository.Backend.
func (m *MockBackend) Health(ctx context.Context) repository.Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}
