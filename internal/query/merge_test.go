package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxstore/internal/repository"
)

func TestMergerKeepsMaxScore(t *testing.T) {
	m := newMerger()
	m.add("vector", repository.SearchResult{ID: "a", Score: 0.5})
	m.add("text", repository.SearchResult{ID: "a", Score: 0.8})
	m.add("kv", repository.SearchResult{ID: "a", Score: 0.3})

	out := m.results()
	require.Len(t, out, 1)
	assert.InDelta(t, 0.8, out[0].Score, 1e-9)
	assert.Equal(t, "text", out[0].Source)
	assert.Equal(t, []string{"kv", "text", "vector"}, out[0].Sources)
}

func TestMergerPrefersDirectPayloadOverStitched(t *testing.T) {
	m := newMerger()
	m.add("vector", repository.SearchResult{
		ID: "qa-2", ParentID: "p", Score: 0.9,
		Payload: map[string]any{"title": "stitched question"},
	})
	m.add("graph", repository.SearchResult{
		ID: "p", Score: 0.4,
		Payload:   map[string]any{"title": "the record"},
		CreatedAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	})

	out := m.results()
	require.Len(t, out, 1)
	assert.Equal(t, "p", out[0].ID)
	assert.InDelta(t, 0.9, out[0].Score, 1e-9)
	assert.Equal(t, "the record", out[0].Payload["title"])
	assert.False(t, out[0].ViaStitched)
}

func TestMergerStitchedOnlyKeepsParentID(t *testing.T) {
	m := newMerger()
	m.add("vector", repository.SearchResult{
		ID: "qa-3", ParentID: "p", Score: 0.7,
		Payload: map[string]any{"title": "Q"},
	})

	out := m.results()
	require.Len(t, out, 1)
	assert.Equal(t, "p", out[0].ID)
	assert.True(t, out[0].ViaStitched, "no direct hit arrived for the parent")
}

func TestMergerDropsDeleted(t *testing.T) {
	m := newMerger()
	m.add("graph", repository.SearchResult{ID: "a", Score: 0.9, Deleted: true})
	m.add("vector", repository.SearchResult{ID: "b", Score: 0.2})

	out := m.results()
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}

func TestMergerKeepsClosestGraphHop(t *testing.T) {
	m := newMerger()
	m.add("graph", repository.SearchResult{ID: "a", Score: 0.5, Hops: 2})
	m.add("graph", repository.SearchResult{ID: "a", Score: 0.5, Hops: 1})

	out := m.results()
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Hops)
}

func TestMergerOrderIsDeterministic(t *testing.T) {
	ts := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	build := func() []Result {
		m := newMerger()
		m.add("vector", repository.SearchResult{ID: "b", Score: 0.5, CreatedAt: ts})
		m.add("vector", repository.SearchResult{ID: "a", Score: 0.5, CreatedAt: ts})
		m.add("text", repository.SearchResult{ID: "newer", Score: 0.5, CreatedAt: ts.Add(time.Hour)})
		return m.results()
	}

	first := build()
	require.Len(t, first, 3)
	assert.Equal(t, "newer", first[0].ID, "recency breaks score ties")
	assert.Equal(t, "a", first[1].ID, "id breaks full ties")
	assert.Equal(t, first, build())
}

func TestMergerCountAndTopScore(t *testing.T) {
	m := newMerger()
	assert.Zero(t, m.count())
	assert.Zero(t, m.topScore())

	m.add("vector", repository.SearchResult{ID: "a", Score: 0.4})
	m.add("text", repository.SearchResult{ID: "b", Score: 0.9})
	m.add("graph", repository.SearchResult{ID: "c", Score: 0.7, Deleted: true})

	assert.Equal(t, 2, m.count(), "deleted ids do not count toward coverage")
	assert.InDelta(t, 0.9, m.topScore(), 1e-9)
}
