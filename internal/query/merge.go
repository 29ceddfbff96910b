package query

import (
	"sort"

	"ctxstore/internal/repository"
)

// mergeEntry tracks one id while contributions accumulate. direct means the
// payload came from the record itself rather than a stitched Q&A unit, so it
// holds the real content.
type mergeEntry struct {
	res     Result
	direct  bool
	deleted bool
}

// merger deduplicates backend hits by id. Stitched Q&A units are folded onto
// their parent id before anything else, so a parent and its units count as
// one result.
type merger struct {
	entries map[string]*mergeEntry
	order   []string
}

func newMerger() *merger {
	return &merger{entries: make(map[string]*mergeEntry)}
}

func (m *merger) add(source string, r repository.SearchResult) {
	id := r.ID
	stitched := false
	if r.ParentID != "" {
		id = r.ParentID
		stitched = true
	}
	if id == "" {
		return
	}

	e, ok := m.entries[id]
	if !ok {
		e = &mergeEntry{res: Result{
			ID:           id,
			Score:        r.Score,
			Source:       source,
			Sources:      []string{source},
			SourceScores: map[string]float64{source: r.Score},
			Payload:      r.Payload,
			CreatedAt:    r.CreatedAt,
			Hops:         r.Hops,
			ViaStitched:  stitched,
		}}
		e.direct = !stitched
		e.deleted = r.Deleted
		m.entries[id] = e
		m.order = append(m.order, id)
		return
	}

	if r.Score > e.res.Score {
		e.res.Score = r.Score
		e.res.Source = source
	}
	if r.Score > e.res.SourceScores[source] {
		e.res.SourceScores[source] = r.Score
	}
	// The record's own payload beats a stitched unit's question text.
	if !stitched && !e.direct {
		e.res.Payload = r.Payload
		e.res.CreatedAt = r.CreatedAt
		e.direct = true
		e.res.ViaStitched = false
	}
	if !stitched && r.Deleted {
		e.deleted = true
	}
	if r.Hops > 0 && (e.res.Hops == 0 || r.Hops < e.res.Hops) && source == repository.BackendGraph {
		e.res.Hops = r.Hops
	}
	e.res.Sources = appendSource(e.res.Sources, source)
}

func appendSource(sources []string, source string) []string {
	for _, s := range sources {
		if s == source {
			return sources
		}
	}
	return append(sources, source)
}

// results returns the merged set with soft-deleted ids dropped, ordered by
// score, then recency, then id, so equal inputs always merge identically.
func (m *merger) results() []Result {
	out := make([]Result, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		if e.deleted {
			continue
		}
		sort.Strings(e.res.Sources)
		out = append(out, e.res)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// count reports unique, non-deleted ids merged so far.
func (m *merger) count() int {
	n := 0
	for _, e := range m.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}

// topScore is the best score merged so far, for smart-policy cancellation.
func (m *merger) topScore() float64 {
	top := 0.0
	for _, e := range m.entries {
		if !e.deleted && e.res.Score > top {
			top = e.res.Score
		}
	}
	return top
}
