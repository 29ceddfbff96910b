// Package query is the hybrid dispatcher: it picks a backend subset for a
// retrieval, fans the search out under a dispatch policy, merges hits by id,
// collapses stitched Q&A units onto their parents, and hands the merged set
// to the ranker.
package query

import (
	"time"

	"ctxstore/internal/repository"
)

// Mode selects which backends serve a retrieval.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeGraph  Mode = "graph"
	ModeText   Mode = "text"
	ModeKV     Mode = "kv"
	ModeHybrid Mode = "hybrid"
	ModeAuto   Mode = "auto"
)

// Policy is the fan-out strategy across the selected backends.
type Policy string

const (
	// PolicyParallel launches every backend concurrently and waits for all.
	PolicyParallel Policy = "parallel"
	// PolicySequential runs backends fastest-first and stops once the limit
	// is covered.
	PolicySequential Policy = "sequential"
	// PolicyFallback tries the best backend first and moves on only when it
	// errors or comes back empty.
	PolicyFallback Policy = "fallback"
	// PolicySmart is parallel with early cancellation once fast backends
	// already answered confidently.
	PolicySmart Policy = "smart"
)

// Request is one retrieval to dispatch. Variants are query rewrites searched
// alongside Text; AltVectors are their embeddings, scored as max-over-rewrites
// by the vector backend.
type Request struct {
	Text          string
	Variants      []string
	Vector        []float32
	AltVectors    [][]float32
	Mode          Mode
	Policy        Policy
	Filters       repository.Filters
	Limit         int
	RankingPolicy string
}

// Explanation records how a result's final score was assembled, so callers
// can debug ranking drift.
type Explanation struct {
	OriginalScore float64            `json:"original_score"`
	Boosts        map[string]float64 `json:"boosts"`
	FinalScore    float64            `json:"final_score"`
}

// Result is one merged hit. Source is the backend that contributed the
// winning score; Sources lists every backend that returned the id, and
// SourceScores keeps each backend's best score so the ranker can weight the
// dense, lexical and graph signals separately.
type Result struct {
	ID           string
	Score        float64
	Source       string
	Sources      []string
	SourceScores map[string]float64
	Payload      map[string]any
	CreatedAt    time.Time
	Hops         int
	ViaStitched  bool
	Explanation  *Explanation
}

// Response is the dispatch envelope: the ranked results plus an account of
// what every selected backend did.
type Response struct {
	Results         []Result
	SourceBreakdown map[string]int
	BackendsUsed    []string
	TimedOut        []string
	Cancelled       []string
	Empty           []string
	Failures        map[string]string
	Timings         map[string]time.Duration
}
