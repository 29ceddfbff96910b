// Package textindex implements the in-process lexical backend: a BM25
// index over the text of stored contexts. The index is ephemeral; it is
// rebuilt from the graph on startup and kept current by the store path.
package textindex

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"ctxstore/internal/repository"
)

// BM25 constants, the standard starting points.
const (
	k1 = 1.2
	b  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// stopwords are dropped during tokenization; matching them adds noise and
// inflates document frequency for no ranking benefit.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "my": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "this": true, "to": true, "was": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"will": true, "with": true, "you": true, "your": true,
}

// Tokenize lowercases and splits text, dropping stopwords and one-letter
// tokens.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len(tok) < 2 || stopwords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

type document struct {
	id        string
	parentID  string
	docType   string
	namespace string
	author    string
	tags      []string
	payload   map[string]any
	createdAt time.Time
	terms     map[string]int
	length    int
}

// Index is the readers-writer-locked BM25 index. Writers (store, delete,
// rebuild) are rare and brief; searches take the read lock only.
type Index struct {
	mu       sync.RWMutex
	docs     map[string]*document
	postings map[string]map[string]int
	totalLen int
}

// New creates an empty index.
func New() *Index {
	return &Index{
		docs:     make(map[string]*document),
		postings: make(map[string]map[string]int),
	}
}

// Name implements repository.Backend.
func (ix *Index) Name() string { return repository.BackendText }

// Store indexes one record, replacing any previous version of the same id.
// Implements repository.Backend.
func (ix *Index) Store(_ context.Context, rec repository.Record) (string, error) {
	text := rec.Text
	if rec.Title != "" && !strings.Contains(text, rec.Title) {
		text = rec.Title + " " + text
	}
	tokens := Tokenize(text)

	terms := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		terms[tok]++
	}
	doc := &document{
		id:        rec.ID,
		parentID:  rec.ParentID,
		docType:   rec.Type,
		namespace: rec.Namespace,
		author:    rec.Author,
		tags:      rec.Tags,
		payload:   rec.Payload,
		createdAt: rec.CreatedAt,
		terms:     terms,
		length:    len(tokens),
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(rec.ID)
	ix.docs[rec.ID] = doc
	ix.totalLen += doc.length
	for term, tf := range terms {
		posting, ok := ix.postings[term]
		if !ok {
			posting = make(map[string]int)
			ix.postings[term] = posting
		}
		posting[rec.ID] = tf
	}
	return rec.ID, nil
}

// Search scores documents with BM25 and returns the top hits, scores
// normalized into [0,1] by the best hit. Rewrite variants contribute their
// tokens to the same query, deduplicated. Implements repository.Backend.
func (ix *Index) Search(_ context.Context, q repository.SearchQuery) ([]repository.SearchResult, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	tokens := Tokenize(q.Text)
	if len(q.Variants) > 0 {
		seen := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			seen[tok] = true
		}
		for _, v := range q.Variants {
			for _, tok := range Tokenize(v) {
				if !seen[tok] {
					seen[tok] = true
					tokens = append(tokens, tok)
				}
			}
		}
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.docs)
	if n == 0 {
		return nil, nil
	}
	avgLen := float64(ix.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[string]float64)
	for _, term := range tokens {
		posting, ok := ix.postings[term]
		if !ok {
			continue
		}
		df := len(posting)
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
		for id, tf := range posting {
			doc := ix.docs[id]
			if !matchesFilters(doc, q.Filters) {
				continue
			}
			denom := float64(tf) + k1*(1-b+b*float64(doc.length)/avgLen)
			scores[id] += idf * (float64(tf) * (k1 + 1)) / denom
		}
	}
	if len(scores) == 0 {
		return nil, nil
	}

	results := make([]repository.SearchResult, 0, len(scores))
	var max float64
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	for id, s := range scores {
		doc := ix.docs[id]
		results = append(results, repository.SearchResult{
			ID:        id,
			ParentID:  doc.parentID,
			Score:     s / max,
			Source:    repository.BackendText,
			Payload:   doc.payload,
			CreatedAt: doc.createdAt,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func matchesFilters(doc *document, f repository.Filters) bool {
	if f.Namespace != "" && doc.namespace != f.Namespace {
		return false
	}
	if f.Author != "" && doc.author != f.Author {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if doc.docType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range doc.tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && doc.createdAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && doc.createdAt.After(*f.Until) {
		return false
	}
	return true
}

// Delete removes a document. Absent ids are a no-op.
// Implements repository.Backend.
func (ix *Index) Delete(_ context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
	return nil
}

func (ix *Index) removeLocked(id string) {
	doc, ok := ix.docs[id]
	if !ok {
		return
	}
	for term := range doc.terms {
		posting := ix.postings[term]
		delete(posting, id)
		if len(posting) == 0 {
			delete(ix.postings, term)
		}
	}
	ix.totalLen -= doc.length
	delete(ix.docs, id)
}

// Health implements repository.Backend. The index is in-process, so it is
// healthy whenever the process is.
func (ix *Index) Health(_ context.Context) repository.Health {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return repository.Health{
		State:   repository.Healthy,
		Message: fmt.Sprintf("%d documents indexed", len(ix.docs)),
	}
}

// Rebuild replaces the whole index, used at startup to reload from the
// graph. Soft-deleted records must be filtered out by the caller.
func (ix *Index) Rebuild(ctx context.Context, records []repository.Record) error {
	fresh := New()
	for _, rec := range records {
		if _, err := fresh.Store(ctx, rec); err != nil {
			return err
		}
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs = fresh.docs
	ix.postings = fresh.postings
	ix.totalLen = fresh.totalLen
	return nil
}

// Len reports the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}
