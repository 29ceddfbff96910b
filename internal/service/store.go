package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxstore/internal/auth"
	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/namespace"
	"ctxstore/internal/repository"
)

// Embedding pipeline outcomes reported on every store.
const (
	EmbeddingCompleted   = "completed"
	EmbeddingFailed      = "failed"
	EmbeddingUnavailable = "unavailable"
)

// StoreRequest is one store_context call after transport decoding.
type StoreRequest struct {
	Type       string
	Content    map[string]any
	Metadata   map[string]any
	Author     string
	AuthorType string
	Namespace  string
}

// StoreResult reports where the context landed. The graph write is the
// commit point; everything that failed after it shows up in Warnings.
type StoreResult struct {
	ID                   string    `json:"id"`
	VectorID             string    `json:"vector_id,omitempty"`
	GraphID              string    `json:"graph_id,omitempty"`
	EmbeddingStatus      string    `json:"embedding_status"`
	RelationshipsCreated int       `json:"relationships_created"`
	QAPairsIndexed       int       `json:"qa_pairs_indexed"`
	Namespace            string    `json:"namespace"`
	CreatedAt            time.Time `json:"created_at"`

	Warnings []Warning `json:"-"`
}

// StoreContext runs the write path: validate, attribute, lock the
// namespace, embed, write the graph (commit point), then mirror into the
// vector, KV and text backends, expand Q&A units, and detect relationships.
// Secondary failures degrade to warnings; only validation, authorization,
// lock conflicts and the graph write can fail the call.
func (s *service) StoreContext(ctx context.Context, p auth.Principal, req StoreRequest) (*StoreResult, error) {
	if err := p.Can(auth.OpStore); err != nil {
		return nil, err
	}

	ctype := domain.ContextType(strings.TrimSpace(req.Type))
	if !domain.ValidTypes[ctype] {
		return nil, apperrors.NewValidationf("unknown context type %q", req.Type).
			WithDetail("valid_types", []string{"design", "decision", "trace", "sprint", "log", "test"})
	}
	if len(req.Content) == 0 {
		return nil, apperrors.NewValidation("content must not be empty")
	}

	author, authorType := auth.Attribute(p, req.Author, domain.AuthorType(req.AuthorType))

	var ns namespace.Namespace
	if strings.TrimSpace(req.Namespace) != "" {
		parsed, err := namespace.Parse(req.Namespace)
		if err != nil {
			return nil, err
		}
		ns = parsed
	} else {
		ns = namespace.Assign(req.Content)
	}

	c := &domain.Context{
		ID:         s.newID(),
		Type:       ctype,
		Content:    req.Content,
		Metadata:   req.Metadata,
		Author:     author,
		AuthorType: authorType,
		CreatedAt:  s.now().UTC(),
		Namespace:  ns.Path(),
	}
	if strings.TrimSpace(c.Text()) == "" {
		return nil, apperrors.NewValidation("content must carry text, or a title and description")
	}

	result := &StoreResult{ID: c.ID, Namespace: c.Namespace, CreatedAt: c.CreatedAt}
	warn := func(kind, message string) {
		result.Warnings = append(result.Warnings, Warning{Kind: kind, Message: message})
	}

	lease, err := s.deps.Locks.Acquire(ctx, c.Namespace, author, 0)
	switch {
	case apperrors.IsConflict(err):
		return nil, err
	case err != nil:
		// The lock lives in KV; with KV down the write chain proceeds
		// unserialized rather than failing the store.
		warn(string(apperrors.KindPartial), "namespace lock unavailable: "+err.Error())
	default:
		defer func() {
			if rerr := s.deps.Locks.Release(ctx, lease.Namespace, lease.Token); rerr != nil {
				s.log().Warn("lock release failed", zap.String("namespace", lease.Namespace), zap.Error(rerr))
			}
		}()
	}

	var vec []float32
	result.EmbeddingStatus = EmbeddingUnavailable
	if s.deps.Embedder.Ready() {
		vec, err = s.deps.Embedder.Embed(ctx, c.Text())
		if err != nil {
			result.EmbeddingStatus = EmbeddingFailed
			warn(string(apperrors.KindPartial), "embedding failed, stored without vector: "+err.Error())
		} else {
			result.EmbeddingStatus = EmbeddingCompleted
		}
	} else {
		warn(string(apperrors.KindPartial), "embedding pipeline unavailable, stored without vector")
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.EmbeddingRequests.WithLabelValues(result.EmbeddingStatus).Inc()
	}

	rec := contextRecord(c, vec)
	graphID, err := s.deps.Graph.Store(ctx, rec)
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.StoreOutcomes.WithLabelValues("failed").Inc()
		}
		s.recordEvent(ctx, domain.OpStore, c.ID, author, c.Namespace, "failed")
		return nil, err
	}
	c.GraphID = graphID
	result.GraphID = graphID

	if len(vec) > 0 {
		vectorID, verr := s.deps.Vector.Store(ctx, rec)
		if verr != nil {
			warn(string(apperrors.KindPartial), "vector write failed: "+verr.Error())
		} else {
			c.VectorID = vectorID
			result.VectorID = vectorID
			if merr := s.deps.Graph.MarkIndexed(ctx, c.ID, vectorID); merr != nil {
				s.log().Warn("mark indexed failed", zap.String("id", c.ID), zap.Error(merr))
			}
		}
	}
	if _, kerr := s.deps.KV.Store(ctx, rec); kerr != nil {
		warn(string(apperrors.KindPartial), "kv cache write failed: "+kerr.Error())
	}
	if _, terr := s.deps.Text.Store(ctx, rec); terr != nil {
		warn(string(apperrors.KindPartial), "text index write failed: "+terr.Error())
	}

	// Q&A units and relationship edges only exist once their parent is in
	// the graph, which the commit point above guarantees.
	result.QAPairsIndexed = s.indexQAPairs(ctx, c, warn)

	stats := s.deps.Detector.Detect(ctx, c)
	result.RelationshipsCreated = stats.Created
	if s.deps.Metrics != nil && stats.Created > 0 {
		s.deps.Metrics.RelationshipsFound.Add(float64(stats.Created))
	}

	outcome := "stored"
	if len(result.Warnings) > 0 {
		outcome = "partial"
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.StoreOutcomes.WithLabelValues(outcome).Inc()
	}
	s.recordEvent(ctx, domain.OpStore, c.ID, author, c.Namespace, outcome)

	s.log().Info("context stored",
		zap.String("id", c.ID),
		zap.String("type", string(ctype)),
		zap.String("namespace", c.Namespace),
		zap.String("embedding", result.EmbeddingStatus),
		zap.Int("qa_pairs", result.QAPairsIndexed),
		zap.Int("relationships", result.RelationshipsCreated))
	return result, nil
}

// indexQAPairs expands the context into stitched Q&A units and writes them
// to the vector backend under the parent id. Skipped entirely when the
// parent itself has no embedding; a unit the dense path cannot reach adds
// nothing.
func (s *service) indexQAPairs(ctx context.Context, c *domain.Context, warn func(kind, message string)) int {
	if c.VectorID == "" {
		return 0
	}
	pairs := s.deps.Expander.Expand(c)
	if len(pairs) == 0 {
		return 0
	}

	texts := make([]string, len(pairs))
	for i, pair := range pairs {
		texts[i] = pair.Stitched()
	}
	vecs, err := s.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) != len(pairs) {
		warn(string(apperrors.KindPartial), "qa expansion skipped: batch embedding failed")
		return 0
	}

	indexed := 0
	failed := 0
	for i, pair := range pairs {
		if _, err := s.deps.Vector.Store(ctx, qaRecord(c, pair, vecs[i], s.newID())); err != nil {
			failed++
			continue
		}
		indexed++
	}
	if failed > 0 {
		warn(string(apperrors.KindPartial), "some qa units were not indexed")
	}
	return indexed
}

// contextRecord flattens a context into the cross-backend record shape. The
// payload mirrors what the graph adapter rebuilds from node properties, so
// a hit looks the same whichever backend produced it.
func contextRecord(c *domain.Context, vec []float32) repository.Record {
	payload := map[string]any{
		"type":        string(c.Type),
		"namespace":   c.Namespace,
		"title":       c.Title(),
		"author":      c.Author,
		"author_type": string(c.AuthorType),
		"content":     c.Content,
	}
	if tags := c.Tags(); len(tags) > 0 {
		payload["tags"] = tags
	}
	if len(c.Metadata) > 0 {
		payload["metadata"] = c.Metadata
	}
	return repository.Record{
		ID:        c.ID,
		Type:      string(c.Type),
		Namespace: c.Namespace,
		Title:     c.Title(),
		Text:      c.Text(),
		Author:    c.Author,
		Tags:      c.Tags(),
		Payload:   payload,
		Vector:    vec,
		CreatedAt: c.CreatedAt,
	}
}

// qaRecord shapes one stitched Q&A unit for the vector backend. ParentID
// makes the dispatcher fold hits back onto the parent context.
func qaRecord(c *domain.Context, pair domain.QAPair, vec []float32, id string) repository.Record {
	return repository.Record{
		ID:        id,
		ParentID:  c.ID,
		Type:      string(c.Type),
		Namespace: c.Namespace,
		Text:      pair.Stitched(),
		Author:    c.Author,
		Payload: map[string]any{
			"type":       string(c.Type),
			"namespace":  c.Namespace,
			"parent_id":  c.ID,
			"question":   pair.Question,
			"answer":     pair.Answer,
			"fact_type":  pair.FactType,
			"confidence": pair.Confidence,
		},
		Vector:    vec,
		CreatedAt: c.CreatedAt,
	}
}
