package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
)

func designRequest() StoreRequest {
	return StoreRequest{
		Type: "design",
		Content: map[string]any{
			"title": "Retry budget design",
			"text":  "Retries use exponential backoff with a shared budget.",
		},
	}
}

func TestStoreContextWritesEveryBackend(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.StoreContext(context.Background(), testWriter, designRequest())
	require.NoError(t, err)

	assert.Equal(t, "id-0001", res.ID)
	assert.Equal(t, EmbeddingCompleted, res.EmbeddingStatus)
	assert.Equal(t, res.ID, res.GraphID)
	assert.Equal(t, res.ID, res.VectorID)
	assert.Equal(t, "global", res.Namespace)
	assert.Equal(t, svcNow, res.CreatedAt)
	assert.Empty(t, res.Warnings)

	rec, ok := e.graph.Stored(res.ID)
	require.True(t, ok)
	assert.Equal(t, "design", rec.Type)
	assert.Equal(t, "Retry budget design", rec.Title)
	assert.Equal(t, "bob", rec.Author)

	_, ok = e.vector.Stored(res.ID)
	assert.True(t, ok)
	_, ok = e.kv.Stored(res.ID)
	assert.True(t, ok)
	_, ok = e.text.Stored(res.ID)
	assert.True(t, ok)

	assert.Equal(t, res.VectorID, e.graph.marked[res.ID])

	ev, ok := e.recorder.last()
	require.True(t, ok)
	assert.Equal(t, domain.OpStore, ev.Op)
	assert.Equal(t, "stored", ev.Outcome)
}

func TestStoreContextRejectsUnknownType(t *testing.T) {
	e := newEnv(t)

	req := designRequest()
	req.Type = "poem"
	_, err := e.svc.StoreContext(context.Background(), testWriter, req)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, 0, e.graph.StoredCount())
}

func TestStoreContextRejectsEmptyContent(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.StoreContext(context.Background(), testWriter, StoreRequest{Type: "log"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestStoreContextRejectsContentWithoutText(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.StoreContext(context.Background(), testWriter, StoreRequest{
		Type:    "log",
		Content: map[string]any{"level": "warn"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestStoreContextRequiresWriterRole(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.StoreContext(context.Background(), testReader, designRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsForbidden(err))
}

func TestStoreContextAttributesAgents(t *testing.T) {
	e := newEnv(t)

	req := designRequest()
	req.Author = "alice"
	req.AuthorType = "human"
	res, err := e.svc.StoreContext(context.Background(), testAgent, req)
	require.NoError(t, err)

	rec, ok := e.graph.Stored(res.ID)
	require.True(t, ok)
	assert.Equal(t, "agent-7", rec.Author)
	assert.Equal(t, "agent", rec.Payload["author_type"])
}

func TestStoreContextAssignsNamespaceFromMarkers(t *testing.T) {
	e := newEnv(t)

	req := designRequest()
	req.Content["project_id"] = "apollo"
	res, err := e.svc.StoreContext(context.Background(), testWriter, req)
	require.NoError(t, err)
	assert.Equal(t, "project/apollo", res.Namespace)
	assert.Equal(t, []string{"project/apollo"}, e.locks.acquired)
	assert.Equal(t, []string{"project/apollo"}, e.locks.released)
}

func TestStoreContextExplicitNamespaceWinsOverMarkers(t *testing.T) {
	e := newEnv(t)

	req := designRequest()
	req.Content["project_id"] = "apollo"
	req.Namespace = "team/platform"
	res, err := e.svc.StoreContext(context.Background(), testWriter, req)
	require.NoError(t, err)
	assert.Equal(t, "team/platform", res.Namespace)
}

func TestStoreContextLockConflictFailsTheCall(t *testing.T) {
	e := newEnv(t)
	e.locks.acquireErr = apperrors.NewConflict("namespace global locked by someone")

	_, err := e.svc.StoreContext(context.Background(), testWriter, designRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, 0, e.graph.StoredCount())
}

func TestStoreContextLockInfrastructureFailureDegrades(t *testing.T) {
	e := newEnv(t)
	e.locks.acquireErr = apperrors.NewUnavailable("kv", errors.New("connection refused"))

	res, err := e.svc.StoreContext(context.Background(), testWriter, designRequest())
	require.NoError(t, err)
	assert.True(t, hasWarning(res.Warnings, "lock unavailable"))
	assert.Equal(t, 1, e.graph.StoredCount())
}

func TestStoreContextEmbeddingFailureStoresWithoutVector(t *testing.T) {
	e := newEnv(t)
	e.embedder.embedErr = errors.New("model not loaded")

	res, err := e.svc.StoreContext(context.Background(), testWriter, designRequest())
	require.NoError(t, err)
	assert.Equal(t, EmbeddingFailed, res.EmbeddingStatus)
	assert.Empty(t, res.VectorID)
	assert.Equal(t, 0, e.vector.StoredCount())
	assert.Equal(t, 1, e.graph.StoredCount())
	assert.True(t, hasWarning(res.Warnings, "embedding failed"))
}

func TestStoreContextEmbedderNotReadyStoresWithoutVector(t *testing.T) {
	e := newEnv(t)
	e.embedder.ready = false

	res, err := e.svc.StoreContext(context.Background(), testWriter, designRequest())
	require.NoError(t, err)
	assert.Equal(t, EmbeddingUnavailable, res.EmbeddingStatus)
	assert.Equal(t, 0, e.vector.StoredCount())
}

func TestStoreContextGraphFailureFailsTheCall(t *testing.T) {
	e := newEnv(t)
	e.graph.SetError("Store", apperrors.NewUnavailable("graph", errors.New("bolt refused")))

	_, err := e.svc.StoreContext(context.Background(), testWriter, designRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))

	// Nothing lands anywhere else when the commit point fails.
	assert.Equal(t, 0, e.vector.StoredCount())
	assert.Equal(t, 0, e.kv.StoredCount())
	assert.Equal(t, 0, e.text.StoredCount())

	ev, ok := e.recorder.last()
	require.True(t, ok)
	assert.Equal(t, "failed", ev.Outcome)
}

func TestStoreContextSecondaryFailureDegrades(t *testing.T) {
	e := newEnv(t)
	e.vector.SetError("Store", errors.New("pgvector down"))
	e.text.SetError("Store", errors.New("index closed"))

	res, err := e.svc.StoreContext(context.Background(), testWriter, designRequest())
	require.NoError(t, err)
	assert.Empty(t, res.VectorID)
	assert.True(t, hasWarning(res.Warnings, "vector write failed"))
	assert.True(t, hasWarning(res.Warnings, "text index write failed"))
	for _, kind := range warningKinds(res.Warnings) {
		assert.Equal(t, string(apperrors.KindPartial), kind)
	}

	ev, ok := e.recorder.last()
	require.True(t, ok)
	assert.Equal(t, "partial", ev.Outcome)
}

func TestStoreContextIndexesQAPairs(t *testing.T) {
	e := newEnv(t)
	e.expander.pairs = []domain.QAPair{
		{Question: "What does the design cover?", Answer: "Retry budgets.", FactType: "declarative", Confidence: 0.9},
		{Question: "Which strategy is used?", Answer: "Exponential backoff.", FactType: "declarative", Confidence: 0.8},
	}

	res, err := e.svc.StoreContext(context.Background(), testWriter, designRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, res.QAPairsIndexed)

	// Parent plus two stitched units.
	assert.Equal(t, 3, e.vector.StoredCount())
	unit, ok := e.vector.Stored("id-0002")
	require.True(t, ok)
	assert.Equal(t, res.ID, unit.ParentID)
	assert.Equal(t, "What does the design cover? Retry budgets.", unit.Text)

	batch := e.embedder.lastBatch()
	require.Len(t, batch, 2)
	assert.Contains(t, batch[0], "What does the design cover?")
}

func TestStoreContextSkipsQAPairsWithoutParentVector(t *testing.T) {
	e := newEnv(t)
	e.embedder.ready = false
	e.expander.pairs = []domain.QAPair{
		{Question: "Q?", Answer: "A.", FactType: "declarative", Confidence: 0.9},
	}

	res, err := e.svc.StoreContext(context.Background(), testWriter, designRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, res.QAPairsIndexed)
	assert.Equal(t, 0, e.vector.StoredCount())
}

func TestStoreContextReportsRelationships(t *testing.T) {
	e := newEnv(t)
	e.detector.stats.Created = 3

	res, err := e.svc.StoreContext(context.Background(), testWriter, designRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, res.RelationshipsCreated)
	require.NotNil(t, e.detector.got)
	assert.Equal(t, res.ID, e.detector.got.ID)
}

func TestMonotonicClockNeverStepsBack(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	wall := []time.Time{base, base, base.Add(-time.Second), base.Add(time.Minute)}
	i := 0
	clock := &monotonicClock{wall: func() time.Time {
		w := wall[i]
		if i < len(wall)-1 {
			i++
		}
		return w
	}}

	a := clock.Now()
	b := clock.Now()
	c := clock.Now()
	d := clock.Now()

	assert.Equal(t, base, a)
	assert.True(t, b.After(a), "repeated wall reading still advances")
	assert.True(t, c.After(b), "a wall clock step backwards still advances")
	assert.Equal(t, base.Add(time.Minute), d, "a wall clock ahead of the guard wins")
}
