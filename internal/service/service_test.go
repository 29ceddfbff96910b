package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"ctxstore/internal/auth"
	"ctxstore/internal/config"
	"ctxstore/internal/domain"
	"ctxstore/internal/embedding"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/lifecycle"
	"ctxstore/internal/namespace"
	"ctxstore/internal/observability"
	"ctxstore/internal/query"
	"ctxstore/internal/ranking"
	"ctxstore/internal/relationships"
	"ctxstore/internal/repository"
	"ctxstore/internal/repository/mocks"
)

var svcNow = time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

var (
	testAdmin  = auth.Principal{ID: "alice", Role: auth.RoleAdmin}
	testWriter = auth.Principal{ID: "bob", Role: auth.RoleWriter}
	testReader = auth.Principal{ID: "carol", Role: auth.RoleReader}
	testAgent  = auth.Principal{ID: "agent-7", Role: auth.RoleWriter, IsAgent: true}
)

// opLog records cross-fake call order, so tests can assert that the audit
// write happens before the destructive operation.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeGraph struct {
	*mocks.MockBackend

	mu       sync.Mutex
	contexts map[string]*domain.Context
	getErr   error

	marked  map[string]string
	markErr error

	softDeleted map[string][2]time.Time
	softErr     error

	rows      []map[string]any
	execErr   error
	gotCypher string
	gotParams map[string]any
	gotWrites bool

	rels []domain.Relationship

	log *opLog
}

func newFakeGraph(log *opLog) *fakeGraph {
	return &fakeGraph{
		MockBackend: mocks.NewBackend(repository.BackendGraph),
		contexts:    make(map[string]*domain.Context),
		marked:      make(map[string]string),
		softDeleted: make(map[string][2]time.Time),
		log:         log,
	}
}

func (g *fakeGraph) GetContext(ctx context.Context, id string) (*domain.Context, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	c, ok := g.contexts[id]
	if !ok {
		return nil, apperrors.NewNotFound("context " + id + " not found")
	}
	return c, nil
}

func (g *fakeGraph) MarkIndexed(ctx context.Context, id, vectorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.markErr != nil {
		return g.markErr
	}
	g.marked[id] = vectorID
	return nil
}

func (g *fakeGraph) SoftDelete(ctx context.Context, id string, deletedAt, purgeAt time.Time) error {
	g.log.add("graph-softdelete")
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.softErr != nil {
		return g.softErr
	}
	if _, ok := g.contexts[id]; !ok {
		return apperrors.NewNotFound("context " + id + " not found")
	}
	g.softDeleted[id] = [2]time.Time{deletedAt, purgeAt}
	return nil
}

func (g *fakeGraph) ExecuteQuery(ctx context.Context, cypher string, params map[string]any, allowWrites bool) ([]map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gotCypher = cypher
	g.gotParams = params
	g.gotWrites = allowWrites
	if g.execErr != nil {
		return nil, g.execErr
	}
	return g.rows, nil
}

func (g *fakeGraph) RelationshipsOf(ctx context.Context, id string) ([]domain.Relationship, error) {
	return g.rels, nil
}

func (g *fakeGraph) Delete(ctx context.Context, id string) error {
	g.log.add("graph-delete")
	return g.MockBackend.Delete(ctx, id)
}

func (g *fakeGraph) seed(c *domain.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.contexts[c.ID] = c
}

type fakeKV struct {
	*mocks.MockBackend

	mu      sync.Mutex
	scratch map[string]string
	ttls    map[string]time.Duration
	setErr  error
	getErr  error
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		MockBackend: mocks.NewBackend(repository.BackendKV),
		scratch:     make(map[string]string),
		ttls:        make(map[string]time.Duration),
	}
}

func (k *fakeKV) SetScratch(ctx context.Context, agentID, key, value string, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.setErr != nil {
		return k.setErr
	}
	k.scratch[agentID+":"+key] = value
	k.ttls[agentID+":"+key] = ttl
	return nil
}

func (k *fakeKV) GetScratch(ctx context.Context, agentID, key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.getErr != nil {
		return "", false, k.getErr
	}
	v, ok := k.scratch[agentID+":"+key]
	return v, ok, nil
}

func (k *fakeKV) ScratchKeys(ctx context.Context, agentID string) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var keys []string
	for full := range k.scratch {
		if strings.HasPrefix(full, agentID+":") {
			keys = append(keys, strings.TrimPrefix(full, agentID+":"))
		}
	}
	return keys, nil
}

func (k *fakeKV) DeleteScratch(ctx context.Context, agentID, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.scratch, agentID+":"+key)
	delete(k.ttls, agentID+":"+key)
	return nil
}

type fakeEmbedder struct {
	mu       sync.Mutex
	ready    bool
	dim      int
	embedErr error
	batchErr error
	status   embedding.Status
	batches  [][]string
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		ready:  true,
		dim:    4,
		status: embedding.Status{BackendConnected: true, ServiceLoaded: true, CollectionOK: true, SelfTestOK: true},
	}
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedErr != nil {
		return nil, e.embedErr
	}
	vec := make([]float32, e.dim)
	vec[0] = 1
	return vec, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches = append(e.batches, append([]string(nil), texts...))
	e.mu.Unlock()
	if e.batchErr != nil {
		return nil, e.batchErr
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, e.dim)
		vec[0] = 1
		vecs[i] = vec
	}
	return vecs, nil
}

func (e *fakeEmbedder) Ready() bool { return e.ready }

func (e *fakeEmbedder) Status() embedding.Status { return e.status }

func (e *fakeEmbedder) lastBatch() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.batches) == 0 {
		return nil
	}
	return e.batches[len(e.batches)-1]
}

type fakeExpander struct {
	pairs []domain.QAPair
}

func (f *fakeExpander) Expand(c *domain.Context) []domain.QAPair { return f.pairs }

type fakeDetector struct {
	stats relationships.Stats
	got   *domain.Context
}

func (f *fakeDetector) Detect(ctx context.Context, c *domain.Context) relationships.Stats {
	f.got = c
	return f.stats
}

type fakeLocker struct {
	mu         sync.Mutex
	acquireErr error
	releaseErr error
	acquired   []string
	released   []string
}

func (f *fakeLocker) Acquire(ctx context.Context, path, holder string, ttl time.Duration) (*namespace.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired = append(f.acquired, path)
	return &namespace.Lease{Namespace: path, Token: "tok-1", Holder: holder, TTL: ttl}, nil
}

func (f *fakeLocker) Release(ctx context.Context, path, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, path)
	return f.releaseErr
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeRecorder) Record(ctx context.Context, ev domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeRecorder) last() (domain.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return domain.Event{}, false
	}
	return f.events[len(f.events)-1], true
}

type fakeDispatcher struct {
	resp  *query.Response
	err   error
	got   *query.Request
	calls int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req query.Request) (*query.Response, error) {
	f.calls++
	f.got = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeClassifier struct {
	cls ranking.Classification
}

func (f *fakeClassifier) Classify(q string) ranking.Classification { return f.cls }

type fakeRewriter struct {
	variants []string
	got      string
}

func (f *fakeRewriter) Rewrite(q string, cls ranking.Classification) []string {
	f.got = q
	return f.variants
}

type auditCall struct {
	contextID     string
	actor         string
	actorType     domain.AuthorType
	reason        string
	mode          domain.DeleteMode
	retentionDays int
}

type fakeAudit struct {
	mu    sync.Mutex
	err   error
	n     int
	calls []auditCall
	log   *opLog
}

func (f *fakeAudit) Record(ctx context.Context, contextID, actor string, actorType domain.AuthorType, reason string, mode domain.DeleteMode, retentionDays int) (string, error) {
	f.log.add("audit")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.n++
	f.calls = append(f.calls, auditCall{contextID, actor, actorType, reason, mode, retentionDays})
	return fmt.Sprintf("audit-%d", f.n), nil
}

type env struct {
	graph      *fakeGraph
	vector     *mocks.MockBackend
	kv         *fakeKV
	text       *mocks.MockBackend
	embedder   *fakeEmbedder
	expander   *fakeExpander
	detector   *fakeDetector
	locks      *fakeLocker
	recorder   *fakeRecorder
	dispatcher *fakeDispatcher
	classifier *fakeClassifier
	rewriter   *fakeRewriter
	audit      *fakeAudit
	cfg        *config.Config
	ops        *opLog
	svc        *service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ops := &opLog{}
	e := &env{
		graph:    newFakeGraph(ops),
		vector:   mocks.NewBackend(repository.BackendVector),
		kv:       newFakeKV(),
		text:     mocks.NewBackend(repository.BackendText),
		embedder: newFakeEmbedder(),
		expander: &fakeExpander{},
		detector: &fakeDetector{},
		locks:    &fakeLocker{},
		recorder: &fakeRecorder{},
		dispatcher: &fakeDispatcher{resp: &query.Response{
			Results:         []query.Result{},
			SourceBreakdown: map[string]int{},
		}},
		classifier: &fakeClassifier{cls: ranking.Classification{Intent: ranking.IntentUnknown}},
		rewriter:   &fakeRewriter{},
		audit:      &fakeAudit{log: ops},
		cfg:        config.Default(),
		ops:        ops,
	}
	svc := NewService(Deps{
		Registry:   repository.NewRegistry(e.vector, e.graph, e.kv, e.text),
		Graph:      e.graph,
		Vector:     e.vector,
		KV:         e.kv,
		Text:       e.text,
		Embedder:   e.embedder,
		Expander:   e.expander,
		Detector:   e.detector,
		Locks:      e.locks,
		Presets:    lifecycle.NewPresets(e.cfg.TTL),
		Recorder:   e.recorder,
		Dispatcher: e.dispatcher,
		Classifier: e.classifier,
		Rewriter:   e.rewriter,
		Audit:      e.audit,
		Metrics:    observability.NewCollector("test"),
		Logger:     zaptest.NewLogger(t),
		Config:     e.cfg,
	}).(*service)
	svc.now = func() time.Time { return svcNow }
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%04d", n)
	}
	e.svc = svc
	return e
}

func (e *env) seedContext(id string) *domain.Context {
	c := &domain.Context{
		ID:        id,
		Type:      domain.TypeDesign,
		Content:   map[string]any{"title": "Retry budget", "text": "Retries use exponential backoff."},
		Author:    "alice",
		CreatedAt: svcNow.Add(-time.Hour),
		Namespace: "global",
	}
	e.graph.seed(c)
	return c
}

func warningKinds(warnings []Warning) []string {
	kinds := make([]string, 0, len(warnings))
	for _, w := range warnings {
		kinds = append(kinds, w.Kind)
	}
	return kinds
}

func hasWarning(warnings []Warning, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w.Message, substr) {
			return true
		}
	}
	return false
}
