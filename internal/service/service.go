// Package service orchestrates the tool operations. Each method owns one
// tool's semantics end to end: authorization, validation, the multi-backend
// write or read choreography, and the warnings that describe what partially
// failed. Handlers above this package only translate HTTP; adapters below
// it only talk to their engine.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ctxstore/internal/auth"
	"ctxstore/internal/config"
	"ctxstore/internal/domain"
	"ctxstore/internal/embedding"
	"ctxstore/internal/lifecycle"
	"ctxstore/internal/namespace"
	"ctxstore/internal/observability"
	"ctxstore/internal/query"
	"ctxstore/internal/ranking"
	"ctxstore/internal/relationships"
	"ctxstore/internal/repository"
)

// Service is the tool surface.
type Service interface {
	StoreContext(ctx context.Context, p auth.Principal, req StoreRequest) (*StoreResult, error)
	RetrieveContext(ctx context.Context, p auth.Principal, req RetrieveRequest) (*RetrieveResult, error)
	QueryGraph(ctx context.Context, p auth.Principal, req GraphQueryRequest) (*GraphQueryResult, error)
	UpdateScratchpad(ctx context.Context, p auth.Principal, req ScratchpadRequest) (*ScratchpadResult, error)
	GetAgentState(ctx context.Context, p auth.Principal, req AgentStateRequest) (*AgentStateResult, error)
	DeleteContext(ctx context.Context, p auth.Principal, req DeleteRequest) (*DeleteResult, error)
	ForgetContext(ctx context.Context, p auth.Principal, req ForgetRequest) (*ForgetResult, error)
	ListTools(ctx context.Context, p auth.Principal) (*ToolCatalog, error)
	HealthDetailed(ctx context.Context) *HealthReport
}

// GraphStore is the graph adapter surface the orchestrator needs beyond the
// generic backend contract. The graph write is the commit point of a store.
type GraphStore interface {
	repository.Backend
	GetContext(ctx context.Context, id string) (*domain.Context, error)
	MarkIndexed(ctx context.Context, id, vectorID string) error
	SoftDelete(ctx context.Context, id string, deletedAt, purgeAt time.Time) error
	ExecuteQuery(ctx context.Context, cypher string, params map[string]any, allowWrites bool) ([]map[string]any, error)
	RelationshipsOf(ctx context.Context, id string) ([]domain.Relationship, error)
}

// KVStore is the KV adapter surface for scratchpads on top of the generic
// backend contract.
type KVStore interface {
	repository.Backend
	SetScratch(ctx context.Context, agentID, key, value string, ttl time.Duration) error
	GetScratch(ctx context.Context, agentID, key string) (string, bool, error)
	ScratchKeys(ctx context.Context, agentID string) ([]string, error)
	DeleteScratch(ctx context.Context, agentID, key string) error
}

// Embedder produces dense vectors and reports pipeline health.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Ready() bool
	Status() embedding.Status
}

// Expander derives Q&A pairs from a context at write time.
type Expander interface {
	Expand(c *domain.Context) []domain.QAPair
}

// Detector finds relationship edges for a freshly stored context.
type Detector interface {
	Detect(ctx context.Context, c *domain.Context) relationships.Stats
}

// Locker grants and releases namespace write leases.
type Locker interface {
	Acquire(ctx context.Context, path, holder string, ttl time.Duration) (*namespace.Lease, error)
	Release(ctx context.Context, path, token string) error
}

// EventRecorder appends lifecycle events, best effort.
type EventRecorder interface {
	Record(ctx context.Context, ev domain.Event)
}

// Dispatcher fans a retrieval across the backends.
type Dispatcher interface {
	Dispatch(ctx context.Context, req query.Request) (*query.Response, error)
}

// Classifier labels a query with an intent.
type Classifier interface {
	Classify(q string) ranking.Classification
}

// Rewriter derives query variants from a classified query.
type Rewriter interface {
	Rewrite(q string, cls ranking.Classification) []string
}

// AuditTrail records destructive operations before they run.
type AuditTrail interface {
	Record(ctx context.Context, contextID, actor string, actorType domain.AuthorType, reason string, mode domain.DeleteMode, retentionDays int) (string, error)
}

// Warning describes a non-fatal degradation inside a successful operation.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Deps carries everything the service composes. All fields are required
// unless noted.
type Deps struct {
	Registry   *repository.Registry
	Graph      GraphStore
	Vector     repository.Backend
	KV         KVStore
	Text       repository.Backend
	Embedder   Embedder
	Expander   Expander
	Detector   Detector
	Locks      Locker
	Presets    lifecycle.Presets
	Recorder   EventRecorder
	Dispatcher Dispatcher
	Classifier Classifier
	Rewriter   Rewriter
	Audit      AuditTrail
	Metrics    *observability.Collector
	Logger     *zap.Logger
	Config     *config.Config
}

type service struct {
	deps Deps

	now   func() time.Time
	newID func() string
}

// monotonicClock issues strictly increasing UTC timestamps, so created_at
// values stay ordered per instance even when the wall clock stalls or steps
// backwards under NTP adjustment.
type monotonicClock struct {
	mu   sync.Mutex
	wall func() time.Time
	last time.Time
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.wall().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}

// NewService wires the orchestrator.
func NewService(deps Deps) Service {
	clock := &monotonicClock{wall: time.Now}
	return &service{
		deps:  deps,
		now:   clock.Now,
		newID: func() string { return uuid.NewString() },
	}
}

func (s *service) log() *zap.Logger { return s.deps.Logger }

// recordEvent appends a lifecycle event without ever failing the caller.
func (s *service) recordEvent(ctx context.Context, op domain.EventOp, contextID, actor, namespace, outcome string) {
	if s.deps.Recorder == nil {
		return
	}
	s.deps.Recorder.Record(ctx, domain.Event{
		Op:        op,
		ContextID: contextID,
		Actor:     actor,
		Timestamp: s.now().UTC(),
		Namespace: namespace,
		Outcome:   outcome,
	})
}
