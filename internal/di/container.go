// Package di wires the application graph by hand. Components are built in
// dependency order inside initialize, and every component that owns a
// connection registers a cleanup that Shutdown runs in reverse.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"ctxstore/internal/audit"
	"ctxstore/internal/auth"
	"ctxstore/internal/config"
	"ctxstore/internal/embedding"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/expansion"
	"ctxstore/internal/interfaces/http/rest"
	"ctxstore/internal/lifecycle"
	"ctxstore/internal/namespace"
	"ctxstore/internal/observability"
	"ctxstore/internal/query"
	"ctxstore/internal/ranking"
	"ctxstore/internal/relationships"
	"ctxstore/internal/repository"
	"ctxstore/internal/repository/graphdb"
	"ctxstore/internal/repository/kvstore"
	"ctxstore/internal/repository/textindex"
	"ctxstore/internal/repository/vectordb"
	"ctxstore/internal/service"
)

// Sentinel errors the entrypoint maps to process exit codes.
var (
	// ErrBackendsUnreachable means a storage engine stayed down past the
	// startup grace period.
	ErrBackendsUnreachable = errors.New("storage backends unreachable")

	// ErrEmbeddingSelfTest means the embedding pipeline failed its startup
	// check while strict mode is on.
	ErrEmbeddingSelfTest = errors.New("embedding self-test failed in strict mode")
)

// Container holds every long-lived component. Fields are exported so the
// entrypoint and tests can reach the pieces they drive directly.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Collector
	Tracing *observability.Tracing

	Embedder *embedding.Service
	Vector   *vectordb.Store
	Graph    *graphdb.Store
	KV       *kvstore.Store
	Text     *textindex.Index
	Registry *repository.Registry

	Service       service.Service
	Authenticator *auth.Authenticator
	Limiter       *auth.RateLimiter
	Worker        *lifecycle.Worker
	Handler       http.Handler

	shutdownFuncs []func(context.Context) error
}

// NewContainer builds the dependency graph and verifies backend
// connectivity. On failure the partially built container is shut down before
// the error is returned, so callers never have to clean up a half-open set
// of connections.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}
	if err := c.initialize(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(shutdownCtx)
		return nil, err
	}
	return c, nil
}

// initialize builds the components in dependency order.
func (c *Container) initialize(ctx context.Context) error {
	// 1. Observability. A failed trace exporter downgrades to no-op; the
	// service never refuses to start over telemetry.
	c.Metrics = observability.NewCollector("ctxstore")
	tracing, err := observability.InitTracing(ctx, "ctxstore", c.Config.Environment,
		c.Config.Tracing.Endpoint, c.Config.Tracing.Enabled)
	if err != nil {
		c.Logger.Warn("tracing exporter unavailable, spans disabled", zap.Error(err))
		tracing, _ = observability.InitTracing(ctx, "ctxstore", c.Config.Environment, "", false)
	}
	c.Tracing = tracing
	c.addShutdown(tracing.Shutdown)

	// 2. Embedding client. Construction does no I/O; the self-test runs
	// after the vector collection check so the health snapshot is complete.
	c.Embedder = embedding.New(
		c.Config.Embedding.Endpoint,
		c.Config.Embedding.Model,
		c.Config.Embedding.Dimensions,
		c.Config.Embedding.Timeout.Std(),
		c.Logger,
	)

	// 3. Storage engines, retried within the startup grace period.
	if err := c.connectBackends(ctx); err != nil {
		return err
	}

	// 4. Embedding self-test.
	if err := c.verifyEmbedding(ctx); err != nil {
		return err
	}

	// 5. Lexical index, reloaded from the graph's surviving contexts.
	c.rebuildTextIndex(ctx)

	// 6. Retrieval pipeline.
	classifier := ranking.NewClassifier()
	scorer := ranking.NewScorer(c.Config.Ranking, classifier, c.Logger)
	rewriter := ranking.NewRewriter(classifier, c.Config.Ranking.MaxRewrites, c.Config.Ranking.RewriteConfidence)
	dispatcher := query.NewDispatcher(c.Registry, scorer, c.Config.Dispatch, c.Metrics, c.Logger)

	// 7. Write-path collaborators.
	expander := expansion.New(c.Config.Expansion.MaxPairs)
	detector := relationships.New(c.Graph, c.Logger)
	locks := namespace.NewLockManager(c.KV, c.Config.Locks, c.Logger)
	presets := lifecycle.NewPresets(c.Config.TTL)
	recorder := lifecycle.NewRecorder(c.KV, c.Config.Sync.EventCap, c.Config.Sync.EventRetention.Std(), c.Logger)
	trail := audit.NewTrail(c.Graph, c.Logger)

	// 8. Orchestrator.
	c.Service = service.NewService(service.Deps{
		Registry:   c.Registry,
		Graph:      c.Graph,
		Vector:     c.Vector,
		KV:         c.KV,
		Text:       c.Text,
		Embedder:   c.Embedder,
		Expander:   expander,
		Detector:   detector,
		Locks:      locks,
		Presets:    presets,
		Recorder:   recorder,
		Dispatcher: dispatcher,
		Classifier: classifier,
		Rewriter:   rewriter,
		Audit:      trail,
		Metrics:    c.Metrics,
		Logger:     c.Logger,
		Config:     c.Config,
	})

	// 9. Background sync worker. Stop blocks until the final event flush
	// finishes, so it registers before the backend closers run.
	c.Worker = lifecycle.NewWorker(
		c.Graph, c.KV,
		[]lifecycle.Deleter{c.Vector, c.Text},
		recorder,
		c.Config.Sync, c.Config.TTL,
		c.Metrics, c.Logger,
	)
	c.Worker.Start(context.Background())
	c.addShutdown(func(context.Context) error {
		c.Worker.Stop()
		return nil
	})

	// 10. HTTP surface.
	c.Authenticator = auth.NewAuthenticator(c.Config.Auth, c.Logger)
	c.Limiter = auth.NewRateLimiter(c.Config.Auth.RatePerMinute)
	c.addShutdown(func(context.Context) error {
		c.Limiter.Stop()
		return nil
	})
	c.Handler = rest.NewRouter(c.Service, c.Authenticator, c.Limiter, c.Metrics, c.Logger, c.Config).Setup()

	c.Logger.Info("container initialized",
		zap.Strings("backends", c.Registry.Names()),
		zap.String("embedding_model", c.Config.Embedding.Model),
	)
	return nil
}

// connectBackends builds the three storage adapters and pings them until all
// answer or the grace period runs out. Construction errors are configuration
// problems and fail immediately; connectivity errors are retried.
func (c *Container) connectBackends(ctx context.Context) error {
	db, err := vectordb.NewDB(c.Config.Storage.Vector.DSN)
	if err != nil {
		return fmt.Errorf("vector dsn: %w", err)
	}
	vector, err := vectordb.New(db, c.Config.Storage.Vector.Table, c.Config.Embedding.Dimensions, c.Logger)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	driver, err := graphdb.NewDriver(c.Config.Storage.Graph.URI, c.Config.Storage.Graph.Username, c.Config.Storage.Graph.Password)
	if err != nil {
		return fmt.Errorf("graph driver: %w", err)
	}
	graph := graphdb.New(driver, c.Config.Storage.Graph.Database, c.Logger)
	kv := kvstore.New(
		kvstore.NewClient(c.Config.Storage.KV.Addr, c.Config.Storage.KV.Password, c.Config.Storage.KV.DB),
		c.Config.Retention.Map(),
		c.Logger,
	)

	attempt := 0
	ping := func() error {
		attempt++
		pingErr := errors.Join(
			prefixErr("vector", vector.Ping(ctx)),
			prefixErr("graph", graph.Ping(ctx)),
			prefixErr("kv", kv.Ping(ctx)),
		)
		if pingErr != nil {
			c.Logger.Warn("waiting for storage backends",
				zap.Int("attempt", attempt),
				zap.Error(pingErr),
			)
		}
		return pingErr
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = c.Config.Storage.StartupGrace.Std()
	if err := backoff.Retry(ping, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendsUnreachable, err)
	}

	if err := graph.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("%w: graph schema: %v", ErrBackendsUnreachable, err)
	}
	if err := vector.EnsureSchema(ctx); err != nil {
		// A dimension mismatch is a validation error: the collection exists
		// but disagrees with configuration. Strict mode refuses to start;
		// otherwise the service runs with dense search degraded.
		if apperrors.KindOf(err) != apperrors.KindValidation {
			return fmt.Errorf("%w: vector schema: %v", ErrBackendsUnreachable, err)
		}
		if c.Config.Embedding.Strict {
			return fmt.Errorf("%w: %v", ErrEmbeddingSelfTest, err)
		}
		c.Embedder.SetCollectionOK(false, err.Error())
		c.Logger.Warn("vector collection mismatch, dense search degraded", zap.Error(err))
	} else {
		c.Embedder.SetCollectionOK(true, "")
	}

	c.Vector = vector
	c.Graph = graph
	c.KV = kv
	c.Text = textindex.New()
	c.Registry = repository.NewRegistry(c.Graph, c.Vector, c.KV, c.Text)

	c.addShutdown(func(ctx context.Context) error { return c.Graph.Close(ctx) })
	c.addShutdown(func(context.Context) error { return c.Vector.Close() })
	c.addShutdown(func(context.Context) error { return c.KV.Close() })
	return nil
}

// verifyEmbedding runs the startup self-test. Strict mode turns a failure
// into a fatal error; otherwise writes proceed without vectors.
func (c *Container) verifyEmbedding(ctx context.Context) error {
	st := c.Embedder.SelfTest(ctx)
	if st.SelfTestOK {
		return nil
	}
	if c.Config.Embedding.Strict {
		return fmt.Errorf("%w: %s", ErrEmbeddingSelfTest, st.Error)
	}
	c.Logger.Warn("embedding degraded, contexts will store without vectors", zap.String("error", st.Error))
	return nil
}

// rebuildTextIndex reloads the in-memory lexical index from the graph. The
// index is rebuildable state, so failure degrades rather than aborts.
func (c *Container) rebuildTextIndex(ctx context.Context) {
	records, err := c.Graph.AllRecords(ctx)
	if err != nil {
		c.Logger.Warn("text index rebuild failed, lexical search starts empty", zap.Error(err))
		return
	}
	if err := c.Text.Rebuild(ctx, records); err != nil {
		c.Logger.Warn("text index rebuild failed, lexical search starts empty", zap.Error(err))
		return
	}
	c.Logger.Info("text index rebuilt", zap.Int("documents", c.Text.Len()))
}

func (c *Container) addShutdown(fn func(context.Context) error) {
	c.shutdownFuncs = append(c.shutdownFuncs, fn)
}

// Shutdown releases every component in reverse construction order and
// reports all cleanup failures together. Safe on a partially built
// container.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(c.shutdownFuncs) - 1; i >= 0; i-- {
		if err := c.shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.shutdownFuncs = nil
	return errors.Join(errs...)
}

// prefixErr labels a backend error with the engine name for the startup log.
func prefixErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
