// Package rest assembles the HTTP surface: one POST route per tool under
// /tools, the catalog, health probes and the Prometheus scrape endpoint.
package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ctxstore/internal/auth"
	"ctxstore/internal/config"
	"ctxstore/internal/interfaces/http/rest/handlers"
	"ctxstore/internal/middleware"
	"ctxstore/internal/observability"
	"ctxstore/internal/service"
)

// Router builds the HTTP handler tree.
type Router struct {
	service       service.Service
	authenticator *auth.Authenticator
	limiter       *auth.RateLimiter
	metrics       *observability.Collector
	logger        *zap.Logger
	cfg           *config.Config
}

// NewRouter creates a router over the assembled service.
func NewRouter(
	svc service.Service,
	authenticator *auth.Authenticator,
	limiter *auth.RateLimiter,
	metrics *observability.Collector,
	logger *zap.Logger,
	cfg *config.Config,
) *Router {
	return &Router{
		service:       svc,
		authenticator: authenticator,
		limiter:       limiter,
		metrics:       metrics,
		logger:        logger,
		cfg:           cfg,
	}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.TraceID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Recovery(rt.logger))
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Metrics(rt.metrics))
	router.Use(middleware.Timeout(time.Duration(rt.cfg.Server.RequestTimeout), rt.logger))

	// CORS configuration. Keys travel in headers, not cookies, so no
	// credentialed requests.
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	// Probes and the scrape endpoint need no key.
	healthHandler := handlers.NewHealthHandler(rt.service, rt.logger)
	router.Get("/health", healthHandler.Health)
	router.Get("/health/detailed", healthHandler.HealthDetailed)
	router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}))

	// Tool endpoints
	router.Route("/tools", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.authenticator))
		r.Use(middleware.RateLimit(rt.limiter, rt.metrics))

		r.Get("/", healthHandler.ListTools)

		contextHandler := handlers.NewContextHandler(rt.service, rt.logger)
		r.Post("/store_context", contextHandler.StoreContext)
		r.Post("/retrieve_context", contextHandler.RetrieveContext)
		r.Post("/delete_context", contextHandler.DeleteContext)
		r.Post("/forget_context", contextHandler.ForgetContext)

		scratchpadHandler := handlers.NewScratchpadHandler(rt.service, rt.logger)
		r.Post("/update_scratchpad", scratchpadHandler.UpdateScratchpad)
		r.Post("/get_agent_state", scratchpadHandler.GetAgentState)

		// Raw graph queries get their own breaker: the per-backend
		// breakers below the service shed a flapping driver, but a
		// sustained 5xx streak here means the graph itself is down
		// and pass-through queries should fail fast. Tools that
		// degrade without the graph stay reachable.
		graphHandler := handlers.NewGraphHandler(rt.service, rt.logger)
		r.With(middleware.CircuitBreaker(
			middleware.DefaultCircuitBreakerConfig("query_graph"), rt.logger,
		)).Post("/query_graph", graphHandler.QueryGraph)
	})

	return router
}
