package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the service. Each instance
// owns its registry so tests never collide on duplicate registration.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Dispatcher metrics
	SearchDuration *prometheus.HistogramVec
	SearchErrors   *prometheus.CounterVec
	SearchResults  *prometheus.CounterVec

	// Store path metrics
	StoreOutcomes      *prometheus.CounterVec
	EmbeddingRequests  *prometheus.CounterVec
	RelationshipsFound prometheus.Counter

	// Lifecycle metrics
	EventsSynced    prometheus.Counter
	ContextsPurged  prometheus.Counter
	TTLViolations   prometheus.Counter
	RateLimitedHits prometheus.Counter
}

// NewCollector creates a metrics collector with its own registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_search_duration_seconds",
			Help:      "Per-backend search latency",
			Buckets:   []float64{.001, .003, .01, .02, .05, .1, .2, .5, 1},
		}, []string{"backend"}),
		SearchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_search_errors_total",
			Help:      "Per-backend search failures by reason",
		}, []string{"backend", "reason"}),
		SearchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_search_results_total",
			Help:      "Results attributed to each backend after merging",
		}, []string{"backend"}),
		StoreOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_outcomes_total",
			Help:      "Store operations by outcome",
		}, []string{"outcome"}),
		EmbeddingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding calls by status",
		}, []string{"status"}),
		RelationshipsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relationships_detected_total",
			Help:      "Auto-detected relationship edges created",
		}),
		EventsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_synced_total",
			Help:      "Events persisted into the graph by the sync worker",
		}),
		ContextsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contexts_purged_total",
			Help:      "Soft-deleted contexts hard-removed by the sweeper",
		}),
		TTLViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ttl_violations_total",
			Help:      "KV keys found without a TTL during sweeps",
		}),
		RateLimitedHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}

	c.registry.MustRegister(
		c.HTTPRequests, c.HTTPDuration,
		c.SearchDuration, c.SearchErrors, c.SearchResults,
		c.StoreOutcomes, c.EmbeddingRequests, c.RelationshipsFound,
		c.EventsSynced, c.ContextsPurged, c.TTLViolations, c.RateLimitedHits,
	)
	return c
}

// Registry exposes the collector's registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveSearch records one backend search call.
func (c *Collector) ObserveSearch(backend string, d time.Duration, err error) {
	c.SearchDuration.WithLabelValues(backend).Observe(d.Seconds())
	if err != nil {
		c.SearchErrors.WithLabelValues(backend, "error").Inc()
	}
}
