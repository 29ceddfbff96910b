package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ctxstore/internal/config"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/observability"
	"ctxstore/internal/repository"
)

// Ranker orders merged results and attaches score explanations.
type Ranker interface {
	Rank(ctx context.Context, queryText, policyName string, results []Result) []Result
}

// sequentialOrder runs cheapest backends first so the limit can be covered
// without touching the expensive ones.
var sequentialOrder = []string{
	repository.BackendKV,
	repository.BackendText,
	repository.BackendVector,
	repository.BackendGraph,
}

// fallbackOrder tries the highest-recall backend first.
var fallbackOrder = []string{
	repository.BackendVector,
	repository.BackendText,
	repository.BackendGraph,
	repository.BackendKV,
}

// Dispatcher fans retrievals out across the backend registry.
type Dispatcher struct {
	registry *repository.Registry
	ranker   Ranker
	metrics  *observability.Collector
	logger   *zap.Logger

	deadlines      map[string]time.Duration
	globalDeadline time.Duration
	defaultPolicy  Policy
	defaultLimit   int
	maxLimit       int
	confidence     float64
	sems           map[string]*semaphore.Weighted
}

// NewDispatcher wires the dispatcher. Per-backend deadlines and in-flight
// caps come from configuration; a backend with no explicit deadline gets the
// global one.
func NewDispatcher(
	registry *repository.Registry,
	ranker Ranker,
	cfg config.DispatchConfig,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Dispatcher {
	global := time.Duration(cfg.GlobalDeadlineMS) * time.Millisecond
	if global <= 0 {
		global = 500 * time.Millisecond
	}
	deadlines := make(map[string]time.Duration)
	sems := make(map[string]*semaphore.Weighted)
	for _, name := range registry.Names() {
		deadlines[name] = global
		if ms, ok := cfg.DeadlinesMS[name]; ok && ms > 0 {
			deadlines[name] = time.Duration(ms) * time.Millisecond
		}
		if cfg.MaxInFlight > 0 {
			sems[name] = semaphore.NewWeighted(int64(cfg.MaxInFlight))
		}
	}
	return &Dispatcher{
		registry:       registry,
		ranker:         ranker,
		metrics:        metrics,
		logger:         logger,
		deadlines:      deadlines,
		globalDeadline: global,
		defaultPolicy:  Policy(cfg.DefaultPolicy),
		defaultLimit:   cfg.DefaultLimit,
		maxLimit:       cfg.MaxLimit,
		confidence:     cfg.SmartConfidence,
		sems:           sems,
	}
}

// backendOutcome is what one backend call produced.
type backendOutcome struct {
	name      string
	results   []repository.SearchResult
	took      time.Duration
	err       error
	timedOut  bool
	cancelled bool
}

// Dispatch runs one retrieval end to end: select, fan out, merge, rank.
// Backend failures are reported in the response, not returned; the error is
// non-nil only for invalid requests or when every backend failed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = d.defaultLimit
	}
	if limit > d.maxLimit {
		limit = d.maxLimit
	}

	policy := req.Policy
	if policy == "" {
		policy = d.defaultPolicy
	}
	switch policy {
	case PolicyParallel, PolicySequential, PolicyFallback, PolicySmart:
	default:
		return nil, apperrors.NewValidationf("unknown dispatch policy %q", policy)
	}

	selected, err := d.selectBackends(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.globalDeadline)
	defer cancel()

	q := repository.SearchQuery{
		Text:       req.Text,
		Variants:   req.Variants,
		Vector:     req.Vector,
		AltVectors: req.AltVectors,
		Filters:    req.Filters,
		Limit:      limit,
	}

	var (
		outcomes  map[string]backendOutcome
		attempted []string
	)
	switch policy {
	case PolicySequential:
		outcomes, attempted = d.fanSequential(ctx, selected, q, limit)
	case PolicyFallback:
		outcomes, attempted = d.fanFallback(ctx, selected, q)
	case PolicySmart:
		outcomes, attempted = d.fanParallel(ctx, selected, q, limit, true)
	default:
		outcomes, attempted = d.fanParallel(ctx, selected, q, limit, false)
	}

	return d.assemble(ctx, req, limit, attempted, outcomes)
}

// selectBackends maps the search mode to an ordered backend subset. With no
// query text and no vector, only the graph and KV paths can serve the
// request, whatever the mode asked for.
func (d *Dispatcher) selectBackends(req Request) ([]string, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	var selected []string
	switch mode {
	case ModeVector:
		selected = []string{repository.BackendVector}
	case ModeGraph:
		selected = []string{repository.BackendGraph}
	case ModeText:
		selected = []string{repository.BackendText}
	case ModeKV:
		selected = []string{repository.BackendKV}
	case ModeHybrid:
		selected = []string{
			repository.BackendVector, repository.BackendGraph,
			repository.BackendText, repository.BackendKV,
		}
	case ModeAuto:
		selected = autoSelect(req)
	default:
		return nil, apperrors.NewValidationf("unknown search mode %q", mode)
	}

	if strings.TrimSpace(req.Text) == "" && len(req.Vector) == 0 {
		filterScan := []string{repository.BackendGraph, repository.BackendKV}
		narrowed := intersect(selected, filterScan)
		if len(narrowed) == 0 {
			narrowed = filterScan
		}
		selected = narrowed
	}

	var registered []string
	for _, name := range selected {
		if _, ok := d.registry.Get(name); ok {
			registered = append(registered, name)
		}
	}
	if len(registered) == 0 {
		return nil, apperrors.New(apperrors.KindUnavailable, "no backend available for this query")
	}
	return registered, nil
}

// fanParallel launches every backend concurrently. In smart mode it cancels
// the stragglers once enough confident results arrived from fast backends.
func (d *Dispatcher) fanParallel(ctx context.Context, selected []string, q repository.SearchQuery, limit int, smart bool) (map[string]backendOutcome, []string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		outcomes = make(map[string]backendOutcome, len(selected))
		m        = newMerger()
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range selected {
		g.Go(func() error {
			o := d.searchOne(gctx, name, q)
			mu.Lock()
			defer mu.Unlock()
			outcomes[o.name] = o
			if smart && o.err == nil {
				for _, r := range o.results {
					m.add(o.name, r)
				}
				if m.count() >= limit && m.topScore() >= d.confidence {
					cancel()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, selected
}

// fanSequential runs backends fastest-first and stops once the merged set
// covers the limit.
func (d *Dispatcher) fanSequential(ctx context.Context, selected []string, q repository.SearchQuery, limit int) (map[string]backendOutcome, []string) {
	order := subset(sequentialOrder, selected)
	outcomes := make(map[string]backendOutcome, len(order))
	m := newMerger()
	var attempted []string
	for _, name := range order {
		o := d.searchOne(ctx, name, q)
		outcomes[name] = o
		attempted = append(attempted, name)
		if o.err != nil {
			continue
		}
		for _, r := range o.results {
			m.add(name, r)
		}
		if m.count() >= limit {
			break
		}
	}
	return outcomes, attempted
}

// fanFallback tries one backend at a time and stops at the first that
// returns anything.
func (d *Dispatcher) fanFallback(ctx context.Context, selected []string, q repository.SearchQuery) (map[string]backendOutcome, []string) {
	order := subset(fallbackOrder, selected)
	outcomes := make(map[string]backendOutcome, len(order))
	var attempted []string
	for _, name := range order {
		o := d.searchOne(ctx, name, q)
		outcomes[name] = o
		attempted = append(attempted, name)
		if o.err == nil && len(o.results) > 0 {
			break
		}
	}
	return outcomes, attempted
}

// searchOne calls a single backend under its own deadline and in-flight cap.
func (d *Dispatcher) searchOne(ctx context.Context, name string, q repository.SearchQuery) backendOutcome {
	backend, ok := d.registry.Get(name)
	if !ok {
		return backendOutcome{name: name, err: apperrors.New(apperrors.KindUnavailable, "backend not registered: "+name)}
	}
	bctx, cancel := context.WithTimeout(ctx, d.deadlines[name])
	defer cancel()

	start := time.Now()
	if sem := d.sems[name]; sem != nil {
		if err := sem.Acquire(bctx, 1); err != nil {
			o := backendOutcome{name: name, took: time.Since(start), err: err}
			return classify(o, bctx)
		}
		defer sem.Release(1)
	}
	results, err := backend.Search(bctx, q)
	o := backendOutcome{name: name, results: results, took: time.Since(start), err: err}
	if d.metrics != nil {
		d.metrics.ObserveSearch(name, o.took, err)
	}
	return classify(o, bctx)
}

// classify splits failures into timeouts, cancellations, and real errors.
// The backend may wrap the context error, so the context itself is checked
// as well.
func classify(o backendOutcome, bctx context.Context) backendOutcome {
	if o.err == nil {
		return o
	}
	switch {
	case errors.Is(o.err, context.DeadlineExceeded) || errors.Is(bctx.Err(), context.DeadlineExceeded):
		o.timedOut = true
	case errors.Is(o.err, context.Canceled) || errors.Is(bctx.Err(), context.Canceled):
		o.cancelled = true
	}
	return o
}

// assemble merges per-backend outcomes into one ranked response cut to the
// limit. Every final result is attributed to its winning backend, so the
// breakdown sums to the result count.
func (d *Dispatcher) assemble(ctx context.Context, req Request, limit int, attempted []string, outcomes map[string]backendOutcome) (*Response, error) {
	resp := &Response{
		SourceBreakdown: make(map[string]int),
		BackendsUsed:    attempted,
		Failures:        make(map[string]string),
		Timings:         make(map[string]time.Duration, len(attempted)),
	}
	m := newMerger()
	failed := 0
	for _, name := range attempted {
		o := outcomes[name]
		resp.Timings[name] = o.took
		switch {
		case o.timedOut:
			resp.TimedOut = append(resp.TimedOut, name)
			resp.Failures[name] = "deadline exceeded"
			failed++
		case o.cancelled:
			resp.Cancelled = append(resp.Cancelled, name)
		case o.err != nil:
			resp.Failures[name] = o.err.Error()
			failed++
			d.logger.Warn("backend search failed",
				zap.String("backend", name), zap.Error(o.err))
		case len(o.results) == 0:
			resp.Empty = append(resp.Empty, name)
		default:
			for _, r := range o.results {
				m.add(name, r)
			}
		}
	}
	if failed > 0 && failed == len(attempted) {
		return nil, apperrors.New(apperrors.KindUnavailable,
			fmt.Sprintf("all backends failed: %s", strings.Join(attempted, ", ")))
	}

	results := m.results()
	if d.ranker != nil && len(results) > 0 {
		results = d.ranker.Rank(ctx, req.Text, req.RankingPolicy, results)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	for _, r := range results {
		resp.SourceBreakdown[r.Source]++
	}
	resp.Results = results
	return resp, nil
}

// intersect keeps the elements of selected that appear in allowed,
// preserving selection order.
func intersect(selected, allowed []string) []string {
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	var out []string
	for _, s := range selected {
		if ok[s] {
			out = append(out, s)
		}
	}
	return out
}

// subset keeps the elements of order that appear in selected, in order's
// sequence, then any selected backends order does not know about.
func subset(order, selected []string) []string {
	in := make(map[string]bool, len(selected))
	for _, s := range selected {
		in[s] = true
	}
	var out []string
	for _, name := range order {
		if in[name] {
			out = append(out, name)
			delete(in, name)
		}
	}
	for _, s := range selected {
		if in[s] {
			out = append(out, s)
		}
	}
	return out
}
