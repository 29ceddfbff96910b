package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"ctxstore/internal/auth"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/namespace"
	"ctxstore/internal/query"
	"ctxstore/internal/repository"
)

// Sort orders for retrieval results.
const (
	SortByTimestamp = "timestamp"
	SortByRelevance = "relevance"
)

// RetrieveRequest is one retrieve_context call. Limit distinguishes unset
// (nil, use the default) from an explicit zero, which returns no results
// without touching any backend.
type RetrieveRequest struct {
	Query         string
	Mode          string
	Policy        string
	RankingPolicy string
	Limit         *int
	SortBy        string

	Namespace string
	Types     []string
	Tags      []string
	Author    string
	Since     *time.Time
	Until     *time.Time
}

// RetrievedContext is one hit as returned to the caller.
type RetrievedContext struct {
	ID          string             `json:"id"`
	Score       float64            `json:"score"`
	Source      string             `json:"source"`
	Sources     []string           `json:"sources"`
	Payload     map[string]any     `json:"payload"`
	CreatedAt   time.Time          `json:"created_at"`
	Hops        int                `json:"hops,omitempty"`
	ViaStitched bool               `json:"via_stitched,omitempty"`
	Explanation *query.Explanation `json:"explanation,omitempty"`
}

// RetrieveResult is the tool response plus the dispatch accounting the
// envelope reports.
type RetrieveResult struct {
	Results         []RetrievedContext `json:"results"`
	SourceBreakdown map[string]int     `json:"source_breakdown"`
	BackendsUsed    []string           `json:"backends_used"`
	TimedOut        []string           `json:"timed_out,omitempty"`
	SortedBy        string             `json:"sorted_by"`
	Rewrites        []string           `json:"rewrites,omitempty"`

	Warnings []Warning                `json:"-"`
	Timings  map[string]time.Duration `json:"-"`
}

// RetrieveContext classifies and rewrites the query, embeds the variants,
// and dispatches across the backends. Backend failures surface as warnings
// as long as at least one backend answered.
func (s *service) RetrieveContext(ctx context.Context, p auth.Principal, req RetrieveRequest) (*RetrieveResult, error) {
	if err := p.Can(auth.OpRetrieve); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(req.Query)
	filters, err := s.buildFilters(req)
	if err != nil {
		return nil, err
	}
	if text == "" && filters.Empty() {
		return nil, apperrors.NewValidation("query must not be blank unless filters are set")
	}

	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = SortByTimestamp
	}
	if sortBy != SortByTimestamp && sortBy != SortByRelevance {
		return nil, apperrors.NewValidationf("unknown sort_by %q", req.SortBy)
	}

	result := &RetrieveResult{
		Results:         []RetrievedContext{},
		SourceBreakdown: map[string]int{},
		SortedBy:        sortBy,
	}
	warn := func(kind, message string) {
		result.Warnings = append(result.Warnings, Warning{Kind: kind, Message: message})
	}

	limit := s.deps.Config.Dispatch.DefaultLimit
	if req.Limit != nil {
		switch {
		case *req.Limit < 0:
			return nil, apperrors.NewValidationf("limit must not be negative, got %d", *req.Limit)
		case *req.Limit == 0:
			return result, nil
		case *req.Limit > s.deps.Config.Dispatch.MaxLimit:
			limit = s.deps.Config.Dispatch.MaxLimit
			warn(string(apperrors.KindValidation),
				"limit clamped to the maximum of "+strconv.Itoa(s.deps.Config.Dispatch.MaxLimit))
		default:
			limit = *req.Limit
		}
	}

	var variants []string
	var vec []float32
	var altVecs [][]float32
	if text != "" {
		cls := s.deps.Classifier.Classify(text)
		variants = s.deps.Rewriter.Rewrite(text, cls)
		result.Rewrites = variants

		if s.deps.Embedder.Ready() {
			vecs, err := s.deps.Embedder.EmbedBatch(ctx, append([]string{text}, variants...))
			if err != nil || len(vecs) == 0 {
				warn(string(apperrors.KindPartial), "query embedding failed, dense search skipped")
			} else {
				vec = vecs[0]
				altVecs = vecs[1:]
			}
		} else {
			warn(string(apperrors.KindPartial), "embedding pipeline unavailable, dense search skipped")
		}
	}

	resp, err := s.deps.Dispatcher.Dispatch(ctx, query.Request{
		Text:          text,
		Variants:      variants,
		Vector:        vec,
		AltVectors:    altVecs,
		Mode:          query.Mode(req.Mode),
		Policy:        query.Policy(req.Policy),
		Filters:       filters,
		Limit:         limit,
		RankingPolicy: req.RankingPolicy,
	})
	if err != nil {
		return nil, err
	}

	result.BackendsUsed = resp.BackendsUsed
	result.TimedOut = resp.TimedOut
	result.SourceBreakdown = resp.SourceBreakdown
	result.Timings = resp.Timings
	for backend, reason := range resp.Failures {
		warn(string(apperrors.KindPartial), backend+" backend failed: "+reason)
	}

	result.Results = make([]RetrievedContext, 0, len(resp.Results))
	for _, r := range resp.Results {
		result.Results = append(result.Results, RetrievedContext{
			ID:          r.ID,
			Score:       r.Score,
			Source:      r.Source,
			Sources:     r.Sources,
			Payload:     r.Payload,
			CreatedAt:   r.CreatedAt,
			Hops:        r.Hops,
			ViaStitched: r.ViaStitched,
			Explanation: r.Explanation,
		})
	}
	if sortBy == SortByTimestamp {
		sort.SliceStable(result.Results, func(i, j int) bool {
			if !result.Results[i].CreatedAt.Equal(result.Results[j].CreatedAt) {
				return result.Results[i].CreatedAt.After(result.Results[j].CreatedAt)
			}
			return result.Results[i].ID < result.Results[j].ID
		})
	}

	if s.deps.Metrics != nil {
		for backend, n := range result.SourceBreakdown {
			s.deps.Metrics.SearchResults.WithLabelValues(backend).Add(float64(n))
		}
	}
	return result, nil
}

// buildFilters validates and assembles the backend filters. An explicit
// namespace must parse; scoping to someone else's namespace is legitimate
// for readers, so no principal check happens here.
func (s *service) buildFilters(req RetrieveRequest) (repository.Filters, error) {
	f := repository.Filters{
		Tags:   req.Tags,
		Author: strings.TrimSpace(req.Author),
		Since:  req.Since,
		Until:  req.Until,
	}
	if ns := strings.TrimSpace(req.Namespace); ns != "" {
		parsed, err := namespace.Parse(ns)
		if err != nil {
			return repository.Filters{}, err
		}
		f.Namespace = parsed.Path()
	}
	for _, t := range req.Types {
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			continue
		}
		f.Types = append(f.Types, trimmed)
	}
	if req.Since != nil && req.Until != nil && req.Since.After(*req.Until) {
		return repository.Filters{}, apperrors.NewValidation("since must not be after until")
	}
	return f, nil
}
