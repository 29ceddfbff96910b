package service

import (
	"context"
	"strconv"
	"strings"

	"ctxstore/internal/auth"
	apperrors "ctxstore/internal/errors"
)

// Graph queries never return more rows than this regardless of what the
// cypher asks for.
const maxGraphRows = 1000

// GraphQueryRequest is one query_graph call.
type GraphQueryRequest struct {
	Cypher string
	Params map[string]any
}

// GraphQueryResult carries the raw rows of a graph query.
type GraphQueryResult struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`

	Warnings []Warning `json:"-"`
}

// QueryGraph runs cypher against the graph backend. Readers get a read-only
// session and write clauses are rejected up front; admins run in a write
// session.
func (s *service) QueryGraph(ctx context.Context, p auth.Principal, req GraphQueryRequest) (*GraphQueryResult, error) {
	if err := p.Can(auth.OpQueryGraph); err != nil {
		return nil, err
	}
	cypher := strings.TrimSpace(req.Cypher)
	if cypher == "" {
		return nil, apperrors.NewValidation("cypher must not be blank")
	}

	allowWrites := p.Can(auth.OpQueryGraphWrite) == nil
	rows, err := s.deps.Graph.ExecuteQuery(ctx, cypher, req.Params, allowWrites)
	if err != nil {
		return nil, err
	}

	result := &GraphQueryResult{Rows: rows, RowCount: len(rows)}
	if len(rows) > maxGraphRows {
		result.Rows = rows[:maxGraphRows]
		result.RowCount = maxGraphRows
		result.Warnings = append(result.Warnings, Warning{
			Kind:    string(apperrors.KindPartial),
			Message: "result truncated to " + strconv.Itoa(maxGraphRows) + " rows",
		})
	}
	return result, nil
}
