package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"ctxstore/internal/interfaces/http/dto"
	"ctxstore/internal/interfaces/http/response"
	"ctxstore/internal/service"
)

// GraphHandler serves the raw graph query tool.
type GraphHandler struct {
	service service.Service
	logger  *zap.Logger
}

// NewGraphHandler creates a graph handler.
func NewGraphHandler(svc service.Service, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{service: svc, logger: logger}
}

// QueryGraph handles POST /tools/query_graph.
func (h *GraphHandler) QueryGraph(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req dto.QueryGraphRequest
	if err := dto.Decode(w, r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	p, err := principalFrom(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	result, err := h.service.QueryGraph(r.Context(), p, req.ToService())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, result, toWarnings(result.Warnings), response.Millis(time.Since(start), nil))
}
