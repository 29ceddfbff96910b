package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"ctxstore/internal/interfaces/http/dto"
	"ctxstore/internal/interfaces/http/response"
	"ctxstore/internal/service"
)

// ScratchpadHandler serves agent working memory: scratchpad writes and
// state reads.
type ScratchpadHandler struct {
	service service.Service
	logger  *zap.Logger
}

// NewScratchpadHandler creates a scratchpad handler.
func NewScratchpadHandler(svc service.Service, logger *zap.Logger) *ScratchpadHandler {
	return &ScratchpadHandler{service: svc, logger: logger}
}

// UpdateScratchpad handles POST /tools/update_scratchpad.
func (h *ScratchpadHandler) UpdateScratchpad(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req dto.UpdateScratchpadRequest
	if err := dto.Decode(w, r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	p, err := principalFrom(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	result, err := h.service.UpdateScratchpad(r.Context(), p, req.ToService())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, result, nil, response.Millis(time.Since(start), nil))
}

// GetAgentState handles POST /tools/get_agent_state.
func (h *ScratchpadHandler) GetAgentState(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req dto.GetAgentStateRequest
	if err := dto.Decode(w, r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	p, err := principalFrom(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	result, err := h.service.GetAgentState(r.Context(), p, req.ToService())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, result, nil, response.Millis(time.Since(start), nil))
}
