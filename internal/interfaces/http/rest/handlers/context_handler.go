package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"ctxstore/internal/interfaces/http/dto"
	"ctxstore/internal/interfaces/http/response"
	"ctxstore/internal/service"
)

// ContextHandler serves the context lifecycle tools: store, retrieve,
// delete and forget.
type ContextHandler struct {
	service service.Service
	logger  *zap.Logger
}

// NewContextHandler creates a context handler.
func NewContextHandler(svc service.Service, logger *zap.Logger) *ContextHandler {
	return &ContextHandler{service: svc, logger: logger}
}

// StoreContext handles POST /tools/store_context.
func (h *ContextHandler) StoreContext(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req dto.StoreContextRequest
	if err := dto.Decode(w, r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	p, err := principalFrom(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	result, err := h.service.StoreContext(r.Context(), p, req.ToService())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, result, toWarnings(result.Warnings), response.Millis(time.Since(start), nil))
}

// RetrieveContext handles POST /tools/retrieve_context.
func (h *ContextHandler) RetrieveContext(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req dto.RetrieveContextRequest
	if err := dto.Decode(w, r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	p, err := principalFrom(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	result, err := h.service.RetrieveContext(r.Context(), p, req.ToService())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, result, toWarnings(result.Warnings), response.Millis(time.Since(start), result.Timings))
}

// DeleteContext handles POST /tools/delete_context.
func (h *ContextHandler) DeleteContext(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req dto.DeleteContextRequest
	if err := dto.Decode(w, r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	p, err := principalFrom(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	result, err := h.service.DeleteContext(r.Context(), p, req.ToService())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, result, toWarnings(result.Warnings), response.Millis(time.Since(start), nil))
}

// ForgetContext handles POST /tools/forget_context.
func (h *ContextHandler) ForgetContext(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req dto.ForgetContextRequest
	if err := dto.Decode(w, r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	p, err := principalFrom(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	result, err := h.service.ForgetContext(r.Context(), p, req.ToService())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, result, toWarnings(result.Warnings), response.Millis(time.Since(start), nil))
}
