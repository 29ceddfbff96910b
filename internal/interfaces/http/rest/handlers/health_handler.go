package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"ctxstore/internal/interfaces/http/response"
	"ctxstore/internal/service"
)

// HealthHandler serves the liveness probe, the detailed health report and
// the tool catalog.
type HealthHandler struct {
	service service.Service
	logger  *zap.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(svc service.Service, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{service: svc, logger: logger}
}

// Health handles GET /health. It only proves the process is serving;
// backend state lives under /health/detailed.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, map[string]string{"status": "ok"}, nil, nil)
}

// HealthDetailed handles GET /health/detailed with per-backend state and
// the embedding pipeline status.
func (h *HealthHandler) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	report := h.service.HealthDetailed(r.Context())
	response.OK(w, r, report, nil, nil)
}

// ListTools handles GET /tools. The catalog reflects live backend health,
// so a tool whose backend is down is listed as unavailable with a reason.
func (h *HealthHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	catalog, err := h.service.ListTools(r.Context(), p)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, catalog, nil, nil)
}
