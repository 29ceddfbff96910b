// Package dto defines the wire shapes of the tool endpoints and their
// translation into service requests. Validation tags check shape here at
// the boundary; semantic checks live in the service layer.
package dto

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/interfaces/http/validation"
	"ctxstore/internal/service"
)

// Request bodies larger than this are rejected before decoding.
const maxBodyBytes = 1 << 20

// Decode reads one JSON request body into dst and validates it. Unknown
// fields are rejected so client typos fail loudly instead of silently
// dropping an option.
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperrors.NewValidationf("request body exceeds %d bytes", maxBodyBytes)
		case errors.Is(err, io.EOF):
			return apperrors.NewValidation("request body is empty")
		default:
			return apperrors.NewValidation("malformed request body: " + err.Error())
		}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return apperrors.NewValidation("request body must contain a single JSON object")
	}
	return validation.Validate(dst)
}

// StoreContextRequest is the body of POST /tools/store_context.
type StoreContextRequest struct {
	Type       string         `json:"type" validate:"required,oneof=design decision trace sprint log test"`
	Content    map[string]any `json:"content" validate:"required"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Author     string         `json:"author,omitempty"`
	AuthorType string         `json:"author_type,omitempty" validate:"omitempty,oneof=human agent"`
	Namespace  string         `json:"namespace,omitempty"`
}

// ToService converts the DTO into the orchestrator's request.
func (r StoreContextRequest) ToService() service.StoreRequest {
	return service.StoreRequest{
		Type:       r.Type,
		Content:    r.Content,
		Metadata:   r.Metadata,
		Author:     r.Author,
		AuthorType: r.AuthorType,
		Namespace:  r.Namespace,
	}
}

// RetrieveFilters scopes a retrieval.
type RetrieveFilters struct {
	Namespace string     `json:"namespace,omitempty"`
	Types     []string   `json:"types,omitempty" validate:"omitempty,dive,oneof=design decision trace sprint log test"`
	Tags      []string   `json:"tags,omitempty" validate:"omitempty,max=20,dive,min=1,max=50"`
	Author    string     `json:"author,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// RetrieveContextRequest is the body of POST /tools/retrieve_context.
type RetrieveContextRequest struct {
	Query         string           `json:"query"`
	SearchMode    string           `json:"search_mode,omitempty" validate:"omitempty,oneof=vector graph text kv hybrid auto"`
	Policy        string           `json:"dispatch_policy,omitempty" validate:"omitempty,oneof=parallel sequential fallback smart"`
	RankingPolicy string           `json:"ranking_policy,omitempty"`
	Limit         *int             `json:"limit,omitempty"`
	SortBy        string           `json:"sort_by,omitempty" validate:"omitempty,oneof=timestamp relevance"`
	Filters       *RetrieveFilters `json:"filters,omitempty"`
}

// ToService converts the DTO into the orchestrator's request.
func (r RetrieveContextRequest) ToService() service.RetrieveRequest {
	req := service.RetrieveRequest{
		Query:         r.Query,
		Mode:          r.SearchMode,
		Policy:        r.Policy,
		RankingPolicy: r.RankingPolicy,
		Limit:         r.Limit,
		SortBy:        r.SortBy,
	}
	if r.Filters != nil {
		req.Namespace = r.Filters.Namespace
		req.Types = r.Filters.Types
		req.Tags = r.Filters.Tags
		req.Author = r.Filters.Author
		req.Since = r.Filters.Since
		req.Until = r.Filters.Until
	}
	return req
}

// QueryGraphRequest is the body of POST /tools/query_graph.
type QueryGraphRequest struct {
	Query      string         `json:"query" validate:"required"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToService converts the DTO into the orchestrator's request.
func (r QueryGraphRequest) ToService() service.GraphQueryRequest {
	return service.GraphQueryRequest{Cypher: r.Query, Params: r.Parameters}
}

// UpdateScratchpadRequest is the body of POST /tools/update_scratchpad.
// TTL accepts either a duration string ("90s", "5m") or a preset name
// ("scratchpad", "session", "cache", "temporary", "persistent").
type UpdateScratchpadRequest struct {
	AgentID string `json:"agent_id,omitempty"`
	Key     string `json:"key" validate:"required"`
	Value   string `json:"value"`
	TTL     string `json:"ttl,omitempty"`
}

// ToService converts the DTO into the orchestrator's request. A TTL that
// parses as a duration is passed explicitly; anything else is treated as a
// preset name for the service to resolve.
func (r UpdateScratchpadRequest) ToService() service.ScratchpadRequest {
	req := service.ScratchpadRequest{
		AgentID: r.AgentID,
		Key:     r.Key,
		Value:   r.Value,
	}
	if r.TTL == "" {
		return req
	}
	if d, err := time.ParseDuration(r.TTL); err == nil {
		req.TTL = d
		return req
	}
	req.TTLPreset = r.TTL
	return req
}

// GetAgentStateRequest is the body of POST /tools/get_agent_state.
type GetAgentStateRequest struct {
	AgentID string `json:"agent_id,omitempty"`
	Key     string `json:"key,omitempty"`
}

// ToService converts the DTO into the orchestrator's request.
func (r GetAgentStateRequest) ToService() service.AgentStateRequest {
	return service.AgentStateRequest{AgentID: r.AgentID, Key: r.Key}
}

// DeleteContextRequest is the body of POST /tools/delete_context.
type DeleteContextRequest struct {
	ContextID string `json:"context_id" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

// ToService converts the DTO into the orchestrator's request.
func (r DeleteContextRequest) ToService() service.DeleteRequest {
	return service.DeleteRequest{ContextID: r.ContextID, Reason: r.Reason}
}

// ForgetContextRequest is the body of POST /tools/forget_context.
type ForgetContextRequest struct {
	ContextID     string `json:"context_id" validate:"required"`
	Reason        string `json:"reason,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty" validate:"omitempty,min=1,max=90"`
}

// ToService converts the DTO into the orchestrator's request.
func (r ForgetContextRequest) ToService() service.ForgetRequest {
	return service.ForgetRequest{
		ContextID:     r.ContextID,
		Reason:        r.Reason,
		RetentionDays: r.RetentionDays,
	}
}
