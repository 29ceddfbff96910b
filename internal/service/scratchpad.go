package service

import (
	"context"
	"strings"
	"time"

	"ctxstore/internal/auth"
	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
)

// Scratchpad values are working memory, not documents.
const maxScratchValueBytes = 64 * 1024

// Explicit scratchpad TTLs must land inside these bounds. Presets come
// from configuration and are not re-checked.
const (
	minScratchTTL = time.Minute
	maxScratchTTL = 30 * 24 * time.Hour
)

// ScratchpadRequest is one update_scratchpad call. An empty value deletes
// the key. TTL wins over TTLPreset when both are set.
type ScratchpadRequest struct {
	AgentID   string
	Key       string
	Value     string
	TTLPreset string
	TTL       time.Duration
}

// ScratchpadResult reports the applied write.
type ScratchpadResult struct {
	AgentID   string    `json:"agent_id"`
	Key       string    `json:"key"`
	Deleted   bool      `json:"deleted,omitempty"`
	TTL       string    `json:"ttl,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// AgentStateRequest reads one key, or lists all keys when Key is empty.
type AgentStateRequest struct {
	AgentID string
	Key     string
}

// AgentStateResult carries either a single value or the key listing.
type AgentStateResult struct {
	AgentID string   `json:"agent_id"`
	Key     string   `json:"key,omitempty"`
	Value   *string  `json:"value,omitempty"`
	Keys    []string `json:"keys,omitempty"`
}

// UpdateScratchpad writes one working-memory entry with a mandatory TTL.
// Agents may only touch their own pad.
func (s *service) UpdateScratchpad(ctx context.Context, p auth.Principal, req ScratchpadRequest) (*ScratchpadResult, error) {
	if err := p.Can(auth.OpScratchpadWrite); err != nil {
		return nil, err
	}
	agentID, err := s.scratchOwner(p, req.AgentID)
	if err != nil {
		return nil, err
	}
	if err := validateScratchKey(req.Key); err != nil {
		return nil, err
	}
	if len(req.Value) > maxScratchValueBytes {
		return nil, apperrors.NewValidationf("value exceeds %d bytes", maxScratchValueBytes)
	}

	if req.Value == "" {
		if err := s.deps.KV.DeleteScratch(ctx, agentID, req.Key); err != nil {
			return nil, err
		}
		s.recordEvent(ctx, domain.OpScratchpad, agentID+":"+req.Key, p.ID, "", "deleted")
		return &ScratchpadResult{AgentID: agentID, Key: req.Key, Deleted: true}, nil
	}

	if req.TTL != 0 && (req.TTL < minScratchTTL || req.TTL > maxScratchTTL) {
		return nil, apperrors.NewValidationf("ttl must be between %s and %s", minScratchTTL, maxScratchTTL)
	}
	ttl, err := s.deps.Presets.ResolveOrExplicit(req.TTLPreset, req.TTL)
	if err != nil {
		return nil, err
	}

	if err := s.deps.KV.SetScratch(ctx, agentID, req.Key, req.Value, ttl); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, domain.OpScratchpad, agentID+":"+req.Key, p.ID, "", "stored")
	return &ScratchpadResult{
		AgentID:   agentID,
		Key:       req.Key,
		TTL:       ttl.String(),
		ExpiresAt: s.now().UTC().Add(ttl),
	}, nil
}

// GetAgentState reads one scratchpad value, or lists the agent's keys when
// no key is given. It never searches.
func (s *service) GetAgentState(ctx context.Context, p auth.Principal, req AgentStateRequest) (*AgentStateResult, error) {
	if err := p.Can(auth.OpScratchpadRead); err != nil {
		return nil, err
	}
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" && p.IsAgent {
		agentID = p.ID
	}
	if err := validateScratchSegment("agent_id", agentID); err != nil {
		return nil, err
	}

	if key := strings.TrimSpace(req.Key); key != "" {
		value, ok, err := s.deps.KV.GetScratch(ctx, agentID, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperrors.NewNotFound("no scratchpad entry " + agentID + ":" + key)
		}
		return &AgentStateResult{AgentID: agentID, Key: key, Value: &value}, nil
	}

	keys, err := s.deps.KV.ScratchKeys(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return &AgentStateResult{AgentID: agentID, Keys: keys}, nil
}

// scratchOwner resolves which pad a write lands in. Agent principals own
// exactly one pad; a mismatched agent_id is an access violation, not a
// validation slip.
func (s *service) scratchOwner(p auth.Principal, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if p.IsAgent {
		if requested != "" && requested != p.ID {
			return "", apperrors.NewForbidden("agents may only write their own scratchpad")
		}
		return p.ID, nil
	}
	if err := validateScratchSegment("agent_id", requested); err != nil {
		return "", err
	}
	return requested, nil
}

func validateScratchKey(key string) error {
	return validateScratchSegment("key", key)
}

// validateScratchSegment keeps identifiers usable as Redis key segments:
// the store joins them with ":" and scans with "*".
func validateScratchSegment(field, v string) error {
	if v == "" {
		return apperrors.NewValidationf("%s must not be blank", field)
	}
	if len(v) > 128 {
		return apperrors.NewValidationf("%s exceeds 128 characters", field)
	}
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return apperrors.NewValidationf("%s contains invalid character %q", field, r)
		}
	}
	return nil
}
