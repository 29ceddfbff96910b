package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxstore/internal/auth"
	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/repository"
)

// Soft-delete retention window in days.
const (
	defaultRetentionDays = 30
	minRetentionDays     = 1
	maxRetentionDays     = 90
)

// DeleteRequest is one delete_context call. Reason is mandatory and lands
// in the audit record verbatim.
type DeleteRequest struct {
	ContextID string
	Reason    string
}

// DeleteResult reports a completed hard delete.
type DeleteResult struct {
	ID      string `json:"id"`
	AuditID string `json:"audit_id"`

	Warnings []Warning `json:"-"`
}

// ForgetRequest is one forget_context call. RetentionDays of zero picks
// the default window.
type ForgetRequest struct {
	ContextID     string
	Reason        string
	RetentionDays int
}

// ForgetResult reports a completed soft delete.
type ForgetResult struct {
	ID      string    `json:"id"`
	AuditID string    `json:"audit_id"`
	PurgeAt time.Time `json:"purge_at"`

	Warnings []Warning `json:"-"`
}

// DeleteContext removes a context from every backend. The audit record is
// written before anything is destroyed and survives even when the delete
// itself fails. Agent principals are refused regardless of role.
func (s *service) DeleteContext(ctx context.Context, p auth.Principal, req DeleteRequest) (*DeleteResult, error) {
	if err := p.Can(auth.OpDelete); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(req.ContextID)
	if id == "" {
		return nil, apperrors.NewValidation("context_id must not be blank")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, apperrors.NewValidation("reason must not be blank")
	}

	c, err := s.deps.Graph.GetContext(ctx, id)
	if err != nil {
		return nil, err
	}

	auditID, err := s.deps.Audit.Record(ctx, id, p.ID, principalAuthorType(p), reason, domain.DeleteHard, 0)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{ID: id, AuditID: auditID}
	if err := s.deps.Graph.Delete(ctx, id); err != nil {
		s.recordEvent(ctx, domain.OpDelete, id, p.ID, c.Namespace, "failed")
		return nil, err
	}
	result.Warnings = append(result.Warnings, s.deleteSecondaries(ctx, id)...)

	s.recordEvent(ctx, domain.OpDelete, id, p.ID, c.Namespace, "deleted")
	s.log().Info("context deleted",
		zap.String("context_id", id),
		zap.String("audit_id", auditID),
		zap.String("actor", p.ID))
	return result, nil
}

// ForgetContext hides a context and schedules its purge. The graph keeps
// the node until purge_at so provenance queries still resolve it; search
// backends drop it immediately. Forgetting an already-forgotten context
// re-audits and moves the purge window.
func (s *service) ForgetContext(ctx context.Context, p auth.Principal, req ForgetRequest) (*ForgetResult, error) {
	if err := p.Can(auth.OpForget); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(req.ContextID)
	if id == "" {
		return nil, apperrors.NewValidation("context_id must not be blank")
	}
	days := req.RetentionDays
	if days == 0 {
		days = defaultRetentionDays
	}
	if days < minRetentionDays || days > maxRetentionDays {
		return nil, apperrors.NewValidationf("retention_days must be between %d and %d, got %d",
			minRetentionDays, maxRetentionDays, req.RetentionDays)
	}

	c, err := s.deps.Graph.GetContext(ctx, id)
	if err != nil {
		return nil, err
	}

	auditID, err := s.deps.Audit.Record(ctx, id, p.ID, principalAuthorType(p), strings.TrimSpace(req.Reason), domain.DeleteSoft, days)
	if err != nil {
		return nil, err
	}

	deletedAt := s.now().UTC()
	purgeAt := deletedAt.Add(time.Duration(days) * 24 * time.Hour)
	if err := s.deps.Graph.SoftDelete(ctx, id, deletedAt, purgeAt); err != nil {
		s.recordEvent(ctx, domain.OpForget, id, p.ID, c.Namespace, "failed")
		return nil, err
	}

	result := &ForgetResult{ID: id, AuditID: auditID, PurgeAt: purgeAt}
	result.Warnings = append(result.Warnings, s.deleteSecondaries(ctx, id)...)

	s.recordEvent(ctx, domain.OpForget, id, p.ID, c.Namespace, "forgotten")
	s.log().Info("context forgotten",
		zap.String("context_id", id),
		zap.String("audit_id", auditID),
		zap.Time("purge_at", purgeAt))
	return result, nil
}

// deleteSecondaries clears the search backends. Their failures degrade the
// call instead of failing it; the graph is already authoritative about the
// deletion and the sync worker re-converges stragglers.
func (s *service) deleteSecondaries(ctx context.Context, id string) []Warning {
	var warnings []Warning
	for _, b := range []repository.Backend{s.deps.Vector, s.deps.KV, s.deps.Text} {
		if b == nil {
			continue
		}
		if err := b.Delete(ctx, id); err != nil {
			warnings = append(warnings, Warning{
				Kind:    string(apperrors.KindPartial),
				Message: b.Name() + " delete failed: " + err.Error(),
			})
			s.log().Warn("secondary delete failed",
				zap.String("backend", b.Name()),
				zap.String("context_id", id),
				zap.Error(err))
		}
	}
	return warnings
}

func principalAuthorType(p auth.Principal) domain.AuthorType {
	if p.IsAgent {
		return domain.AuthorAgent
	}
	return domain.AuthorHuman
}
