// Package audit writes the append-only trail for destructive operations.
// An entry is recorded before the deletion it describes and is never rolled
// back; an orphan audit after a failed delete is acceptable, a deletion
// without one is not.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
)

// Sink persists audit records. The graph adapter implements it.
type Sink interface {
	WriteAudit(ctx context.Context, rec domain.AuditRecord) error
}

// Reader lists the trail for one context id, oldest first.
type Reader interface {
	AuditsFor(ctx context.Context, contextID string) ([]domain.AuditRecord, error)
}

// Trail is the audit writer.
type Trail struct {
	sink   Sink
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewTrail wires the writer to its sink.
func NewTrail(sink Sink, logger *zap.Logger) *Trail {
	return &Trail{
		sink:   sink,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Record writes one entry and returns its id. An error here must abort the
// destructive operation that prompted it: no deletion proceeds unaudited.
func (t *Trail) Record(ctx context.Context, contextID, actor string, actorType domain.AuthorType, reason string, mode domain.DeleteMode, retentionDays int) (string, error) {
	rec := domain.AuditRecord{
		ID:        t.newID(),
		ContextID: contextID,
		Actor:     actor,
		ActorType: actorType,
		Reason:    reason,
		Timestamp: t.now().UTC(),
		Mode:      mode,
	}
	if mode == domain.DeleteSoft {
		rec.RetentionDays = retentionDays
	}
	if err := t.sink.WriteAudit(ctx, rec); err != nil {
		return "", apperrors.NewInternal("audit write failed", err)
	}
	t.logger.Info("audit recorded",
		zap.String("audit_id", rec.ID),
		zap.String("context_id", contextID),
		zap.String("actor", actor),
		zap.String("mode", string(mode)))
	return rec.ID, nil
}
