package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
)

type fakeSink struct {
	records []domain.AuditRecord
	err     error
}

func (f *fakeSink) WriteAudit(_ context.Context, rec domain.AuditRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func TestRecordHardDelete(t *testing.T) {
	sink := &fakeSink{}
	trail := NewTrail(sink, zaptest.NewLogger(t))
	trail.now = func() time.Time { return time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC) }
	trail.newID = func() string { return "audit-1" }

	id, err := trail.Record(context.Background(), "ctx-1", "alice", domain.AuthorHuman, "gdpr request", domain.DeleteHard, 0)
	require.NoError(t, err)
	assert.Equal(t, "audit-1", id)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "ctx-1", rec.ContextID)
	assert.Equal(t, "alice", rec.Actor)
	assert.Equal(t, domain.AuthorHuman, rec.ActorType)
	assert.Equal(t, "gdpr request", rec.Reason)
	assert.Equal(t, domain.DeleteHard, rec.Mode)
	assert.Zero(t, rec.RetentionDays)
	assert.Equal(t, time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC), rec.Timestamp)
}

func TestRecordSoftDeleteKeepsRetention(t *testing.T) {
	sink := &fakeSink{}
	trail := NewTrail(sink, zaptest.NewLogger(t))

	_, err := trail.Record(context.Background(), "ctx-2", "agent-7", domain.AuthorAgent, "", domain.DeleteSoft, 14)
	require.NoError(t, err)
	require.Len(t, sink.records, 1)
	assert.Equal(t, 14, sink.records[0].RetentionDays)
	assert.NotEmpty(t, sink.records[0].ID)
}

func TestRecordSinkFailureIsInternal(t *testing.T) {
	sink := &fakeSink{err: errors.New("neo4j down")}
	trail := NewTrail(sink, zaptest.NewLogger(t))

	id, err := trail.Record(context.Background(), "ctx-3", "alice", domain.AuthorHuman, "", domain.DeleteHard, 0)
	require.Error(t, err)
	assert.Empty(t, id)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
}

func TestRecordIDsUnique(t *testing.T) {
	sink := &fakeSink{}
	trail := NewTrail(sink, zaptest.NewLogger(t))

	a, err := trail.Record(context.Background(), "ctx-4", "alice", domain.AuthorHuman, "", domain.DeleteHard, 0)
	require.NoError(t, err)
	b, err := trail.Record(context.Background(), "ctx-4", "alice", domain.AuthorHuman, "", domain.DeleteHard, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
