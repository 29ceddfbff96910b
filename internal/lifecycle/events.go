package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"ctxstore/internal/domain"
)

// EventStore is the slice of the KV adapter the recorder appends to.
type EventStore interface {
	AppendEvent(ctx context.Context, stream, payload string, capacity int, retention time.Duration) error
}

// Recorder appends storage-affecting operations to per-namespace event
// streams. Streams are bounded and rotate; the sync worker drains them
// into the graph later.
type Recorder struct {
	kv        EventStore
	capacity  int
	retention time.Duration
	logger    *zap.Logger
}

// NewRecorder builds the recorder with the configured stream cap.
func NewRecorder(kv EventStore, capacity int, retention time.Duration, logger *zap.Logger) *Recorder {
	return &Recorder{kv: kv, capacity: capacity, retention: retention, logger: logger}
}

// Record appends one event. Recording is best-effort: a failed append is
// logged and never propagates into the operation that produced the event.
func (r *Recorder) Record(ctx context.Context, ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	stream := ev.Namespace
	if stream == "" {
		stream = "/global/"
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("event marshal failed", zap.String("op", string(ev.Op)), zap.Error(err))
		return
	}
	if err := r.kv.AppendEvent(ctx, stream, string(payload), r.capacity, r.retention); err != nil {
		r.logger.Warn("event append failed",
			zap.String("stream", stream),
			zap.String("op", string(ev.Op)),
			zap.Error(err),
		)
	}
}
