package lifecycle

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ctxstore/internal/config"
	"ctxstore/internal/domain"
	"ctxstore/internal/observability"
	"ctxstore/internal/repository/kvstore"
)

const (
	// drainBatch caps how many events one stream pass pops at a time.
	drainBatch = 500
	// purgeBatch bounds each purge round so a sweep never holds a graph
	// session for long.
	purgeBatch = 200
	// sweepLimit caps how many TTL-less keys one sweep inspects.
	sweepLimit = 1000
	// keepPrefix marks scratchpad keys the worker copies into the graph
	// before their KV expiry erases them.
	keepPrefix = "keep:"
)

// GraphSync is the slice of the graph adapter the worker writes to.
type GraphSync interface {
	AppendEvents(ctx context.Context, events []domain.Event) error
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error)
	PurgeExpired(ctx context.Context, now time.Time, batch int) ([]string, error)
	FlushScratchpad(ctx context.Context, entry domain.ScratchpadEntry) error
}

// KVSync is the slice of the KV adapter the worker drains and sweeps.
type KVSync interface {
	EventStreams(ctx context.Context) ([]string, error)
	DrainEvents(ctx context.Context, stream string, max int) ([]string, error)
	AppendEvent(ctx context.Context, stream, payload string, capacity int, retention time.Duration) error
	ScratchEntries(ctx context.Context, keyPrefix string) ([]kvstore.ScratchEntry, error)
	KeysWithoutTTL(ctx context.Context, limit int) ([]string, error)
	ApplyTTL(ctx context.Context, key string, ttl time.Duration) error
	DeleteKeys(ctx context.Context, keys ...string) error
	Delete(ctx context.Context, id string) error
}

// Deleter removes a purged context's copy from a secondary index.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// Summary reports what one sync pass accomplished.
type Summary struct {
	Skipped        bool
	EventsSynced   int
	EventsDropped  int
	EventsTrimmed  int
	ScratchFlushed int
	Purged         int
	TTLViolations  int
}

// Worker is the periodic background loop: it drains event streams into the
// graph, flushes keep-marked scratchpads, trims old events, purges contexts
// whose soft-delete grace elapsed, and sweeps KV keys missing a TTL.
//
// Passes never overlap; a tick that lands while a pass is still running is
// skipped.
type Worker struct {
	graph    GraphSync
	kv       KVSync
	deleters []Deleter
	recorder *Recorder
	metrics  *observability.Collector
	logger   *zap.Logger

	interval     time.Duration
	jitter       time.Duration
	retention    time.Duration
	eventCap     int
	flushTimeout time.Duration
	sweepAction  string
	sweepTTL     time.Duration

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWorker wires the sync loop. Deleters are the secondary indexes (vector,
// text) cleaned up after a graph purge.
func NewWorker(
	graph GraphSync,
	kv KVSync,
	deleters []Deleter,
	recorder *Recorder,
	syncCfg config.SyncConfig,
	ttlCfg config.TTLConfig,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		graph:        graph,
		kv:           kv,
		deleters:     deleters,
		recorder:     recorder,
		metrics:      metrics,
		logger:       logger,
		interval:     syncCfg.Interval.Std(),
		jitter:       syncCfg.Jitter.Std(),
		retention:    syncCfg.EventRetention.Std(),
		eventCap:     syncCfg.EventCap,
		flushTimeout: syncCfg.FlushTimeout.Std(),
		sweepAction:  ttlCfg.MissingKeyAction,
		sweepTTL:     ttlCfg.Scratchpad.Std(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the loop. The first pass runs after one jittered interval,
// not immediately, so a crash-looping process does not hammer the backends.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("sync worker started",
		zap.Duration("interval", w.interval),
		zap.Duration("jitter", w.jitter),
	)
	go w.loop(ctx)
}

// Stop ends the loop and runs a final bounded event flush so nothing
// drained-but-unsynced is lost on shutdown. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	timer := time.NewTimer(w.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.finalFlush()
			return
		case <-w.stop:
			w.finalFlush()
			return
		case <-timer.C:
			sum := w.RunOnce(ctx)
			if !sum.Skipped {
				w.logger.Info("sync pass finished",
					zap.Int("events_synced", sum.EventsSynced),
					zap.Int("scratch_flushed", sum.ScratchFlushed),
					zap.Int("events_trimmed", sum.EventsTrimmed),
					zap.Int("purged", sum.Purged),
					zap.Int("ttl_violations", sum.TTLViolations),
				)
			}
			timer.Reset(w.nextDelay())
		}
	}
}

// nextDelay spreads passes across replicas so they do not sync in lockstep.
func (w *Worker) nextDelay() time.Duration {
	d := w.interval
	if w.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(w.jitter)))
	}
	return d
}

// finalFlush drains pending events under the shutdown budget. Purging and
// TTL sweeps can wait for the next boot; unsynced events cannot.
func (w *Worker) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), w.flushTimeout)
	defer cancel()
	synced, dropped := w.syncEvents(ctx)
	w.logger.Info("sync worker stopped",
		zap.Int("events_flushed", synced),
		zap.Int("events_dropped", dropped),
	)
}

// RunOnce executes a single pass. It returns immediately with Skipped set
// when another pass is already in flight.
func (w *Worker) RunOnce(ctx context.Context) Summary {
	if !w.running.CompareAndSwap(false, true) {
		return Summary{Skipped: true}
	}
	defer w.running.Store(false)

	var sum Summary
	sum.EventsSynced, sum.EventsDropped = w.syncEvents(ctx)
	sum.ScratchFlushed = w.flushScratchpads(ctx)
	sum.EventsTrimmed = w.trimEvents(ctx)
	sum.Purged = w.purge(ctx)
	sum.TTLViolations = w.sweepTTLs(ctx)
	return sum
}

// syncEvents moves pending events from every KV stream into the graph. When
// a graph write fails the drained payloads are pushed back onto the stream
// so the next pass retries them.
func (w *Worker) syncEvents(ctx context.Context) (synced, dropped int) {
	streams, err := w.kv.EventStreams(ctx)
	if err != nil {
		w.logger.Warn("event stream listing failed", zap.Error(err))
		return 0, 0
	}
	for _, stream := range streams {
		for {
			payloads, err := w.kv.DrainEvents(ctx, stream, drainBatch)
			if err != nil {
				w.logger.Warn("event drain failed",
					zap.String("stream", stream), zap.Error(err))
				break
			}
			if len(payloads) == 0 {
				break
			}
			events := make([]domain.Event, 0, len(payloads))
			for _, p := range payloads {
				var ev domain.Event
				if err := json.Unmarshal([]byte(p), &ev); err != nil {
					w.logger.Warn("undecodable event dropped",
						zap.String("stream", stream), zap.Error(err))
					dropped++
					continue
				}
				events = append(events, ev)
			}
			if err := w.graph.AppendEvents(ctx, events); err != nil {
				w.logger.Warn("event sync failed, requeueing",
					zap.String("stream", stream),
					zap.Int("count", len(payloads)),
					zap.Error(err),
				)
				w.requeue(ctx, stream, payloads)
				break
			}
			synced += len(events)
			if w.metrics != nil {
				w.metrics.EventsSynced.Add(float64(len(events)))
			}
			if len(payloads) < drainBatch {
				break
			}
		}
	}
	return synced, dropped
}

// requeue pushes drained payloads back onto their stream. Order inside the
// stream shifts, but every event carries its own timestamp.
func (w *Worker) requeue(ctx context.Context, stream string, payloads []string) {
	for _, p := range payloads {
		if err := w.kv.AppendEvent(ctx, stream, p, w.eventCap, w.retention); err != nil {
			w.logger.Error("event requeue failed, event lost",
				zap.String("stream", stream), zap.Error(err))
		}
	}
}

// flushScratchpads copies keep-marked scratchpad entries into the graph.
// The KV copy stays behind with its TTL; the graph copy survives it.
func (w *Worker) flushScratchpads(ctx context.Context) int {
	entries, err := w.kv.ScratchEntries(ctx, keepPrefix)
	if err != nil {
		w.logger.Warn("scratchpad scan failed", zap.Error(err))
		return 0
	}
	flushed := 0
	now := time.Now().UTC()
	for _, e := range entries {
		entry := domain.ScratchpadEntry{
			AgentID:   e.AgentID,
			Key:       e.Key,
			Value:     e.Value,
			UpdatedAt: now,
		}
		if err := w.graph.FlushScratchpad(ctx, entry); err != nil {
			w.logger.Warn("scratchpad flush failed",
				zap.String("agent_id", e.AgentID),
				zap.String("key", e.Key),
				zap.Error(err),
			)
			continue
		}
		flushed++
	}
	return flushed
}

func (w *Worker) trimEvents(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-w.retention)
	n, err := w.graph.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		w.logger.Warn("event trim failed", zap.Error(err))
		return 0
	}
	return n
}

// purge hard-deletes contexts whose soft-delete grace elapsed, then removes
// their copies from the KV cache and the secondary indexes.
func (w *Worker) purge(ctx context.Context) int {
	purged := 0
	now := time.Now().UTC()
	for {
		ids, err := w.graph.PurgeExpired(ctx, now, purgeBatch)
		if err != nil {
			w.logger.Warn("purge pass failed", zap.Error(err))
			return purged
		}
		if len(ids) == 0 {
			return purged
		}
		for _, id := range ids {
			if err := w.kv.Delete(ctx, id); err != nil {
				w.logger.Warn("purge kv cleanup failed",
					zap.String("context_id", id), zap.Error(err))
			}
			for _, d := range w.deleters {
				if err := d.Delete(ctx, id); err != nil {
					w.logger.Warn("purge index cleanup failed",
						zap.String("context_id", id), zap.Error(err))
				}
			}
			if w.metrics != nil {
				w.metrics.ContextsPurged.Inc()
			}
			if w.recorder != nil {
				w.recorder.Record(ctx, domain.Event{
					Op:        domain.OpPurge,
					ContextID: id,
					Actor:     "sync-worker",
					Outcome:   "success",
				})
			}
			purged++
		}
		if len(ids) < purgeBatch {
			return purged
		}
	}
}

// sweepTTLs handles keys found without an expiry according to the configured
// action: assign the scratchpad default, delete them, or only report.
func (w *Worker) sweepTTLs(ctx context.Context) int {
	keys, err := w.kv.KeysWithoutTTL(ctx, sweepLimit)
	if err != nil {
		w.logger.Warn("ttl sweep failed", zap.Error(err))
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	if w.metrics != nil {
		w.metrics.TTLViolations.Add(float64(len(keys)))
	}
	switch w.sweepAction {
	case "delete":
		if err := w.kv.DeleteKeys(ctx, keys...); err != nil {
			w.logger.Warn("ttl sweep delete failed", zap.Error(err))
		}
	case "log":
		w.logger.Warn("keys without ttl", zap.Strings("keys", keys))
	default:
		for _, key := range keys {
			if err := w.kv.ApplyTTL(ctx, key, w.sweepTTL); err != nil {
				w.logger.Warn("ttl assignment failed",
					zap.String("key", key), zap.Error(err))
			}
		}
	}
	return len(keys)
}
