package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/metrics"
	"github.com/stemsi/exstem-gate/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// AuditWriter persists audit events.
type AuditWriter interface {
	InsertBatch(ctx context.Context, batch []model.AuditEvent) error
	Insert(ctx context.Context, e model.AuditEvent) error
}

// AuditWorker drains the session audit queue into the database in batches.
type AuditWorker struct {
	queue  Queue
	writer AuditWriter
	log    zerolog.Logger

	pollTimeout  time.Duration
	batchTimeout time.Duration
	backoff      time.Duration
}

// NewAuditWorker creates a new AuditWorker.
func NewAuditWorker(queue Queue, writer AuditWriter, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		queue:        queue,
		writer:       writer,
		log:          log.With().Str("component", "audit_worker").Logger(),
		pollTimeout:  PollTimeout,
		batchTimeout: BatchTimeout,
		backoff:      3 * time.Second,
	}
}

// Start runs until ctx is cancelled, then flushes what it buffered. Call in a goroutine.
func (w *AuditWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AuditWorker started")

	buffer := make([]model.AuditEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= w.batchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		raw, err := w.queue.Pop(ctx, w.pollTimeout)
		if err != nil {
			if errors.Is(err, ErrQueueEmpty) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Dur("backoff", w.backoff).Msg("Queue error, backing off")
			sleep(ctx, w.backoff)
			continue
		}

		var e model.AuditEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// Malformed payloads cannot be retried.
			w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed audit event")
			continue
		}
		buffer = append(buffer, e)
	}
}

// flushSafe tries the bulk insert, then row by row, then requeues what still failed.
func (w *AuditWorker) flushSafe(ctx context.Context, batch []model.AuditEvent) {
	err := w.writer.InsertBatch(ctx, batch)
	if err == nil {
		metrics.AuditEventsFlushed.Add(float64(len(batch)))
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var requeue []model.AuditEvent
	for _, e := range batch {
		if err := w.writer.Insert(ctx, e); err != nil {
			w.log.Error().Err(err).Str("session_id", e.SessionID.String()).Msg("Insert failed, requeueing")
			requeue = append(requeue, e)
			continue
		}
		metrics.AuditEventsFlushed.Inc()
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *AuditWorker) requeue(ctx context.Context, events []model.AuditEvent) {
	items := make([]string, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		items = append(items, string(data))
	}

	if err := w.queue.Push(context.WithoutCancel(ctx), items...); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue audit events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed audit events")
	// Avoid thrashing while the database is down.
	sleep(ctx, w.backoff)
}

func (w *AuditWorker) shutdown(buffer []model.AuditEvent) {
	w.log.Info().Msg("AuditWorker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
	w.log.Info().Msg("AuditWorker stopped")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
