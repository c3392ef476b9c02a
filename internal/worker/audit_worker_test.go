package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/repository/sqlitestore"
)

type memQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *memQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return it, nil
		}
		q.mu.Unlock()

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if time.Now().After(deadline) {
			return "", ErrQueueEmpty
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (q *memQueue) Push(_ context.Context, items ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	return nil
}

func (q *memQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type flakyWriter struct {
	mu       sync.Mutex
	failFor  uuid.UUID
	inserted []model.AuditEvent
}

func (w *flakyWriter) InsertBatch(context.Context, []model.AuditEvent) error {
	return errors.New("batch rejected")
}

func (w *flakyWriter) Insert(_ context.Context, e model.AuditEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e.SessionID == w.failFor {
		return errors.New("row rejected")
	}
	w.inserted = append(w.inserted, e)
	return nil
}

func newEvent(kind model.AuditKind) model.AuditEvent {
	return model.AuditEvent{
		Kind:         kind,
		SessionID:    uuid.New(),
		AssessmentID: uuid.New(),
		LearnerID:    1,
		OccurredAt:   time.Now().UTC(),
	}
}

func enqueue(t *testing.T, q Queue, events ...model.AuditEvent) {
	t.Helper()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := q.Push(context.Background(), string(data)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
}

func newTestWorker(q Queue, w AuditWriter) *AuditWorker {
	aw := NewAuditWorker(q, w, zerolog.Nop())
	aw.pollTimeout = 20 * time.Millisecond
	aw.batchTimeout = 50 * time.Millisecond
	aw.backoff = 10 * time.Millisecond
	return aw
}

func TestAuditWorkerPersistsAndFlushesOnShutdown(t *testing.T) {
	store, err := sqlitestore.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	q := &memQueue{}
	enqueue(t, q,
		newEvent(model.AuditSessionStarted),
		newEvent(model.AuditSessionStarted),
		newEvent(model.AuditSessionSubmitted),
	)
	// Malformed payloads are dropped, not retried.
	q.Push(context.Background(), "{not json")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := newTestWorker(q, store)
	// Nothing is flushed on the timer; only shutdown writes the buffer.
	w.batchTimeout = time.Hour
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	started, err := store.CountAuditEvents(context.Background(), model.AuditSessionStarted)
	if err != nil {
		t.Fatalf("CountAuditEvents: %v", err)
	}
	submitted, err := store.CountAuditEvents(context.Background(), model.AuditSessionSubmitted)
	if err != nil {
		t.Fatalf("CountAuditEvents: %v", err)
	}
	if started != 2 || submitted != 1 {
		t.Errorf("expected 2 started and 1 submitted events, got %d and %d", started, submitted)
	}
}

func TestAuditWorkerFallbackRequeuesFailures(t *testing.T) {
	q := &memQueue{}
	good := newEvent(model.AuditSessionStarted)
	bad := newEvent(model.AuditSessionSubmitted)
	writer := &flakyWriter{failFor: bad.SessionID}

	w := newTestWorker(q, writer)
	w.flushSafe(context.Background(), []model.AuditEvent{good, bad})

	if len(writer.inserted) != 1 || writer.inserted[0].SessionID != good.SessionID {
		t.Errorf("expected only the good event inserted, got %+v", writer.inserted)
	}
	if q.Len() != 1 {
		t.Fatalf("expected the failed event requeued, queue has %d", q.Len())
	}

	raw, err := q.Pop(context.Background(), time.Millisecond)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	var requeued model.AuditEvent
	if err := json.Unmarshal([]byte(raw), &requeued); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if requeued.SessionID != bad.SessionID {
		t.Errorf("expected %s requeued, got %s", bad.SessionID, requeued.SessionID)
	}
}

func TestAuditWorkerFlushesOnTimer(t *testing.T) {
	store, err := sqlitestore.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	q := &memQueue{}
	enqueue(t, q, newEvent(model.AuditSessionStarted), newEvent(model.AuditSessionStarted))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go newTestWorker(q, store).Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := store.CountAuditEvents(context.Background(), model.AuditSessionStarted)
		if err != nil {
			t.Fatalf("CountAuditEvents: %v", err)
		}
		if n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("events were not flushed before the deadline")
}
