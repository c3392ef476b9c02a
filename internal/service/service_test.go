package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/repository/sqlitestore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (r *recordingSink) Publish(_ context.Context, e model.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) Events() []model.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AuditEvent(nil), r.events...)
}

type fixture struct {
	store    *sqlitestore.Store
	clock    *fakeClock
	sink     *recordingSink
	identity *IdentityService
	sessions *SessionService
	status   *StatusService
	admin    *AdminService
}

func newFixture(t *testing.T, opts ...SessionOption) *fixture {
	t.Helper()
	store, err := sqlitestore.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, clock: newFakeClock(), sink: &recordingSink{}}
	log := zerolog.Nop()
	opts = append([]SessionOption{WithClock(f.clock.Now)}, opts...)

	f.identity = NewIdentityService(store, log)
	f.sessions = NewSessionService(store, store, NewAccessService(store), f.sink, log, opts...)
	f.status = NewStatusService(store, store, store)
	f.status.now = f.clock.Now
	f.admin = NewAdminService(store, store, store)
	return f
}

func (f *fixture) addLearner(t *testing.T, name, contact string) int64 {
	t.Helper()
	learners := []model.Learner{{Name: name, ContactNumber: contact}}
	if _, err := f.admin.ImportLearners(context.Background(), learners); err != nil {
		t.Fatalf("ImportLearners: %v", err)
	}
	return learners[0].ID
}

func (f *fixture) addAssessment(t *testing.T, refs ...string) uuid.UUID {
	t.Helper()
	a := &model.Assessment{Title: "Assessment " + uuid.NewString()[:8]}
	for _, ref := range refs {
		a.Items = append(a.Items, model.AssessmentItem{Ref: ref, QuestionRef: "Q-" + ref, ExpectedAnswer: "x", Points: 1})
	}
	if err := f.admin.ImportAssessment(context.Background(), a); err != nil {
		t.Fatalf("ImportAssessment: %v", err)
	}
	return a.ID
}

func (f *fixture) grant(t *testing.T, assessmentID uuid.UUID, learnerID int64, active bool) {
	t.Helper()
	if err := f.admin.SetGrant(context.Background(), assessmentID, learnerID, active); err != nil {
		t.Fatalf("SetGrant: %v", err)
	}
}

func (f *fixture) start(t *testing.T, assessmentID uuid.UUID, learnerID int64) *model.StartSessionResponse {
	t.Helper()
	resp, err := f.sessions.StartSession(context.Background(), assessmentID, learnerID, nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return resp
}

func answers(refs ...string) []model.Answer {
	out := make([]model.Answer, 0, len(refs))
	for _, ref := range refs {
		out = append(out, model.Answer{ItemRef: ref, Value: "answer " + ref})
	}
	return out
}
