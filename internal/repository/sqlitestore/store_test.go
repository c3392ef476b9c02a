package sqlitestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/repository"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestLearner(t *testing.T, s *Store, name, contact string, status model.LearnerStatus) *model.Learner {
	t.Helper()
	l := &model.Learner{Name: name, ContactNumber: contact, Status: status}
	if err := s.UpsertLearner(context.Background(), l, name, contact); err != nil {
		t.Fatalf("UpsertLearner: %v", err)
	}
	return l
}

func newSession(assessmentID uuid.UUID, learnerID int64, hash string, startedAt time.Time) *model.ExamSession {
	return &model.ExamSession{
		ID:           uuid.New(),
		AssessmentID: assessmentID,
		LearnerID:    learnerID,
		TokenHash:    hash,
		StartedAt:    startedAt,
	}
}

func complete(s *model.ExamSession, at time.Time) *model.SubmissionRecord {
	d := at.Sub(s.StartedAt).Seconds()
	s.SubmittedAt = &at
	s.DurationSeconds = &d
	return &model.SubmissionRecord{
		ID:           uuid.New(),
		SessionID:    s.ID,
		AssessmentID: s.AssessmentID,
		LearnerID:    s.LearnerID,
		Answers:      []model.Answer{{ItemRef: "q1", Value: "42"}},
		SubmittedAt:  at,
	}
}

func TestFindActiveLearner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := insertTestLearner(t, s, "Alice", "0811", model.LearnerStatusActive)
	insertTestLearner(t, s, "Bob", "0822", model.LearnerStatusInactive)

	got, err := s.FindActiveLearner(ctx, "Alice", "0811")
	if err != nil {
		t.Fatalf("FindActiveLearner: %v", err)
	}
	if got.ID != alice.ID {
		t.Errorf("expected learner %d, got %d", alice.ID, got.ID)
	}

	if _, err := s.FindActiveLearner(ctx, "Bob", "0822"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound for inactive learner, got %v", err)
	}
	if _, err := s.FindActiveLearner(ctx, "Alice", "0899"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong contact, got %v", err)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].Name != "Alice" {
		t.Errorf("expected only Alice on the active roster, got %+v", active)
	}
}

func TestUpsertLearnerKeepsID(t *testing.T) {
	s := newTestStore(t)

	first := insertTestLearner(t, s, "Alice", "0811", model.LearnerStatusActive)
	second := insertTestLearner(t, s, "Alice", "0811", model.LearnerStatusInactive)
	if first.ID != second.ID {
		t.Errorf("expected upsert to keep id %d, got %d", first.ID, second.ID)
	}
	if _, err := s.FindActiveLearner(context.Background(), "Alice", "0811"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected deactivated learner to be hidden, got %v", err)
	}
}

func TestAssessmentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &model.Assessment{
		ID:    uuid.New(),
		Title: "Algebra",
		Items: []model.AssessmentItem{
			{Ref: "q1", QuestionRef: "Q-100", ExpectedAnswer: "4", Points: 2},
			{Ref: "q2", QuestionRef: "Q-101", ExpectedAnswer: "9", Points: 3},
		},
		TotalScore: 5,
	}
	if err := s.UpsertAssessment(ctx, a); err != nil {
		t.Fatalf("UpsertAssessment: %v", err)
	}

	got, err := s.GetAssessment(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if got.Title != "Algebra" || len(got.Items) != 2 || got.Items[1].Ref != "q2" {
		t.Errorf("unexpected assessment: %+v", got)
	}

	if _, err := s.GetAssessment(ctx, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGrants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	assessmentID := uuid.New()

	grants, err := s.ListActiveGrants(ctx, assessmentID)
	if err != nil {
		t.Fatalf("ListActiveGrants: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("expected no grants, got %d", len(grants))
	}

	for _, g := range []*model.AccessGrant{
		{AssessmentID: assessmentID, LearnerID: 1, Active: true},
		{AssessmentID: assessmentID, LearnerID: 2, Active: true},
	} {
		if err := s.SetGrant(ctx, g); err != nil {
			t.Fatalf("SetGrant: %v", err)
		}
	}
	if err := s.SetGrant(ctx, &model.AccessGrant{AssessmentID: assessmentID, LearnerID: 2, Active: false}); err != nil {
		t.Fatalf("SetGrant revoke: %v", err)
	}

	active, err := s.ListActiveGrants(ctx, assessmentID)
	if err != nil {
		t.Fatalf("ListActiveGrants: %v", err)
	}
	if len(active) != 1 || active[0].LearnerID != 1 {
		t.Errorf("expected only learner 1 active, got %+v", active)
	}

	all, err := s.ListGrants(ctx, assessmentID)
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(all) != 2 || all[1].Active {
		t.Errorf("expected two grants with learner 2 revoked, got %+v", all)
	}
}

func TestCreateSessionSupersedes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	assessmentID := uuid.New()
	start := time.Now().UTC().Truncate(time.Second)

	first := newSession(assessmentID, 7, "hash-1", start)
	n, err := s.CreateSession(ctx, first)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing superseded, got %d", n)
	}

	second := newSession(assessmentID, 7, "hash-2", start.Add(time.Minute))
	n, err = s.CreateSession(ctx, second)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if n != 1 {
		t.Errorf("expected one superseded session, got %d", n)
	}

	old, err := s.GetByTokenHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetByTokenHash: %v", err)
	}
	if old.State() != model.SessionStateSuperseded {
		t.Errorf("expected SUPERSEDED, got %s", old.State())
	}
	if old.SupersededBy == nil || *old.SupersededBy != second.ID {
		t.Errorf("expected superseded_by %s, got %v", second.ID, old.SupersededBy)
	}

	if _, err := s.GetByTokenHash(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSessionTokenCollision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, newSession(uuid.New(), 1, "same", time.Now())); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	_, err := s.CreateSession(ctx, newSession(uuid.New(), 2, "same", time.Now()))
	if !errors.Is(err, repository.ErrTokenCollision) {
		t.Errorf("expected ErrTokenCollision, got %v", err)
	}
}

func TestCompleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	assessmentID := uuid.New()
	start := time.Now().UTC().Add(-10 * time.Minute)

	es := newSession(assessmentID, 3, "hash-a", start)
	if _, err := s.CreateSession(ctx, es); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec := complete(es, start.Add(10*time.Minute))
	if err := s.CompleteSession(ctx, es, rec, false); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	got, err := s.GetCompleted(ctx, assessmentID, 3)
	if err != nil {
		t.Fatalf("GetCompleted: %v", err)
	}
	if got.ID != es.ID || got.DurationSeconds == nil || *got.DurationSeconds != 600 {
		t.Errorf("unexpected completed session: %+v", got)
	}

	stored, err := s.GetSubmission(ctx, es.ID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if len(stored.Answers) != 1 || stored.Answers[0].Value != "42" {
		t.Errorf("unexpected answers: %+v", stored.Answers)
	}

	// Completing the same session again changes nothing.
	err = s.CompleteSession(ctx, es, complete(es, start.Add(11*time.Minute)), false)
	if !errors.Is(err, repository.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}

	// No new session once the pair is completed.
	_, err = s.CreateSession(ctx, newSession(assessmentID, 3, "hash-b", time.Now()))
	if !errors.Is(err, repository.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted on create, got %v", err)
	}

	count, err := s.CountSubmissions(ctx, assessmentID, 3)
	if err != nil {
		t.Fatalf("CountSubmissions: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 submission, got %d", count)
	}
}

func TestCompleteSessionSecondSessionOfPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	assessmentID := uuid.New()
	start := time.Now().UTC()

	a := newSession(assessmentID, 5, "hash-a", start)
	b := newSession(assessmentID, 5, "hash-b", start.Add(time.Second))
	for _, es := range []*model.ExamSession{a, b} {
		if _, err := s.CreateSession(ctx, es); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	if err := s.CompleteSession(ctx, b, complete(b, start.Add(time.Minute)), false); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	err := s.CompleteSession(ctx, a, complete(a, start.Add(2*time.Minute)), false)
	if !errors.Is(err, repository.ErrCompletedConflict) {
		t.Errorf("expected ErrCompletedConflict, got %v", err)
	}

	sessions, err := s.ListByAssessment(ctx, assessmentID)
	if err != nil {
		t.Fatalf("ListByAssessment: %v", err)
	}
	completed := 0
	for _, es := range sessions {
		if es.Completed {
			completed++
		}
	}
	if len(sessions) != 2 || completed != 1 {
		t.Errorf("expected 2 sessions with 1 completed, got %d/%d", len(sessions), completed)
	}
}

func TestCompleteSessionRequireCurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	assessmentID := uuid.New()
	start := time.Now().UTC()

	old := newSession(assessmentID, 6, "hash-old", start)
	if _, err := s.CreateSession(ctx, old); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	current := newSession(assessmentID, 6, "hash-current", start.Add(time.Second))
	if _, err := s.CreateSession(ctx, current); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// old was read before it was superseded; the swap itself must refuse it.
	err := s.CompleteSession(ctx, old, complete(old, start.Add(time.Minute)), true)
	if !errors.Is(err, repository.ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if _, err := s.GetSubmission(ctx, old.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected no submission for the refused session, got %v", err)
	}

	if err := s.CompleteSession(ctx, current, complete(current, start.Add(time.Minute)), true); err != nil {
		t.Fatalf("CompleteSession current: %v", err)
	}
	err = s.CompleteSession(ctx, current, complete(current, start.Add(2*time.Minute)), true)
	if !errors.Is(err, repository.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestAuditInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []model.AuditEvent{
		{Kind: model.AuditSessionStarted, SessionID: uuid.New(), AssessmentID: uuid.New(), LearnerID: 1, OccurredAt: time.Now()},
		{Kind: model.AuditSessionStarted, SessionID: uuid.New(), AssessmentID: uuid.New(), LearnerID: 2,
			ClientMeta: model.ClientMeta{"client": "kiosk"}, OccurredAt: time.Now()},
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if err := s.Insert(ctx, model.AuditEvent{Kind: model.AuditSessionSubmitted, SessionID: uuid.New(),
		AssessmentID: uuid.New(), LearnerID: 1, OccurredAt: time.Now()}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	started, err := s.CountAuditEvents(ctx, model.AuditSessionStarted)
	if err != nil {
		t.Fatalf("CountAuditEvents: %v", err)
	}
	if started != 2 {
		t.Errorf("expected 2 started events, got %d", started)
	}
}
