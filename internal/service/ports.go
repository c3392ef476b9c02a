package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-gate/internal/model"
)

// LearnerRoster is the read side of the external roster.
type LearnerRoster interface {
	FindActiveLearner(ctx context.Context, nameKey, contactKey string) (*model.Learner, error)
	ListActive(ctx context.Context) ([]model.Learner, error)
}

// RosterWriter imports roster entries under their normalized keys.
type RosterWriter interface {
	UpsertLearner(ctx context.Context, l *model.Learner, nameKey, contactKey string) error
}

// AssessmentCatalog is the read side of the external content store.
type AssessmentCatalog interface {
	GetAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
}

// AssessmentWriter stores assessment definitions.
type AssessmentWriter interface {
	UpsertAssessment(ctx context.Context, a *model.Assessment) error
}

// GrantReader lists the active grants of an assessment in one read.
type GrantReader interface {
	ListActiveGrants(ctx context.Context, assessmentID uuid.UUID) ([]model.AccessGrant, error)
}

// GrantWriter manages the allow-list.
type GrantWriter interface {
	SetGrant(ctx context.Context, g *model.AccessGrant) error
	ListGrants(ctx context.Context, assessmentID uuid.UUID) ([]model.AccessGrant, error)
}

// SessionStore owns exam sessions and submission records.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.ExamSession) (int64, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.ExamSession, error)
	// CompleteSession refuses a superseded session when requireCurrent is set.
	CompleteSession(ctx context.Context, s *model.ExamSession, rec *model.SubmissionRecord, requireCurrent bool) error
	GetCompleted(ctx context.Context, assessmentID uuid.UUID, learnerID int64) (*model.ExamSession, error)
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.ExamSession, error)
	GetSubmission(ctx context.Context, sessionID uuid.UUID) (*model.SubmissionRecord, error)
}

// EventSink receives lifecycle events after a transition has committed.
// Implementations must not fail the caller.
type EventSink interface {
	Publish(ctx context.Context, e model.AuditEvent)
}

// NopSink discards events.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(context.Context, model.AuditEvent) {}
