package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditKind names a session lifecycle event.
type AuditKind string

const (
	AuditSessionStarted   AuditKind = "SESSION_STARTED"
	AuditSessionSubmitted AuditKind = "SESSION_SUBMITTED"
)

// AuditEvent is queued after each committed transition and persisted in batches.
type AuditEvent struct {
	Kind         AuditKind  `json:"kind"`
	SessionID    uuid.UUID  `json:"session_id"`
	AssessmentID uuid.UUID  `json:"assessment_id"`
	LearnerID    int64      `json:"learner_id"`
	ClientMeta   ClientMeta `json:"client_meta,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}
