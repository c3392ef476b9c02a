package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates exam session lifecycle states.
type SessionState string

const (
	SessionStateLive       SessionState = "LIVE"
	SessionStateSuperseded SessionState = "SUPERSEDED"
	SessionStateCompleted  SessionState = "COMPLETED"
)

// ClientMeta is free-form client information kept for audit only.
type ClientMeta map[string]string

// ExamSession represents one learner attempt at an assessment.
type ExamSession struct {
	ID              uuid.UUID  `json:"id"`
	AssessmentID    uuid.UUID  `json:"assessment_id"`
	LearnerID       int64      `json:"learner_id"`
	TokenHash       string     `json:"-"`
	StartedAt       time.Time  `json:"started_at"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	Completed       bool       `json:"completed"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	SupersededAt    *time.Time `json:"superseded_at,omitempty"`
	SupersededBy    *uuid.UUID `json:"superseded_by,omitempty"`
	ClientMeta      ClientMeta `json:"client_meta,omitempty"`
}

// State derives the lifecycle state from the stored flags.
func (s *ExamSession) State() SessionState {
	switch {
	case s.Completed:
		return SessionStateCompleted
	case s.SupersededAt != nil:
		return SessionStateSuperseded
	default:
		return SessionStateLive
	}
}

// StartSessionRequest is the payload for starting an attempt.
type StartSessionRequest struct {
	Client string `json:"client" binding:"omitempty,max=255"`
}

// StartSessionResponse returns the session token. The token is shown once.
type StartSessionResponse struct {
	SessionID          uuid.UUID `json:"session_id"`
	SessionToken       string    `json:"session_token"`
	StartedAt          time.Time `json:"started_at"`
	SupersededSessions int64     `json:"superseded_sessions"`
}

// SessionStateResponse is the learner-facing view of a session.
type SessionStateResponse struct {
	SessionID       uuid.UUID    `json:"session_id"`
	AssessmentID    uuid.UUID    `json:"assessment_id"`
	State           SessionState `json:"state"`
	StartedAt       time.Time    `json:"started_at"`
	ElapsedSeconds  float64      `json:"elapsed_seconds"`
	SubmittedAt     *time.Time   `json:"submitted_at,omitempty"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	SubmissionID    *uuid.UUID   `json:"submission_id,omitempty"`
}
