package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is one learner-provided answer for an item.
type Answer struct {
	ItemRef string `json:"item_ref" binding:"required,max=64"`
	Value   string `json:"answer" binding:"max=4096"`
}

// SubmissionRecord is written exactly once, together with the session's
// completion, and never changes afterwards.
type SubmissionRecord struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	AssessmentID uuid.UUID `json:"assessment_id"`
	LearnerID    int64     `json:"learner_id"`
	Answers      []Answer  `json:"answers"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// SubmitRequest is the payload for a submission. ClientElapsedSeconds is
// recorded for audit and never used for timing.
type SubmitRequest struct {
	SessionToken         string   `json:"session_token" binding:"required,min=16,max=128"`
	Answers              []Answer `json:"answers" binding:"required,max=500,dive"`
	ClientElapsedSeconds *float64 `json:"client_elapsed_seconds" binding:"omitempty,min=0"`
}

// SubmitResponse confirms a recorded submission.
type SubmitResponse struct {
	SubmissionID    uuid.UUID `json:"submission_id"`
	DurationSeconds float64   `json:"duration_seconds"`
	SubmittedAt     time.Time `json:"submitted_at"`
}
