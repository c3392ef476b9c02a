package model

import (
	"time"

	"github.com/google/uuid"
)

// CompletedLearner is a roster entry with its completion details.
type CompletedLearner struct {
	LearnerID       int64     `json:"learner_id"`
	Name            string    `json:"name"`
	SubmittedAt     time.Time `json:"submitted_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// PendingLearner is a roster entry without a completed session.
type PendingLearner struct {
	LearnerID int64  `json:"learner_id"`
	Name      string `json:"name"`
	Started   bool   `json:"started"`
}

// AssessmentStatus partitions the active roster by completion.
type AssessmentStatus struct {
	AssessmentID   uuid.UUID          `json:"assessment_id"`
	Completed      []CompletedLearner `json:"completed"`
	NotCompleted   []PendingLearner   `json:"not_completed"`
	RosterSize     int                `json:"roster_size"`
	CompletionRate float64            `json:"completion_rate"`
	GeneratedAt    time.Time          `json:"generated_at"`
}
