package model

import (
	"time"

	"github.com/google/uuid"
)

// AccessGrant is an allow-list entry. While an assessment has at least one
// active grant, only granted learners may attempt it; with none it is open.
type AccessGrant struct {
	AssessmentID uuid.UUID `json:"assessment_id"`
	LearnerID    int64     `json:"learner_id"`
	Active       bool      `json:"active"`
	UpdatedAt    time.Time `json:"updated_at"`
}
