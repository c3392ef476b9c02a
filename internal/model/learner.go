package model

import "time"

// LearnerStatus marks whether a roster entry may authenticate.
type LearnerStatus string

const (
	LearnerStatusActive   LearnerStatus = "active"
	LearnerStatusInactive LearnerStatus = "inactive"
)

// Learner is a roster entry. The roster is owned elsewhere; this service only reads it.
type Learner struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	ContactNumber string        `json:"contact_number"`
	Status        LearnerStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// VerifyIdentityRequest is the payload for the identity check.
type VerifyIdentityRequest struct {
	Name          string `json:"name" binding:"required,min=1,max=100"`
	ContactNumber string `json:"contact_number" binding:"required,min=4,max=32,contact"`
}

// VerifyIdentityResponse carries the short-lived ticket used to start a session.
type VerifyIdentityResponse struct {
	LearnerID int64     `json:"learner_id"`
	Name      string    `json:"name"`
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
}
