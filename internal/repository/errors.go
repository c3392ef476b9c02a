package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Storage-level errors shared by the PostgreSQL and SQLite backends.
var (
	ErrNotFound          = errors.New("record not found")
	ErrAmbiguousLearner  = errors.New("more than one active learner matches")
	ErrAlreadyCompleted  = errors.New("a completed session already exists for this assessment and learner")
	ErrCompletedConflict = errors.New("concurrent completion for this assessment and learner")
	ErrTokenCollision    = errors.New("session token hash already in use")
	ErrSuperseded        = errors.New("session was superseded by a newer session")
)

// Index and constraint names referenced when classifying unique violations.
const (
	IndexCompletedPair   = "ux_exam_sessions_completed_pair"
	IndexSessionToken    = "ux_exam_sessions_token_hash"
	IndexSubmissionByKey = "ux_submission_records_session"
)

const pgUniqueViolation = "23505"

// uniqueViolation reports the violated constraint when err is a PostgreSQL unique violation.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
