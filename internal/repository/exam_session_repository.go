package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-gate/internal/model"
)

const sessionColumns = `id, assessment_id, learner_id, token_hash, started_at, submitted_at,
	completed, duration_seconds, superseded_at, superseded_by, client_meta`

// ExamSessionRepository is the session store: the single shared mutable
// resource. Every transition runs inside one transaction.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// CreateSession inserts a Live session unless the pair already completed.
// Older Live sessions of the pair are tagged as superseded by the new one.
// Returns how many sessions were superseded.
func (r *ExamSessionRepository) CreateSession(ctx context.Context, s *model.ExamSession) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serializes issuance per pair for the lifetime of the transaction.
	pairKey := fmt.Sprintf("%s:%d", s.AssessmentID, s.LearnerID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, pairKey); err != nil {
		return 0, fmt.Errorf("lock pair: %w", err)
	}

	var done bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM exam_sessions
			WHERE assessment_id = $1 AND learner_id = $2 AND completed
		 )`, s.AssessmentID, s.LearnerID,
	).Scan(&done); err != nil {
		return 0, fmt.Errorf("check completed: %w", err)
	}
	if done {
		return 0, ErrAlreadyCompleted
	}

	tag, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET superseded_at = $3, superseded_by = $4
		 WHERE assessment_id = $1 AND learner_id = $2
		   AND NOT completed AND superseded_at IS NULL`,
		s.AssessmentID, s.LearnerID, s.StartedAt, s.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("supersede live sessions: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO exam_sessions (id, assessment_id, learner_id, token_hash, started_at, completed, client_meta)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		s.ID, s.AssessmentID, s.LearnerID, s.TokenHash, s.StartedAt, s.ClientMeta,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == IndexSessionToken {
			return 0, ErrTokenCollision
		}
		return 0, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetByTokenHash resolves a session from the digest of its token.
func (r *ExamSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*model.ExamSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE token_hash = $1`, tokenHash)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// CompleteSession flips the session to completed and stores its submission
// record in the same transaction. The flip is a compare-and-swap on
// completed = FALSE, and also on superseded_at IS NULL when requireCurrent
// is set; the partial unique index on completed pairs rejects a second
// completed session for the same assessment and learner.
func (r *ExamSessionRepository) CompleteSession(ctx context.Context, s *model.ExamSession, rec *model.SubmissionRecord, requireCurrent bool) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET completed = TRUE, submitted_at = $2, duration_seconds = $3
		 WHERE id = $1 AND NOT completed AND (NOT $4::boolean OR superseded_at IS NULL)`,
		s.ID, s.SubmittedAt, s.DurationSeconds, requireCurrent,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrCompletedConflict
		}
		return fmt.Errorf("complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var completed, superseded bool
		err := tx.QueryRow(ctx,
			`SELECT completed, superseded_at IS NOT NULL FROM exam_sessions WHERE id = $1`, s.ID,
		).Scan(&completed, &superseded)
		if err != nil {
			return fmt.Errorf("recheck session: %w", notFound(err))
		}
		if !completed && superseded {
			return ErrSuperseded
		}
		return ErrAlreadyCompleted
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO submission_records (id, session_id, assessment_id, learner_id, answers, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.SessionID, rec.AssessmentID, rec.LearnerID, rec.Answers, rec.SubmittedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrAlreadyCompleted
		}
		return fmt.Errorf("insert submission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrCompletedConflict
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetCompleted returns the completed session of a pair.
func (r *ExamSessionRepository) GetCompleted(ctx context.Context, assessmentID uuid.UUID, learnerID int64) (*model.ExamSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE assessment_id = $1 AND learner_id = $2 AND completed`, assessmentID, learnerID)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ListByAssessment returns all sessions of an assessment, oldest first.
func (r *ExamSessionRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE assessment_id = $1
		 ORDER BY started_at, id`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// GetSubmission returns the submission record of a completed session.
func (r *ExamSessionRepository) GetSubmission(ctx context.Context, sessionID uuid.UUID) (*model.SubmissionRecord, error) {
	rec := &model.SubmissionRecord{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, assessment_id, learner_id, answers, submitted_at
		 FROM submission_records WHERE session_id = $1`, sessionID,
	).Scan(&rec.ID, &rec.SessionID, &rec.AssessmentID, &rec.LearnerID, &rec.Answers, &rec.SubmittedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var submittedAt, supersededAt *time.Time
	err := row.Scan(&s.ID, &s.AssessmentID, &s.LearnerID, &s.TokenHash, &s.StartedAt, &submittedAt,
		&s.Completed, &s.DurationSeconds, &supersededAt, &s.SupersededBy, &s.ClientMeta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.SubmittedAt = submittedAt
	s.SupersededAt = supersededAt
	return s, nil
}
