package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/repository"
)

const sessionColumns = `id, assessment_id, learner_id, token_hash, started_at, submitted_at,
	completed, duration_seconds, superseded_at, superseded_by, client_meta`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateSession inserts a Live session unless the pair already completed and
// tags older Live sessions of the pair as superseded. The immediate
// transaction holds the database write lock, which serializes issuance.
func (s *Store) CreateSession(ctx context.Context, es *model.ExamSession) (int64, error) {
	meta, err := encodeMeta(es.ClientMeta)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var done bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM exam_sessions
			WHERE assessment_id = ? AND learner_id = ? AND completed = 1
		 )`, es.AssessmentID.String(), es.LearnerID,
	).Scan(&done); err != nil {
		return 0, fmt.Errorf("check completed: %w", err)
	}
	if done {
		return 0, repository.ErrAlreadyCompleted
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE exam_sessions
		 SET superseded_at = ?, superseded_by = ?
		 WHERE assessment_id = ? AND learner_id = ?
		   AND completed = 0 AND superseded_at IS NULL`,
		es.StartedAt.UTC(), es.ID.String(), es.AssessmentID.String(), es.LearnerID,
	)
	if err != nil {
		return 0, fmt.Errorf("supersede live sessions: %w", err)
	}
	superseded, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exam_sessions (id, assessment_id, learner_id, token_hash, started_at, completed, client_meta)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		es.ID.String(), es.AssessmentID.String(), es.LearnerID, es.TokenHash, es.StartedAt.UTC(), meta,
	)
	if err != nil {
		if msg, ok := uniqueViolation(err); ok && strings.Contains(msg, "token_hash") {
			return 0, repository.ErrTokenCollision
		}
		return 0, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return superseded, nil
}

// GetByTokenHash resolves a session from the digest of its token.
func (s *Store) GetByTokenHash(ctx context.Context, tokenHash string) (*model.ExamSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE token_hash = ?`, tokenHash)
	es, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return es, nil
}

// CompleteSession flips the session to completed and stores its submission
// record atomically. With requireCurrent a superseded session is refused
// inside the same swap. The partial unique index on completed pairs rejects
// a second completed session for the same assessment and learner.
func (s *Store) CompleteSession(ctx context.Context, es *model.ExamSession, rec *model.SubmissionRecord, requireCurrent bool) error {
	answers, err := encodeJSON(rec.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	var submittedAt any
	if es.SubmittedAt != nil {
		submittedAt = es.SubmittedAt.UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE exam_sessions
		 SET completed = 1, submitted_at = ?, duration_seconds = ?
		 WHERE id = ? AND completed = 0 AND (? = 0 OR superseded_at IS NULL)`,
		submittedAt, es.DurationSeconds, es.ID.String(), requireCurrent,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return repository.ErrCompletedConflict
		}
		return fmt.Errorf("complete session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		var completed, superseded bool
		err := tx.QueryRowContext(ctx,
			`SELECT completed, superseded_at IS NOT NULL FROM exam_sessions WHERE id = ?`, es.ID.String(),
		).Scan(&completed, &superseded)
		if err != nil {
			return fmt.Errorf("recheck session: %w", notFound(err))
		}
		if !completed && superseded {
			return repository.ErrSuperseded
		}
		return repository.ErrAlreadyCompleted
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submission_records (id, session_id, assessment_id, learner_id, answers, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.SessionID.String(), rec.AssessmentID.String(), rec.LearnerID, answers, rec.SubmittedAt.UTC(),
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return repository.ErrAlreadyCompleted
		}
		return fmt.Errorf("insert submission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetCompleted returns the completed session of a pair.
func (s *Store) GetCompleted(ctx context.Context, assessmentID uuid.UUID, learnerID int64) (*model.ExamSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE assessment_id = ? AND learner_id = ? AND completed = 1`, assessmentID.String(), learnerID)
	es, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return es, nil
}

// ListByAssessment returns all sessions of an assessment, oldest first.
func (s *Store) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.ExamSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE assessment_id = ?
		 ORDER BY started_at, id`, assessmentID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		es, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *es)
	}
	return sessions, rows.Err()
}

// GetSubmission returns the submission record of a completed session.
func (s *Store) GetSubmission(ctx context.Context, sessionID uuid.UUID) (*model.SubmissionRecord, error) {
	rec := &model.SubmissionRecord{}
	var answers sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, assessment_id, learner_id, answers, submitted_at
		 FROM submission_records WHERE session_id = ?`, sessionID.String(),
	).Scan(&rec.ID, &rec.SessionID, &rec.AssessmentID, &rec.LearnerID, &answers, &rec.SubmittedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := decodeJSON(answers, &rec.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return rec, nil
}

// CountSubmissions returns how many submission records exist for a pair.
func (s *Store) CountSubmissions(ctx context.Context, assessmentID uuid.UUID, learnerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submission_records WHERE assessment_id = ? AND learner_id = ?`,
		assessmentID.String(), learnerID,
	).Scan(&n)
	return n, err
}

func scanSession(row rowScanner) (*model.ExamSession, error) {
	es := &model.ExamSession{}
	var (
		submittedAt, supersededAt sql.NullTime
		duration                  sql.NullFloat64
		supersededBy              uuid.NullUUID
		meta                      sql.NullString
	)
	err := row.Scan(&es.ID, &es.AssessmentID, &es.LearnerID, &es.TokenHash, &es.StartedAt, &submittedAt,
		&es.Completed, &duration, &supersededAt, &supersededBy, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		es.SubmittedAt = &t
	}
	if supersededAt.Valid {
		t := supersededAt.Time
		es.SupersededAt = &t
	}
	if duration.Valid {
		d := duration.Float64
		es.DurationSeconds = &d
	}
	if supersededBy.Valid {
		id := supersededBy.UUID
		es.SupersededBy = &id
	}
	if err := decodeJSON(meta, &es.ClientMeta); err != nil {
		return nil, fmt.Errorf("decode client meta: %w", err)
	}
	return es, nil
}

func encodeMeta(meta model.ClientMeta) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return encodeJSON(meta)
}
