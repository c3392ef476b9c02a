package sqlitestore

import (
	"context"
	"fmt"

	"github.com/stemsi/exstem-gate/internal/model"
)

// InsertBatch writes a batch of audit events in one transaction.
func (s *Store) InsertBatch(ctx context.Context, batch []model.AuditEvent) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_audit_events (kind, session_id, assessment_id, learner_id, client_meta, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		meta, err := encodeMeta(e.ClientMeta)
		if err != nil {
			return fmt.Errorf("encode client meta: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, string(e.Kind), e.SessionID.String(), e.AssessmentID.String(),
			e.LearnerID, meta, e.OccurredAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Insert writes a single event.
func (s *Store) Insert(ctx context.Context, e model.AuditEvent) error {
	return s.InsertBatch(ctx, []model.AuditEvent{e})
}

// CountAuditEvents returns how many audit events of a kind were stored.
func (s *Store) CountAuditEvents(ctx context.Context, kind model.AuditKind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_audit_events WHERE kind = ?`, string(kind)).Scan(&n)
	return n, err
}
