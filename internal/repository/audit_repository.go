package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-gate/internal/model"
)

// AuditRepository persists session audit events drained from the audit queue.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// InsertBatch writes a batch with a single UNNEST insert.
func (r *AuditRepository) InsertBatch(ctx context.Context, batch []model.AuditEvent) error {
	n := len(batch)
	if n == 0 {
		return nil
	}

	kinds := make([]string, n)
	sessionIDs := make([]uuid.UUID, n)
	assessmentIDs := make([]uuid.UUID, n)
	learnerIDs := make([]int64, n)
	metas := make([]string, n)
	occurred := make([]time.Time, n)
	for i, e := range batch {
		kinds[i] = string(e.Kind)
		sessionIDs[i] = e.SessionID
		assessmentIDs[i] = e.AssessmentID
		learnerIDs[i] = e.LearnerID
		raw, err := json.Marshal(e.ClientMeta)
		if err != nil {
			return fmt.Errorf("encode client meta: %w", err)
		}
		metas[i] = string(raw)
		occurred[i] = e.OccurredAt
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_audit_events (kind, session_id, assessment_id, learner_id, client_meta, occurred_at)
		 SELECT u.kind, u.session_id, u.assessment_id, u.learner_id, u.client_meta::jsonb, u.occurred_at
		 FROM UNNEST(
			$1::text[],
			$2::uuid[],
			$3::uuid[],
			$4::bigint[],
			$5::text[],
			$6::timestamptz[]
		 ) AS u (kind, session_id, assessment_id, learner_id, client_meta, occurred_at)`,
		kinds, sessionIDs, assessmentIDs, learnerIDs, metas, occurred,
	)
	return err
}

// Insert writes a single event; used as the fallback when a batch fails.
func (r *AuditRepository) Insert(ctx context.Context, e model.AuditEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_audit_events (kind, session_id, assessment_id, learner_id, client_meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.Kind, e.SessionID, e.AssessmentID, e.LearnerID, e.ClientMeta, e.OccurredAt,
	)
	return err
}
