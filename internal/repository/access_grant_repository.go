package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-gate/internal/model"
)

// AccessGrantRepository handles the per-assessment allow-list.
type AccessGrantRepository struct {
	pool *pgxpool.Pool
}

// NewAccessGrantRepository creates a new AccessGrantRepository.
func NewAccessGrantRepository(pool *pgxpool.Pool) *AccessGrantRepository {
	return &AccessGrantRepository{pool: pool}
}

// ListActiveGrants returns every active grant of an assessment in one statement,
// so callers evaluate a single snapshot of the allow-list.
func (r *AccessGrantRepository) ListActiveGrants(ctx context.Context, assessmentID uuid.UUID) ([]model.AccessGrant, error) {
	return r.list(ctx,
		`SELECT assessment_id, learner_id, active, updated_at
		 FROM access_grants
		 WHERE assessment_id = $1 AND active
		 ORDER BY learner_id`, assessmentID)
}

// ListGrants returns active and revoked grants of an assessment.
func (r *AccessGrantRepository) ListGrants(ctx context.Context, assessmentID uuid.UUID) ([]model.AccessGrant, error) {
	return r.list(ctx,
		`SELECT assessment_id, learner_id, active, updated_at
		 FROM access_grants
		 WHERE assessment_id = $1
		 ORDER BY learner_id`, assessmentID)
}

// SetGrant creates or toggles a grant.
func (r *AccessGrantRepository) SetGrant(ctx context.Context, g *model.AccessGrant) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO access_grants (assessment_id, learner_id, active)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (assessment_id, learner_id) DO UPDATE
		 SET active = EXCLUDED.active, updated_at = NOW()
		 RETURNING updated_at`,
		g.AssessmentID, g.LearnerID, g.Active,
	).Scan(&g.UpdatedAt)
}

func (r *AccessGrantRepository) list(ctx context.Context, query string, assessmentID uuid.UUID) ([]model.AccessGrant, error) {
	rows, err := r.pool.Query(ctx, query, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []model.AccessGrant
	for rows.Next() {
		var g model.AccessGrant
		if err := rows.Scan(&g.AssessmentID, &g.LearnerID, &g.Active, &g.UpdatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
