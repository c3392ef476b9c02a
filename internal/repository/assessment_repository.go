package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-gate/internal/model"
)

// AssessmentRepository reads assessment content.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

// GetAssessment retrieves an assessment with its ordered items.
func (r *AssessmentRepository) GetAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a := &model.Assessment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, items, total_score, updated_at
		 FROM assessments WHERE id = $1`, id,
	).Scan(&a.ID, &a.Title, &a.Items, &a.TotalScore, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// UpsertAssessment stores an assessment definition.
func (r *AssessmentRepository) UpsertAssessment(ctx context.Context, a *model.Assessment) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO assessments (id, title, items, total_score)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title, items = EXCLUDED.items,
		     total_score = EXCLUDED.total_score, updated_at = NOW()
		 RETURNING updated_at`,
		a.ID, a.Title, a.Items, a.TotalScore,
	).Scan(&a.UpdatedAt)
}
