package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-gate/internal/model"
)

// LearnerRepository reads the roster. Writes only come from roster imports.
type LearnerRepository struct {
	pool *pgxpool.Pool
}

// NewLearnerRepository creates a new LearnerRepository.
func NewLearnerRepository(pool *pgxpool.Pool) *LearnerRepository {
	return &LearnerRepository{pool: pool}
}

// FindActiveLearner returns the single active learner whose normalized keys match.
func (r *LearnerRepository) FindActiveLearner(ctx context.Context, nameKey, contactKey string) (*model.Learner, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, contact_number, status, created_at
		 FROM learners
		 WHERE name_key = $1 AND contact_key = $2 AND status = $3
		 LIMIT 2`, nameKey, contactKey, model.LearnerStatusActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []model.Learner
	for rows.Next() {
		var l model.Learner
		if err := rows.Scan(&l.ID, &l.Name, &l.ContactNumber, &l.Status, &l.CreatedAt); err != nil {
			return nil, err
		}
		found = append(found, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return &found[0], nil
	default:
		return nil, ErrAmbiguousLearner
	}
}

// ListActive returns the whole active roster ordered by name.
func (r *LearnerRepository) ListActive(ctx context.Context) ([]model.Learner, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, contact_number, status, created_at
		 FROM learners
		 WHERE status = $1
		 ORDER BY name, id`, model.LearnerStatusActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var learners []model.Learner
	for rows.Next() {
		var l model.Learner
		if err := rows.Scan(&l.ID, &l.Name, &l.ContactNumber, &l.Status, &l.CreatedAt); err != nil {
			return nil, err
		}
		learners = append(learners, l)
	}
	return learners, rows.Err()
}

// UpsertLearner inserts a roster entry or updates the one with the same keys.
func (r *LearnerRepository) UpsertLearner(ctx context.Context, l *model.Learner, nameKey, contactKey string) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO learners (name, contact_number, name_key, contact_key, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name_key, contact_key) DO UPDATE
		 SET name = EXCLUDED.name, contact_number = EXCLUDED.contact_number, status = EXCLUDED.status
		 RETURNING id, created_at`,
		l.Name, l.ContactNumber, nameKey, contactKey, l.Status,
	).Scan(&l.ID, &l.CreatedAt)
}
