package sqlitestore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/repository"
)

// FindActiveLearner returns the single active learner whose normalized keys match.
func (s *Store) FindActiveLearner(ctx context.Context, nameKey, contactKey string) (*model.Learner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, contact_number, status, created_at
		 FROM learners
		 WHERE name_key = ? AND contact_key = ? AND status = ?
		 LIMIT 2`, nameKey, contactKey, string(model.LearnerStatusActive))
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
		return nil, repository.ErrNotFound
	case 1:
		return &found[0], nil
	default:
		return nil, repository.ErrAmbiguousLearner
	}
}

// ListActive returns the active roster ordered by name.
func (s *Store) ListActive(ctx context.Context) ([]model.Learner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, contact_number, status, created_at
		 FROM learners WHERE status = ? ORDER BY name, id`, string(model.LearnerStatusActive))
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
func (s *Store) UpsertLearner(ctx context.Context, l *model.Learner, nameKey, contactKey string) error {
	now := time.Now().UTC()
	return s.db.QueryRowContext(ctx,
		`INSERT INTO learners (name, contact_number, name_key, contact_key, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name_key, contact_key) DO UPDATE
		 SET name = excluded.name, contact_number = excluded.contact_number, status = excluded.status
		 RETURNING id, created_at`,
		l.Name, l.ContactNumber, nameKey, contactKey, string(l.Status), now,
	).Scan(&l.ID, &l.CreatedAt)
}

// GetAssessment retrieves an assessment with its ordered items.
func (s *Store) GetAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a := &model.Assessment{}
	var items string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, items, total_score, updated_at FROM assessments WHERE id = ?`, id.String(),
	).Scan(&a.ID, &a.Title, &items, &a.TotalScore, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := decodeJSON(nullString(items), &a.Items); err != nil {
		return nil, err
	}
	return a, nil
}

// UpsertAssessment stores an assessment definition.
func (s *Store) UpsertAssessment(ctx context.Context, a *model.Assessment) error {
	items, err := encodeJSON(a.Items)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (id, title, items, total_score, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET title = excluded.title, items = excluded.items,
		     total_score = excluded.total_score, updated_at = excluded.updated_at`,
		a.ID.String(), a.Title, items, a.TotalScore, a.UpdatedAt,
	)
	return err
}

// ListActiveGrants returns every active grant of an assessment in one statement.
func (s *Store) ListActiveGrants(ctx context.Context, assessmentID uuid.UUID) ([]model.AccessGrant, error) {
	return s.listGrants(ctx,
		`SELECT assessment_id, learner_id, active, updated_at
		 FROM access_grants WHERE assessment_id = ? AND active = 1
		 ORDER BY learner_id`, assessmentID)
}

// ListGrants returns active and revoked grants of an assessment.
func (s *Store) ListGrants(ctx context.Context, assessmentID uuid.UUID) ([]model.AccessGrant, error) {
	return s.listGrants(ctx,
		`SELECT assessment_id, learner_id, active, updated_at
		 FROM access_grants WHERE assessment_id = ?
		 ORDER BY learner_id`, assessmentID)
}

// SetGrant creates or toggles a grant.
func (s *Store) SetGrant(ctx context.Context, g *model.AccessGrant) error {
	g.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_grants (assessment_id, learner_id, active, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (assessment_id, learner_id) DO UPDATE
		 SET active = excluded.active, updated_at = excluded.updated_at`,
		g.AssessmentID.String(), g.LearnerID, g.Active, g.UpdatedAt,
	)
	return err
}

func (s *Store) listGrants(ctx context.Context, query string, assessmentID uuid.UUID) ([]model.AccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, query, assessmentID.String())
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
