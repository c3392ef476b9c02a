package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-gate/internal/identity"
	"github.com/stemsi/exstem-gate/internal/model"
)

// ErrInvalidImport is returned for roster or content entries that cannot be stored.
var ErrInvalidImport = errors.New("invalid import entry")

// AdminService feeds the roster, content and allow-list stores. These are
// plain writes; the lifecycle services only read what it stores.
type AdminService struct {
	learners    RosterWriter
	assessments AssessmentWriter
	grants      GrantWriter
}

// NewAdminService creates a new AdminService.
func NewAdminService(learners RosterWriter, assessments AssessmentWriter, grants GrantWriter) *AdminService {
	return &AdminService{learners: learners, assessments: assessments, grants: grants}
}

// ImportLearners upserts roster entries keyed by their normalized identity.
// It stops at the first invalid entry and returns how many were stored.
func (s *AdminService) ImportLearners(ctx context.Context, learners []model.Learner) (int, error) {
	for i := range learners {
		l := &learners[i]
		nameKey := identity.NameKey(l.Name)
		contactKey := identity.ContactKey(l.ContactNumber)
		if nameKey == "" || contactKey == "" {
			return i, fmt.Errorf("%w: learner %d has an empty name or contact number", ErrInvalidImport, i+1)
		}
		if l.Status == "" {
			l.Status = model.LearnerStatusActive
		}
		if l.Status != model.LearnerStatusActive && l.Status != model.LearnerStatusInactive {
			return i, fmt.Errorf("%w: learner %d has unknown status %q", ErrInvalidImport, i+1, l.Status)
		}
		if err := s.learners.UpsertLearner(ctx, l, nameKey, contactKey); err != nil {
			return i, fmt.Errorf("upsert learner %d: %w", i+1, err)
		}
	}
	return len(learners), nil
}

// ImportAssessment stores an assessment definition. A missing id is
// generated and a zero total score is computed from the items.
func (s *AdminService) ImportAssessment(ctx context.Context, a *model.Assessment) error {
	if a.Title == "" {
		return fmt.Errorf("%w: assessment title is required", ErrInvalidImport)
	}
	if len(a.Items) == 0 {
		return fmt.Errorf("%w: assessment %q has no items", ErrInvalidImport, a.Title)
	}

	seen := make(map[string]struct{}, len(a.Items))
	var total float64
	for _, it := range a.Items {
		if it.Ref == "" {
			return fmt.Errorf("%w: item without ref in %q", ErrInvalidImport, a.Title)
		}
		if _, dup := seen[it.Ref]; dup {
			return fmt.Errorf("%w: duplicate item ref %q", ErrInvalidImport, it.Ref)
		}
		seen[it.Ref] = struct{}{}
		total += it.Points
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.TotalScore == 0 {
		a.TotalScore = total
	}
	return s.assessments.UpsertAssessment(ctx, a)
}

// SetGrant adds (active) or revokes (inactive) a learner's grant.
func (s *AdminService) SetGrant(ctx context.Context, assessmentID uuid.UUID, learnerID int64, active bool) error {
	return s.grants.SetGrant(ctx, &model.AccessGrant{
		AssessmentID: assessmentID,
		LearnerID:    learnerID,
		Active:       active,
	})
}

// ListGrants returns the grants of an assessment, revoked ones included.
func (s *AdminService) ListGrants(ctx context.Context, assessmentID uuid.UUID) ([]model.AccessGrant, error) {
	grants, err := s.grants.ListGrants(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if grants == nil {
		grants = []model.AccessGrant{}
	}
	return grants, nil
}
