package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-gate/internal/model"
)

// AccessService applies the allow-list policy: an assessment without active
// grants is open to every active learner, otherwise only granted learners may
// attempt it.
type AccessService struct {
	grants GrantReader
}

// NewAccessService creates a new AccessService.
func NewAccessService(grants GrantReader) *AccessService {
	return &AccessService{grants: grants}
}

// Check returns nil when the learner may attempt the assessment and ErrDenied otherwise.
func (s *AccessService) Check(ctx context.Context, assessmentID uuid.UUID, learnerID int64) error {
	// One statement, one snapshot of the grant set.
	grants, err := s.grants.ListActiveGrants(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("list grants: %w", err)
	}
	if !decideAccess(grants, learnerID) {
		return ErrDenied
	}
	return nil
}

// decideAccess evaluates the two questions separately: does the assessment
// have any active grant, and does this learner hold one.
func decideAccess(grants []model.AccessGrant, learnerID int64) bool {
	restricted := false
	granted := false
	for _, g := range grants {
		if !g.Active {
			continue
		}
		restricted = true
		if g.LearnerID == learnerID {
			granted = true
		}
	}
	return !restricted || granted
}
