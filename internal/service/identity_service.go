package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/identity"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/repository"
)

// IdentityService resolves a claimed identity to a roster entry.
type IdentityService struct {
	roster LearnerRoster
	log    zerolog.Logger
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(roster LearnerRoster, log zerolog.Logger) *IdentityService {
	return &IdentityService{
		roster: roster,
		log:    log.With().Str("component", "identity").Logger(),
	}
}

// Verify returns the single active learner matching name and contact number
// after normalization. It has no side effects.
func (s *IdentityService) Verify(ctx context.Context, name, contact string) (*model.Learner, error) {
	nameKey := identity.NameKey(name)
	contactKey := identity.ContactKey(contact)
	if nameKey == "" || contactKey == "" {
		return nil, ErrNotFound
	}

	learner, err := s.roster.FindActiveLearner(ctx, nameKey, contactKey)
	switch {
	case err == nil:
		return learner, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, repository.ErrAmbiguousLearner):
		// Roster data problem; the caller only learns "not found".
		s.log.Warn().Str("name_key", nameKey).Msg("Identity matches more than one active learner")
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("find learner: %w", err)
	}
}
