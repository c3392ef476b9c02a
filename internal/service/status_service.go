package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/repository"
)

// StatusService reports completion across the active roster. It never writes.
type StatusService struct {
	roster   LearnerRoster
	sessions SessionStore
	catalog  AssessmentCatalog
	now      func() time.Time
}

// NewStatusService creates a new StatusService.
func NewStatusService(roster LearnerRoster, sessions SessionStore, catalog AssessmentCatalog) *StatusService {
	return &StatusService{roster: roster, sessions: sessions, catalog: catalog, now: time.Now}
}

// GetStatus partitions the active roster by completion of the assessment.
func (s *StatusService) GetStatus(ctx context.Context, assessmentID uuid.UUID) (*model.AssessmentStatus, error) {
	if _, err := s.catalog.GetAssessment(ctx, assessmentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	roster, err := s.roster.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	sessions, err := s.sessions.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return Aggregate(assessmentID, roster, sessions, s.now().UTC()), nil
}

// Aggregate splits roster into completed and not completed learners. The two
// sets are disjoint and together cover the roster. Sessions of learners not on
// the roster are ignored.
func Aggregate(assessmentID uuid.UUID, roster []model.Learner, sessions []model.ExamSession, at time.Time) *model.AssessmentStatus {
	completed := make(map[int64]*model.ExamSession)
	started := make(map[int64]bool)
	for i := range sessions {
		es := &sessions[i]
		started[es.LearnerID] = true
		if es.Completed {
			completed[es.LearnerID] = es
		}
	}

	status := &model.AssessmentStatus{
		AssessmentID: assessmentID,
		Completed:    []model.CompletedLearner{},
		NotCompleted: []model.PendingLearner{},
		RosterSize:   len(roster),
		GeneratedAt:  at,
	}
	for _, l := range roster {
		es, ok := completed[l.ID]
		if !ok {
			status.NotCompleted = append(status.NotCompleted, model.PendingLearner{
				LearnerID: l.ID,
				Name:      l.Name,
				Started:   started[l.ID],
			})
			continue
		}

		entry := model.CompletedLearner{LearnerID: l.ID, Name: l.Name}
		if es.SubmittedAt != nil {
			entry.SubmittedAt = *es.SubmittedAt
		}
		if es.DurationSeconds != nil {
			entry.DurationSeconds = *es.DurationSeconds
		}
		status.Completed = append(status.Completed, entry)
	}

	if len(roster) > 0 {
		status.CompletionRate = float64(len(status.Completed)) / float64(len(roster))
	}
	return status
}
