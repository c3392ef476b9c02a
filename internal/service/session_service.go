package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/metrics"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/repository"
)

// SessionService issues exam sessions and records submissions.
type SessionService struct {
	sessions SessionStore
	catalog  AssessmentCatalog
	access   *AccessService
	events   EventSink
	log      zerolog.Logger

	// honorSuperseded lets a superseded session still submit; the first
	// submission of the pair wins either way.
	honorSuperseded bool
	now             func() time.Time
}

// SessionOption customizes a SessionService.
type SessionOption func(*SessionService)

// WithClock replaces the server clock.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

// WithHonorSuperseded sets whether superseded sessions may still submit.
func WithHonorSuperseded(honor bool) SessionOption {
	return func(s *SessionService) { s.honorSuperseded = honor }
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessions SessionStore,
	catalog AssessmentCatalog,
	access *AccessService,
	events EventSink,
	log zerolog.Logger,
	opts ...SessionOption,
) *SessionService {
	s := &SessionService{
		sessions:        sessions,
		catalog:         catalog,
		access:          access,
		events:          events,
		log:             log.With().Str("component", "session").Logger(),
		honorSuperseded: true,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession creates a Live session for a verified learner and returns its
// token. The token is returned only here.
func (s *SessionService) StartSession(ctx context.Context, assessmentID uuid.UUID, learnerID int64, meta model.ClientMeta) (*model.StartSessionResponse, error) {
	resp, err := s.startSession(ctx, assessmentID, learnerID, meta)
	metrics.Observe("start_session", outcomeOf(err))
	return resp, err
}

func (s *SessionService) startSession(ctx context.Context, assessmentID uuid.UUID, learnerID int64, meta model.ClientMeta) (*model.StartSessionResponse, error) {
	if _, err := s.catalog.GetAssessment(ctx, assessmentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	if err := s.access.Check(ctx, assessmentID, learnerID); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		token, hash, err := newSessionToken()
		if err != nil {
			return nil, err
		}

		session := &model.ExamSession{
			ID:           uuid.New(),
			AssessmentID: assessmentID,
			LearnerID:    learnerID,
			TokenHash:    hash,
			StartedAt:    s.now().UTC(),
			ClientMeta:   meta,
		}

		superseded, err := s.sessions.CreateSession(ctx, session)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrAlreadyCompleted):
			return nil, ErrAlreadyCompleted
		case errors.Is(err, repository.ErrTokenCollision) && attempt == 0:
			s.log.Warn().Msg("Session token collision, retrying with a fresh token")
			continue
		default:
			return nil, fmt.Errorf("create session: %w", err)
		}

		metrics.SessionsIssued.Inc()
		if superseded > 0 {
			metrics.SessionsSuperseded.Add(float64(superseded))
			s.log.Info().
				Str("assessment_id", assessmentID.String()).
				Int64("learner_id", learnerID).
				Int64("superseded", superseded).
				Msg("New session superseded live sessions")
		}

		s.events.Publish(ctx, model.AuditEvent{
			Kind:         model.AuditSessionStarted,
			SessionID:    session.ID,
			AssessmentID: assessmentID,
			LearnerID:    learnerID,
			ClientMeta:   meta,
			OccurredAt:   session.StartedAt,
		})

		return &model.StartSessionResponse{
			SessionID:          session.ID,
			SessionToken:       token,
			StartedAt:          session.StartedAt,
			SupersededSessions: superseded,
		}, nil
	}
}

// Submit records the answers of a Live session and completes it. Duration is
// measured by the server clock from the stored start time; clientElapsed is
// kept for audit only.
func (s *SessionService) Submit(ctx context.Context, token string, answers []model.Answer, clientElapsed *float64) (*model.SubmitResponse, error) {
	resp, err := s.submit(ctx, token, answers, clientElapsed)
	metrics.Observe("submit", outcomeOf(err))
	return resp, err
}

func (s *SessionService) submit(ctx context.Context, token string, answers []model.Answer, clientElapsed *float64) (*model.SubmitResponse, error) {
	session, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Completed {
		return nil, ErrAlreadyCompleted
	}
	if session.SupersededAt != nil && !s.honorSuperseded {
		return nil, ErrInvalidToken
	}

	assessment, err := s.catalog.GetAssessment(ctx, session.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	if err := validateAnswers(assessment, answers); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		submittedAt := s.now().UTC()
		duration := submittedAt.Sub(session.StartedAt).Seconds()
		if duration < 0 {
			duration = 0
		}
		session.SubmittedAt = &submittedAt
		session.DurationSeconds = &duration

		rec := &model.SubmissionRecord{
			ID:           uuid.New(),
			SessionID:    session.ID,
			AssessmentID: session.AssessmentID,
			LearnerID:    session.LearnerID,
			Answers:      answers,
			SubmittedAt:  submittedAt,
		}

		err := s.sessions.CompleteSession(ctx, session, rec, !s.honorSuperseded)
		switch {
		case err == nil:
			metrics.SubmissionsRecorded.Inc()
			s.events.Publish(ctx, model.AuditEvent{
				Kind:         model.AuditSessionSubmitted,
				SessionID:    session.ID,
				AssessmentID: session.AssessmentID,
				LearnerID:    session.LearnerID,
				ClientMeta:   submitMeta(session.ClientMeta, clientElapsed),
				OccurredAt:   submittedAt,
			})
			return &model.SubmitResponse{
				SubmissionID:    rec.ID,
				DurationSeconds: duration,
				SubmittedAt:     submittedAt,
			}, nil

		case errors.Is(err, repository.ErrAlreadyCompleted):
			return nil, ErrAlreadyCompleted

		case errors.Is(err, repository.ErrSuperseded):
			return nil, ErrInvalidToken

		case errors.Is(err, repository.ErrCompletedConflict):
			// Another session of the pair won the race. Confirm before reporting.
			if _, gerr := s.sessions.GetCompleted(ctx, session.AssessmentID, session.LearnerID); gerr == nil {
				return nil, ErrAlreadyCompleted
			} else if !errors.Is(gerr, repository.ErrNotFound) {
				return nil, fmt.Errorf("confirm completion: %w", gerr)
			}
			if attempt == 0 {
				s.log.Warn().Str("session_id", session.ID.String()).Msg("Completion conflict not confirmed, retrying")
				continue
			}
			return nil, fmt.Errorf("complete session: %w", err)

		default:
			return nil, fmt.Errorf("complete session: %w", err)
		}
	}
}

// GetSessionState returns a display view of the session behind token.
func (s *SessionService) GetSessionState(ctx context.Context, token string) (*model.SessionStateResponse, error) {
	session, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	resp := &model.SessionStateResponse{
		SessionID:       session.ID,
		AssessmentID:    session.AssessmentID,
		State:           session.State(),
		StartedAt:       session.StartedAt,
		SubmittedAt:     session.SubmittedAt,
		DurationSeconds: session.DurationSeconds,
	}
	if session.Completed {
		rec, err := s.sessions.GetSubmission(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("get submission: %w", err)
		}
		resp.SubmissionID = &rec.ID
	}
	if session.DurationSeconds != nil {
		resp.ElapsedSeconds = *session.DurationSeconds
	} else {
		resp.ElapsedSeconds = max(s.now().Sub(session.StartedAt).Seconds(), 0)
	}
	return resp, nil
}

// GetPaper returns the items of the session's assessment without expected
// answers. Only sessions that can still submit get the paper.
func (s *SessionService) GetPaper(ctx context.Context, token string) (*model.Paper, error) {
	session, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Completed {
		return nil, ErrAlreadyCompleted
	}
	if session.SupersededAt != nil && !s.honorSuperseded {
		return nil, ErrInvalidToken
	}

	assessment, err := s.catalog.GetAssessment(ctx, session.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	return assessment.Paper(), nil
}

func (s *SessionService) resolve(ctx context.Context, token string) (*model.ExamSession, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	session, err := s.sessions.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return session, nil
}

// validateAnswers requires every reference to name an item of the assessment,
// at most once. Unanswered items are allowed.
func validateAnswers(a *model.Assessment, answers []model.Answer) error {
	seen := make(map[string]struct{}, len(answers))
	for _, ans := range answers {
		if !a.HasItem(ans.ItemRef) {
			return fmt.Errorf("%w: unknown item %q", ErrInvalidAnswers, ans.ItemRef)
		}
		if _, dup := seen[ans.ItemRef]; dup {
			return fmt.Errorf("%w: duplicate answer for item %q", ErrInvalidAnswers, ans.ItemRef)
		}
		seen[ans.ItemRef] = struct{}{}
	}
	return nil
}

func submitMeta(meta model.ClientMeta, clientElapsed *float64) model.ClientMeta {
	if clientElapsed == nil {
		return meta
	}
	out := make(model.ClientMeta, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["client_elapsed_seconds"] = strconv.FormatFloat(*clientElapsed, 'f', 3, 64)
	return out
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrDenied):
		return metrics.OutcomeDenied
	case errors.Is(err, ErrAlreadyCompleted):
		return metrics.OutcomeAlreadyCompleted
	case errors.Is(err, ErrInvalidToken):
		return metrics.OutcomeInvalidToken
	case errors.Is(err, ErrInvalidAnswers):
		return metrics.OutcomeInvalidAnswers
	default:
		return metrics.OutcomeError
	}
}
