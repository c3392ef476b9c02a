package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/middleware"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/response"
	"github.com/stemsi/exstem-gate/internal/service"
	"github.com/stemsi/exstem-gate/internal/validator"
)

// SessionHandler handles the learner side of an attempt.
type SessionHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/assessments/:assessment_id/sessions
// Starts an attempt for the learner named by the identity ticket.
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// The body is optional. Chunked bodies report a length of -1.
	var req model.StartSessionRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	resp, err := h.sessionService.StartSession(c.Request.Context(), assessmentID, claims.LearnerID, clientMeta(c, req.Client))
	if err != nil {
		failDomain(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, resp)
}

// GetSessionState godoc
// GET /api/v1/session
func (h *SessionHandler) GetSessionState(c *gin.Context) {
	state, err := h.sessionService.GetSessionState(c.Request.Context(), middleware.GetSessionToken(c))
	if err != nil {
		failDomain(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// GetPaper godoc
// GET /api/v1/session/paper
// Returns the items of the session's assessment without expected answers.
func (h *SessionHandler) GetPaper(c *gin.Context) {
	paper, err := h.sessionService.GetPaper(c.Request.Context(), middleware.GetSessionToken(c))
	if err != nil {
		failDomain(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// Submit godoc
// POST /api/v1/session/submit
func (h *SessionHandler) Submit(c *gin.Context) {
	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.sessionService.Submit(c.Request.Context(), req.SessionToken, req.Answers, req.ClientElapsedSeconds)
	if err != nil {
		failDomain(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, resp)
}

func clientMeta(c *gin.Context, client string) model.ClientMeta {
	meta := model.ClientMeta{
		"ip":         c.ClientIP(),
		"user_agent": c.Request.UserAgent(),
		"request_id": response.RequestID(c),
	}
	if client != "" {
		meta["client"] = client
	}
	return meta
}
