package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/response"
	"github.com/stemsi/exstem-gate/internal/service"
	"github.com/stemsi/exstem-gate/internal/validator"
)

// AuthHandler handles identity verification and operator login.
type AuthHandler struct {
	authService     *service.AuthService
	identityService *service.IdentityService
	log             zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, identityService *service.IdentityService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService:     authService,
		identityService: identityService,
		log:             log.With().Str("component", "auth_handler").Logger(),
	}
}

// VerifyIdentity godoc
// POST /api/v1/auth/verify
// Matches name + contact number against the active roster and returns a
// short-lived ticket for starting a session.
func (h *AuthHandler) VerifyIdentity(c *gin.Context) {
	var req model.VerifyIdentityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	learner, err := h.identityService.Verify(c.Request.Context(), req.Name, req.ContactNumber)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			h.log.Info().Str("client_ip", c.ClientIP()).Msg("Identity not matched")
		}
		failDomain(c, h.log, err)
		return
	}

	ticket, expiresAt, err := h.authService.IssueTicket(learner.ID)
	if err != nil {
		failDomain(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, model.VerifyIdentityResponse{
		LearnerID: learner.ID,
		Name:      learner.Name,
		Ticket:    ticket,
		ExpiresAt: expiresAt,
	})
}

// AdminLogin godoc
// POST /api/v1/auth/admin/login
// Checks the shared operator key and returns an admin JWT.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req model.AdminLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.authService.CheckAdminKey(req.Key); err != nil {
		h.log.Warn().Str("client_ip", c.ClientIP()).Msg("Admin login rejected")
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, expiresAt, err := h.authService.IssueAdminToken()
	if err != nil {
		failDomain(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, model.AdminLoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
