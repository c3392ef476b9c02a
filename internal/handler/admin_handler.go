package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/response"
	"github.com/stemsi/exstem-gate/internal/service"
)

// AdminHandler serves the operator views.
type AdminHandler struct {
	statusService *service.StatusService
	adminService  *service.AdminService
	log           zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(statusService *service.StatusService, adminService *service.AdminService, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		statusService: statusService,
		adminService:  adminService,
		log:           log.With().Str("component", "admin_handler").Logger(),
	}
}

// GetStatus godoc
// GET /api/v1/admin/assessments/:id/status
// Partitions the active roster into completed and not completed.
func (h *AdminHandler) GetStatus(c *gin.Context) {
	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	status, err := h.statusService.GetStatus(c.Request.Context(), assessmentID)
	if err != nil {
		failDomain(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// ListGrants godoc
// GET /api/v1/admin/assessments/:id/grants
func (h *AdminHandler) ListGrants(c *gin.Context) {
	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	grants, err := h.adminService.ListGrants(c.Request.Context(), assessmentID)
	if err != nil {
		failDomain(c, h.log, err)
		return
	}

	restricted := false
	for _, g := range grants {
		if g.Active {
			restricted = true
			break
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"assessment_id": assessmentID,
		"grants":        grants,
		"restricted":    restricted,
	})
}
