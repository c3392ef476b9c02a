package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/response"
	"github.com/stemsi/exstem-gate/internal/service"
)

// failDomain writes the envelope for an error returned by a service.
// Unknown and invalid tokens share a status so tokens cannot be probed.
func failDomain(c *gin.Context, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidToken):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrDenied):
		response.Fail(c, http.StatusForbidden, response.ErrNoAccess)
	case errors.Is(err, service.ErrAlreadyCompleted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyCompleted)
	case errors.Is(err, service.ErrInvalidAnswers):
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInvalidAnswers,
			map[string]string{"answers": err.Error()})
	case errors.Is(err, service.ErrInvalidImport):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"payload": err.Error()})
	default:
		log.Error().Err(err).
			Str("route", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
