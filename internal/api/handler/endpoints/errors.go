package endpoints

import (
	"errors"
	"net/http"
	"strconv"

	"flow/internal/api/handler/response"
	"flow/internal/comfy"
	"flow/internal/workflow"
	"flow/pkg"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// statusOf maps domain errors onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrMalformedGraph):
		return http.StatusBadRequest
	case errors.Is(err, comfy.ErrUpstream), errors.Is(err, comfy.ErrSubmissionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, logger zerolog.Logger, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, response.APIError{Message: err.Error()})
}

// bindBody parses and validates the JSON body into dto, answering 400 on failure.
func bindBody(c *gin.Context, dto any) bool {
	if err := pkg.ParseAndValidate(c, dto); err != nil {
		c.JSON(http.StatusBadRequest, response.APIError{
			Message: "Invalid request body",
			Data:    pkg.ValidationDetails(err),
		})
		return false
	}
	return true
}

func nodeIDParam(c *gin.Context) (workflow.NodeID, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, response.APIError{Message: "Invalid node ID"})
		return 0, false
	}
	return workflow.NodeID(id), true
}
