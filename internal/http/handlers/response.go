package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
)

type APIError struct {
	Message    string   `json:"message"`
	Code       string   `json:"code,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// RespondAppError maps the service error taxonomy onto HTTP statuses.
// Anything outside the taxonomy is a 500.
func RespondAppError(c *gin.Context, err error) {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, ErrorEnvelope{
			Error: APIError{
				Message:    ve.Msg,
				Code:       "validation_failed",
				Violations: ve.Violations,
			},
		})
		return
	}
	switch {
	case apperr.IsNotFound(err):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case apperr.IsMigrationDivergence(err):
		RespondError(c, http.StatusConflict, "migration_divergence", err)
	case apperr.IsConflict(err):
		RespondError(c, http.StatusConflict, "conflict", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
