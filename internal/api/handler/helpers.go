package handler

import (
	"errors"
	"net/http"

	"github.com/sorenh/backupd/internal/api/response"
	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/pipeline"
)

// writeServiceError maps service-layer error kinds onto HTTP statuses.
// The approval-required kind gets its own shape so callers can offer the
// approval flow instead of showing a generic error.
func writeServiceError(w http.ResponseWriter, err error) {
	var approval *core.ApprovalRequiredError
	switch {
	case errors.As(err, &approval):
		response.WriteApprovalRequired(w, approval.RequestID)
	case errors.Is(err, core.ErrNotFound):
		response.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrAlreadyRunning):
		response.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrInvalidTransition):
		response.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrConfirmation):
		response.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		response.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
