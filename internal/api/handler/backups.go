package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sorenh/backupd/internal/api/request"
	"github.com/sorenh/backupd/internal/api/response"
	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/pipeline"
)

// Backups serves the restore-oriented backups-by-datasource view and the
// restore entry point.
type Backups struct {
	view      *core.BackupsService
	approvals *core.ApprovalService
	pl        *pipeline.Pipeline
}

func NewBackups(view *core.BackupsService, approvals *core.ApprovalService, pl *pipeline.Pipeline) *Backups {
	return &Backups{view: view, approvals: approvals, pl: pl}
}

func (h *Backups) ListByDatasource(w http.ResponseWriter, r *http.Request) {
	views, err := h.view.All(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, views)
}

func (h *Backups) ForDatasource(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.view.ForDatasource(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, view)
}

// Restore launches a restore of a completed backup. The confirmation
// phrase is checked before the approval gate so an operator typo never
// creates a dangling approval request.
func (h *Backups) Restore(w http.ResponseWriter, r *http.Request) {
	executionID, err := request.RequireID(chi.URLParam(r, "executionID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.RestoreBackup
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	restoreReq := pipeline.RestoreRequest{
		ExecutionID:        executionID,
		DatasourceID:       req.TargetDatasourceID,
		StorageLocationID:  req.StorageLocationID,
		DropExisting:       req.DropExisting,
		VerificationMode:   req.VerificationMode,
		KeepVerification:   req.KeepVerification,
		ConfirmationPhrase: req.ConfirmationPhrase,
	}
	if err := restoreReq.ValidatePhrase(); err != nil {
		writeServiceError(w, err)
		return
	}

	payload, _ := json.Marshal(req)
	err = h.approvals.Authorize(r.Context(), core.GatedAction{
		Action:       model.ActionRestore,
		ResourceType: "execution",
		ResourceID:   executionID,
		Payload:      payload,
	}, core.Credentials{
		AdminPassword:     req.AdminPassword,
		ApprovalRequestID: req.ApprovalRequestID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	exec, err := h.pl.StartRestore(r.Context(), restoreReq)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, restoreStarted{
		ExecutionID:      exec.ID,
		VerificationMode: req.VerificationMode,
		Status:           exec.Status,
		StartedAt:        exec.StartedAt,
	})
}

// restoreStarted is the restore launch response consumed by the
// dashboard; the full execution stays behind GET /executions/{id}.
type restoreStarted struct {
	ExecutionID      string     `json:"execution_id"`
	VerificationMode bool       `json:"verification_mode"`
	Status           string     `json:"status"`
	StartedAt        *time.Time `json:"started_at"`
}
