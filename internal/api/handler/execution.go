package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sorenh/backupd/internal/api/request"
	"github.com/sorenh/backupd/internal/api/response"
	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/pipeline"
	"github.com/sorenh/backupd/internal/storage"
)

type Execution struct {
	executions *core.ExecutionService
	locations  *core.StorageLocationService
	approvals  *core.ApprovalService
	pl         *pipeline.Pipeline
	open       storage.Factory
}

func NewExecution(executions *core.ExecutionService, locations *core.StorageLocationService, approvals *core.ApprovalService, pl *pipeline.Pipeline, open storage.Factory) *Execution {
	return &Execution{executions: executions, locations: locations, approvals: approvals, pl: pl, open: open}
}

func (h *Execution) List(w http.ResponseWriter, r *http.Request) {
	p := request.ParsePagination(r)
	q := r.URL.Query()

	executions, hasMore, err := h.executions.List(r.Context(), core.ExecutionFilter{
		JobID:        q.Get("job_id"),
		DatasourceID: q.Get("datasource_id"),
		Operation:    q.Get("operation"),
		Status:       q.Get("status"),
		Limit:        p.Limit,
		Cursor:       p.Cursor,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	nextCursor := ""
	if hasMore && len(executions) > 0 {
		nextCursor = executions[len(executions)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, executions, nextCursor, hasMore)
}

func (h *Execution) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	exec, err := h.executions.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, exec)
}

func (h *Execution) Logs(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := h.executions.ListLogs(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, logs)
}

// Cancel sets the advisory cancellation flag on a running execution.
func (h *Execution) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.executions.RequestCancel(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
}

// RetryUpload re-sends missing chunk copies for a backup.
func (h *Execution) RetryUpload(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.pl.RetryUpload(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	exec, err := h.executions.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, exec)
}

// Delete removes a backup's bytes from every location and then its
// ledger row. Ledger rows are otherwise never deleted, so this is gated.
func (h *Execution) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.Gated
	if r.ContentLength > 0 {
		if err := request.Decode(r, &req); err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	exec, err := h.executions.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if exec.Status == model.ExecutionRunning || exec.Status == model.ExecutionQueued {
		response.WriteError(w, http.StatusConflict, "execution is still active; cancel it first")
		return
	}

	payload, _ := json.Marshal(map[string]string{"execution_id": id})
	err = h.approvals.Authorize(r.Context(), core.GatedAction{
		Action:       model.ActionDeleteBackup,
		ResourceType: "execution",
		ResourceID:   id,
		Payload:      payload,
	}, core.Credentials{
		AdminPassword:     req.AdminPassword,
		ApprovalRequestID: req.ApprovalRequestID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	prefix := storage.ExecutionPrefix(exec.DatasourceID, exec.ID)
	for _, t := range exec.Targets {
		if t.Status != model.CopyAvailable {
			continue
		}
		loc, err := h.locations.GetByID(r.Context(), t.StorageLocationID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		backend, err := h.open(*loc)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if _, err := backend.Delete(r.Context(), prefix); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	if err := h.executions.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
