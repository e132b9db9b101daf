package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sorenh/backupd/internal/api/request"
	"github.com/sorenh/backupd/internal/api/response"
	"github.com/sorenh/backupd/internal/core"
)

type Approval struct {
	svc *core.ApprovalService
}

func NewApproval(svc *core.ApprovalService) *Approval {
	return &Approval{svc: svc}
}

func (h *Approval) List(w http.ResponseWriter, r *http.Request) {
	p := request.ParsePagination(r)
	requests, hasMore, err := h.svc.List(r.Context(), r.URL.Query().Get("status"), p.Limit, p.Cursor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	nextCursor := ""
	if hasMore && len(requests) > 0 {
		nextCursor = requests[len(requests)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, requests, nextCursor, hasMore)
}

func (h *Approval) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateApproval
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.svc.Create(r.Context(), core.GatedAction{
		Action:          req.Action,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Payload:         req.Payload,
		RequesterUserID: req.RequesterUserID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, created)
}

func (h *Approval) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, req)
}

func (h *Approval) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Approve)
}

func (h *Approval) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Reject)
}

func (h *Approval) decide(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, id, deciderUserID, reason string) error) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.DecideApproval
	if r.ContentLength > 0 {
		if err := request.Decode(r, &req); err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := decide(r.Context(), id, req.DecidedByUserID, req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}

	updated, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, updated)
}

func (h *Approval) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
