package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sorenh/backupd/internal/api/request"
	"github.com/sorenh/backupd/internal/api/response"
	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/model"
)

type Audit struct {
	svc       *core.AuditService
	approvals *core.ApprovalService
}

func NewAudit(svc *core.AuditService, approvals *core.ApprovalService) *Audit {
	return &Audit{svc: svc, approvals: approvals}
}

func (h *Audit) List(w http.ResponseWriter, r *http.Request) {
	p := request.ParsePagination(r)
	entries, err := h.svc.List(r.Context(), p.Limit, p.Cursor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	hasMore := len(entries) > p.Limit
	nextCursor := ""
	if hasMore {
		entries = entries[:p.Limit]
		nextCursor = fmt.Sprintf("%d", entries[len(entries)-1].ID)
	}
	response.WritePaginated(w, http.StatusOK, entries, nextCursor, hasMore)
}

// Purge deletes audit entries older than the requested window. Gated.
func (h *Audit) Purge(w http.ResponseWriter, r *http.Request) {
	var req request.PurgeAuditLogs
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, _ := json.Marshal(map[string]int{"older_than_days": req.OlderThanDays})
	err := h.approvals.Authorize(r.Context(), core.GatedAction{
		Action:       model.ActionPurgeAudit,
		ResourceType: "audit_logs",
		ResourceID:   "audit_logs",
		Payload:      payload,
	}, core.Credentials{
		AdminPassword:     req.AdminPassword,
		ApprovalRequestID: req.ApprovalRequestID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	cutoff := time.Now().AddDate(0, 0, -req.OlderThanDays)
	deleted, err := h.svc.Purge(r.Context(), cutoff)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
