package handler

import (
	"net/http"

	"github.com/sorenh/backupd/internal/api/request"
	"github.com/sorenh/backupd/internal/api/response"
	"github.com/sorenh/backupd/internal/core"
)

type Settings struct {
	svc *core.SettingsService
}

func NewSettings(svc *core.SettingsService) *Settings {
	return &Settings{svc: svc}
}

func (h *Settings) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Get(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, settings)
}

func (h *Settings) Update(w http.ResponseWriter, r *http.Request) {
	var req request.UpdateSettings
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	settings, err := h.svc.Get(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if req.SchedulerIntervalSeconds != nil {
		settings.SchedulerIntervalSeconds = *req.SchedulerIntervalSeconds
	}
	if req.MaxConcurrentBackups != nil {
		settings.MaxConcurrentBackups = *req.MaxConcurrentBackups
	}
	if req.ApprovalWindowHours != nil {
		settings.ApprovalWindowHours = *req.ApprovalWindowHours
	}
	if req.HealthProbeIntervalSeconds != nil {
		settings.HealthProbeIntervalSeconds = *req.HealthProbeIntervalSeconds
	}
	if req.HealthProbeHistory != nil {
		settings.HealthProbeHistory = *req.HealthProbeHistory
	}

	if err := h.svc.Update(r.Context(), settings); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, settings)
}
