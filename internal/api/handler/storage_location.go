package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sorenh/backupd/internal/api/request"
	"github.com/sorenh/backupd/internal/api/response"
	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/platform"
	"github.com/sorenh/backupd/internal/storage"
)

type StorageLocation struct {
	svc  *core.StorageLocationService
	open storage.Factory
}

func NewStorageLocation(svc *core.StorageLocationService, open storage.Factory) *StorageLocation {
	return &StorageLocation{svc: svc, open: open}
}

func (h *StorageLocation) List(w http.ResponseWriter, r *http.Request) {
	locations, err := h.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	for i := range locations {
		locations[i] = locations[i].Redacted()
	}
	response.WriteJSON(w, http.StatusOK, locations)
}

func (h *StorageLocation) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateStorageLocation
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	loc := &model.StorageLocation{
		ID:        platform.NewID(),
		Name:      req.Name,
		Backend:   req.Backend,
		Config:    req.Config,
		IsDefault: req.IsDefault,
		Status:    model.StorageHealthy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.svc.Create(r.Context(), loc); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, loc.Redacted())
}

func (h *StorageLocation) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	loc, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, loc.Redacted())
}

func (h *StorageLocation) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateStorageLocation
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	loc, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if req.Name != nil {
		loc.Name = *req.Name
	}
	if req.Config != nil {
		loc.Config = *req.Config
	}
	if req.IsDefault != nil {
		loc.IsDefault = *req.IsDefault
	}

	if err := h.svc.Update(r.Context(), loc); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, loc.Redacted())
}

func (h *StorageLocation) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Check runs an on-demand connectivity and capacity check against the
// location and records the derived status.
func (h *StorageLocation) Check(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	loc, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var result storage.CheckResult
	backend, err := h.open(*loc)
	if err == nil {
		result, err = backend.Check(r.Context())
	}
	status := storage.StatusFor(err)
	if serr := h.svc.SetStatus(r.Context(), loc.ID, status); serr != nil {
		writeServiceError(w, serr)
		return
	}

	body := map[string]any{
		"status":     status,
		"latency_ms": result.Latency.Milliseconds(),
	}
	if result.AvailableSpaceGB != nil {
		body["available_space_gb"] = *result.AvailableSpaceGB
	}
	if err != nil {
		body["error"] = err.Error()
	}
	response.WriteJSON(w, http.StatusOK, body)
}
