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
)

type Datasource struct {
	svc *core.DatasourceService
}

func NewDatasource(svc *core.DatasourceService) *Datasource {
	return &Datasource{svc: svc}
}

func (h *Datasource) List(w http.ResponseWriter, r *http.Request) {
	sources, err := h.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, sources)
}

func (h *Datasource) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateDatasource
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now()
	ds := &model.Datasource{
		ID:           platform.NewID(),
		Name:         req.Name,
		Engine:       req.Engine,
		Host:         req.Host,
		Port:         req.Port,
		Username:     req.Username,
		Password:     req.Password,
		DatabaseName: req.DatabaseName,
		RootPath:     req.RootPath,
		Enabled:      enabled,
		Status:       model.DatasourceUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.svc.Create(r.Context(), ds); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, ds)
}

func (h *Datasource) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, ds)
}

func (h *Datasource) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateDatasource
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if req.Name != nil {
		ds.Name = *req.Name
	}
	if req.Host != nil {
		ds.Host = *req.Host
	}
	if req.Port != nil {
		ds.Port = *req.Port
	}
	if req.Username != nil {
		ds.Username = *req.Username
	}
	if req.Password != nil {
		ds.Password = *req.Password
	}
	if req.DatabaseName != nil {
		ds.DatabaseName = *req.DatabaseName
	}
	if req.RootPath != nil {
		ds.RootPath = *req.RootPath
	}
	if req.Enabled != nil {
		ds.Enabled = *req.Enabled
	}

	if err := h.svc.Update(r.Context(), ds); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, ds)
}

func (h *Datasource) Delete(w http.ResponseWriter, r *http.Request) {
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
