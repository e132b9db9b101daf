package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sorenh/backupd/internal/api/request"
	"github.com/sorenh/backupd/internal/api/response"
	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/model"
)

type Health struct {
	svc       *core.HealthService
	sources   *core.DatasourceService
	locations *core.StorageLocationService
}

func NewHealth(svc *core.HealthService, sources *core.DatasourceService, locations *core.StorageLocationService) *Health {
	return &Health{svc: svc, sources: sources, locations: locations}
}

// Overview summarizes current derived statuses of every probed entity.
func (h *Health) Overview(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	locations, err := h.locations.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	type entity struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	out := struct {
		Datasources      []entity `json:"datasources"`
		StorageLocations []entity `json:"storage_locations"`
	}{}
	for _, ds := range sources {
		out.Datasources = append(out.Datasources, entity{ds.ID, ds.Name, ds.Status})
	}
	for _, loc := range locations {
		out.StorageLocations = append(out.StorageLocations, entity{loc.ID, loc.Name, loc.Status})
	}
	response.WriteJSON(w, http.StatusOK, out)
}

func (h *Health) DatasourceProbes(w http.ResponseWriter, r *http.Request) {
	h.listProbes(w, r, model.ProbeTargetDatasource)
}

func (h *Health) StorageProbes(w http.ResponseWriter, r *http.Request) {
	h.listProbes(w, r, model.ProbeTargetStorage)
}

func (h *Health) listProbes(w http.ResponseWriter, r *http.Request, targetType string) {
	p := request.ParsePagination(r)
	q := r.URL.Query()

	filter := core.ProbeFilter{
		TargetType: targetType,
		TargetID:   q.Get("target_id"),
		Limit:      p.Limit,
	}
	if p.Cursor != "" {
		cursor, err := strconv.ParseInt(p.Cursor, 10, 64)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		filter.Cursor = cursor
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		filter.Since = t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		filter.Until = t
	}

	probes, hasMore, err := h.svc.ListProbes(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	nextCursor := ""
	if hasMore && len(probes) > 0 {
		nextCursor = strconv.FormatInt(probes[len(probes)-1].ID, 10)
	}
	response.WritePaginated(w, http.StatusOK, probes, nextCursor, hasMore)
}
