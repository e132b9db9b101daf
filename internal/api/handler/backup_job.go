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
	"github.com/sorenh/backupd/internal/scheduler"
)

type BackupJob struct {
	svc   *core.BackupJobService
	sched *scheduler.Scheduler
}

func NewBackupJob(svc *core.BackupJobService, sched *scheduler.Scheduler) *BackupJob {
	return &BackupJob{svc: svc, sched: sched}
}

func (h *BackupJob) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, jobs)
}

func (h *BackupJob) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateBackupJob
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now()
	job := &model.BackupJob{
		ID:           platform.NewID(),
		Name:         req.Name,
		DatasourceID: req.DatasourceID,
		Targets:      jobTargets(req.Targets),
		Schedule:     req.Schedule,
		Timezone:     orDefault(req.Timezone, "UTC"),
		Enabled:      enabled,
		BackupType:   orDefault(req.BackupType, model.BackupTypeFull),
		Retention: model.RetentionPolicy{
			KeepDaily:   req.Retention.KeepDaily,
			KeepWeekly:  req.Retention.KeepWeekly,
			KeepMonthly: req.Retention.KeepMonthly,
			AutoDelete:  req.Retention.AutoDelete,
		},
		Options: model.BackupOptions{
			Compression:     orDefault(req.Options.Compression, model.CompressionZstd),
			Parallelism:     req.Options.Parallelism,
			IncludeFilters:  req.Options.IncludeFilters,
			ExcludeFilters:  req.Options.ExcludeFilters,
			StorageStrategy: orDefault(req.Options.StorageStrategy, model.StrategyReplicate),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.svc.Create(r.Context(), job); err != nil {
		// Validation failures from the service are caller errors.
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusCreated, job)
}

func (h *BackupJob) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, job)
}

func (h *BackupJob) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateBackupJob
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if req.Name != nil {
		job.Name = *req.Name
	}
	if req.Targets != nil {
		job.Targets = jobTargets(req.Targets)
	}
	if req.Schedule != nil {
		job.Schedule = *req.Schedule
	}
	if req.Timezone != nil {
		job.Timezone = *req.Timezone
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}
	if req.BackupType != nil {
		job.BackupType = *req.BackupType
	}
	if req.Retention != nil {
		job.Retention = model.RetentionPolicy{
			KeepDaily:   req.Retention.KeepDaily,
			KeepWeekly:  req.Retention.KeepWeekly,
			KeepMonthly: req.Retention.KeepMonthly,
			AutoDelete:  req.Retention.AutoDelete,
		}
	}
	if req.Options != nil {
		job.Options = model.BackupOptions{
			Compression:     orDefault(req.Options.Compression, job.Options.Compression),
			Parallelism:     req.Options.Parallelism,
			IncludeFilters:  req.Options.IncludeFilters,
			ExcludeFilters:  req.Options.ExcludeFilters,
			StorageStrategy: orDefault(req.Options.StorageStrategy, job.Options.StorageStrategy),
		}
	}

	if err := h.svc.Update(r.Context(), job); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, job)
}

func (h *BackupJob) Delete(w http.ResponseWriter, r *http.Request) {
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

// Run triggers the job immediately, bypassing only the schedule check.
func (h *BackupJob) Run(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	exec, err := h.sched.RunNow(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, exec)
}

func jobTargets(targets []request.JobTarget) []model.JobTarget {
	out := make([]model.JobTarget, 0, len(targets))
	for _, t := range targets {
		out = append(out, model.JobTarget{
			StorageLocationID: t.StorageLocationID,
			Position:          t.Position,
			Replicate:         t.Replicate,
		})
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
