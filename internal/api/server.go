// Package api assembles the HTTP surface consumed by the dashboard.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sorenh/backupd/internal/api/handler"
	mw "github.com/sorenh/backupd/internal/api/middleware"
	"github.com/sorenh/backupd/internal/config"
	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/pipeline"
	"github.com/sorenh/backupd/internal/scheduler"
	"github.com/sorenh/backupd/internal/storage"
)

type Server struct {
	router      chi.Router
	logger      zerolog.Logger
	services    *core.Services
	pool        *pgxpool.Pool
	cfg         *config.Config
	pl          *pipeline.Pipeline
	sched       *scheduler.Scheduler
	open        storage.Factory
	auditLogger *mw.AuditLogger
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, cfg *config.Config, services *core.Services, pl *pipeline.Pipeline, sched *scheduler.Scheduler, open storage.Factory) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger,
		services:    services,
		pool:        pool,
		cfg:         cfg,
		pl:          pl,
		sched:       sched,
		open:        open,
		auditLogger: mw.NewAuditLogger(pool, logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.pool))
		r.Use(s.auditLogger.Middleware)

		// Datasources
		datasource := handler.NewDatasource(s.services.Datasource)
		r.Get("/datasources", datasource.List)
		r.Post("/datasources", datasource.Create)
		r.Get("/datasources/{id}", datasource.Get)
		r.Put("/datasources/{id}", datasource.Update)
		r.Delete("/datasources/{id}", datasource.Delete)

		// Storage locations
		location := handler.NewStorageLocation(s.services.StorageLocation, s.open)
		r.Get("/storage-locations", location.List)
		r.Post("/storage-locations", location.Create)
		r.Get("/storage-locations/{id}", location.Get)
		r.Put("/storage-locations/{id}", location.Update)
		r.Delete("/storage-locations/{id}", location.Delete)
		r.Post("/storage-locations/{id}/check", location.Check)

		// Backup jobs
		job := handler.NewBackupJob(s.services.BackupJob, s.sched)
		r.Get("/backup-jobs", job.List)
		r.Post("/backup-jobs", job.Create)
		r.Get("/backup-jobs/{id}", job.Get)
		r.Put("/backup-jobs/{id}", job.Update)
		r.Delete("/backup-jobs/{id}", job.Delete)
		r.Post("/backup-jobs/{id}/run", job.Run)

		// Executions
		execution := handler.NewExecution(s.services.Execution, s.services.StorageLocation, s.services.Approval, s.pl, s.open)
		r.Get("/executions", execution.List)
		r.Get("/executions/{id}", execution.Get)
		r.Get("/executions/{id}/logs", execution.Logs)
		r.Post("/executions/{id}/cancel", execution.Cancel)
		r.Post("/executions/{id}/retry-upload", execution.RetryUpload)
		r.Delete("/executions/{id}", execution.Delete)

		// Backups view + restore
		backups := handler.NewBackups(s.services.Backups, s.services.Approval, s.pl)
		r.Get("/backups/datasources", backups.ListByDatasource)
		r.Get("/backups/datasources/{id}", backups.ForDatasource)
		r.Post("/backups/{executionID}/restore", backups.Restore)

		// Critical approvals
		approval := handler.NewApproval(s.services.Approval)
		r.Get("/critical-approvals", approval.List)
		r.Post("/critical-approvals", approval.Create)
		r.Get("/critical-approvals/{id}", approval.Get)
		r.Post("/critical-approvals/{id}/approve", approval.Approve)
		r.Post("/critical-approvals/{id}/reject", approval.Reject)
		r.Post("/critical-approvals/{id}/cancel", approval.Cancel)

		// Health
		health := handler.NewHealth(s.services.Health, s.services.Datasource, s.services.StorageLocation)
		r.Get("/health", health.Overview)
		r.Get("/health/datasources", health.DatasourceProbes)
		r.Get("/health/storage", health.StorageProbes)

		// System settings
		settings := handler.NewSettings(s.services.Settings)
		r.Get("/system-settings", settings.Get)
		r.Put("/system-settings", settings.Update)

		// Audit logs
		audit := handler.NewAudit(s.services.Audit, s.services.Approval)
		r.Get("/audit-logs", audit.List)
		r.Post("/audit-logs/purge", audit.Purge)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close flushes the async audit writer.
func (s *Server) Close() {
	s.auditLogger.Close()
}
