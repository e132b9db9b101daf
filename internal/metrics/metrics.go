package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts finished executions by operation and final
	// status.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backupd_executions_total",
		Help: "Total executions by operation and final status",
	}, []string{"operation", "status"})

	// BytesUploaded counts compressed bytes written to storage backends.
	BytesUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backupd_bytes_uploaded_total",
		Help: "Compressed bytes uploaded, by backend type",
	}, []string{"backend"})

	// PrunedTotal counts backups whose bytes were removed by retention.
	PrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backupd_pruned_backups_total",
		Help: "Backups pruned by the retention engine",
	})

	// SchedulerAdmissions counts per-tick scheduling outcomes.
	SchedulerAdmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backupd_scheduler_admissions_total",
		Help: "Scheduler decisions by outcome (admitted, over_budget, already_running)",
	}, []string{"outcome"})

	// BackupDuration observes wall time of backup pipeline runs.
	BackupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backupd_backup_duration_seconds",
		Help:    "Duration of backup pipeline runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})
)
