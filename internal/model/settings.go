package model

import "time"

// SystemSettings is the single-row table of runtime-tunable knobs. The
// scheduler re-reads it on every tick so changes apply without restart.
type SystemSettings struct {
	SchedulerIntervalSeconds   int       `json:"scheduler_interval_seconds"`
	MaxConcurrentBackups       int       `json:"max_concurrent_backups"`
	ApprovalWindowHours        int       `json:"approval_window_hours"`
	HealthProbeIntervalSeconds int       `json:"health_probe_interval_seconds"`
	HealthProbeHistory         int       `json:"health_probe_history"`
	UpdatedAt                  time.Time `json:"updated_at"`
}
