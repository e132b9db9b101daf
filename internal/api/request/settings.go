package request

type UpdateSettings struct {
	SchedulerIntervalSeconds   *int `json:"scheduler_interval_seconds" validate:"omitempty,min=5"`
	MaxConcurrentBackups       *int `json:"max_concurrent_backups" validate:"omitempty,min=0"`
	ApprovalWindowHours        *int `json:"approval_window_hours" validate:"omitempty,min=1"`
	HealthProbeIntervalSeconds *int `json:"health_probe_interval_seconds" validate:"omitempty,min=10"`
	HealthProbeHistory         *int `json:"health_probe_history" validate:"omitempty,min=0"`
}
