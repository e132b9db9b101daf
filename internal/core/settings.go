package core

import (
	"context"
	"fmt"

	"github.com/sorenh/backupd/internal/model"
)

// SettingsService reads and updates the single-row system settings
// table.
type SettingsService struct {
	db DB
}

func NewSettingsService(db DB) *SettingsService {
	return &SettingsService{db: db}
}

func (s *SettingsService) Get(ctx context.Context) (*model.SystemSettings, error) {
	var set model.SystemSettings
	err := s.db.QueryRow(ctx,
		`SELECT scheduler_interval_seconds, max_concurrent_backups, approval_window_hours,
		        health_probe_interval_seconds, health_probe_history, updated_at
		 FROM system_settings WHERE id = 1`,
	).Scan(&set.SchedulerIntervalSeconds, &set.MaxConcurrentBackups, &set.ApprovalWindowHours,
		&set.HealthProbeIntervalSeconds, &set.HealthProbeHistory, &set.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get system settings: %w", err)
	}
	return &set, nil
}

func (s *SettingsService) Update(ctx context.Context, set *model.SystemSettings) error {
	_, err := s.db.Exec(ctx,
		`UPDATE system_settings
		 SET scheduler_interval_seconds = $1, max_concurrent_backups = $2,
		     approval_window_hours = $3, health_probe_interval_seconds = $4,
		     health_probe_history = $5, updated_at = now()
		 WHERE id = 1`,
		set.SchedulerIntervalSeconds, set.MaxConcurrentBackups, set.ApprovalWindowHours,
		set.HealthProbeIntervalSeconds, set.HealthProbeHistory,
	)
	if err != nil {
		return fmt.Errorf("update system settings: %w", err)
	}
	return nil
}
