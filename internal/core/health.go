package core

import (
	"context"
	"fmt"
	"time"

	"github.com/sorenh/backupd/internal/model"
)

// HealthService records connectivity probe results and keeps a bounded
// history per probed target.
type HealthService struct {
	db       DB
	settings *SettingsService
}

func NewHealthService(db DB, settings *SettingsService) *HealthService {
	return &HealthService{db: db, settings: settings}
}

func (s *HealthService) RecordProbe(ctx context.Context, p *model.HealthProbe) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO health_probes (target_type, target_id, status, message, latency_ms, available_space_gb, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		p.TargetType, p.TargetID, p.Status, p.Message, p.LatencyMs, p.AvailableSpaceGB, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert health probe: %w", err)
	}

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}
	if cfg.HealthProbeHistory <= 0 {
		return nil
	}

	// Evict rows past the retained window for this target.
	_, err = s.db.Exec(ctx,
		`DELETE FROM health_probes
		 WHERE target_type = $1 AND target_id = $2 AND id NOT IN (
		   SELECT id FROM health_probes
		   WHERE target_type = $1 AND target_id = $2
		   ORDER BY id DESC LIMIT $3
		 )`,
		p.TargetType, p.TargetID, cfg.HealthProbeHistory,
	)
	if err != nil {
		return fmt.Errorf("trim health probes for %s %s: %w", p.TargetType, p.TargetID, err)
	}
	return nil
}

// ProbeFilter narrows a probe listing. Zero values mean "any".
type ProbeFilter struct {
	TargetType string
	TargetID   string
	Since      time.Time
	Until      time.Time
	Limit      int
	Cursor     int64
}

func (s *HealthService) ListProbes(ctx context.Context, f ProbeFilter) ([]model.HealthProbe, bool, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	query := `SELECT id, target_type, target_id, status, message, latency_ms, available_space_gb, created_at
		FROM health_probes WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.TargetType != "" {
		query += ` AND target_type = ` + arg(f.TargetType)
	}
	if f.TargetID != "" {
		query += ` AND target_id = ` + arg(f.TargetID)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ` + arg(f.Since)
	}
	if !f.Until.IsZero() {
		query += ` AND created_at < ` + arg(f.Until)
	}
	if f.Cursor > 0 {
		query += ` AND id < ` + arg(f.Cursor)
	}
	query += ` ORDER BY id DESC LIMIT ` + arg(f.Limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list health probes: %w", err)
	}
	defer rows.Close()

	var probes []model.HealthProbe
	for rows.Next() {
		var p model.HealthProbe
		if err := rows.Scan(&p.ID, &p.TargetType, &p.TargetID, &p.Status, &p.Message,
			&p.LatencyMs, &p.AvailableSpaceGB, &p.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan health probe: %w", err)
		}
		probes = append(probes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate health probes: %w", err)
	}

	hasMore := len(probes) > f.Limit
	if hasMore {
		probes = probes[:f.Limit]
	}
	return probes, hasMore, nil
}

// LatestProbe returns the most recent probe for a target, or nil when it
// has never been probed.
func (s *HealthService) LatestProbe(ctx context.Context, targetType, targetID string) (*model.HealthProbe, error) {
	probes, _, err := s.ListProbes(ctx, ProbeFilter{TargetType: targetType, TargetID: targetID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(probes) == 0 {
		return nil, nil
	}
	return &probes[0], nil
}
