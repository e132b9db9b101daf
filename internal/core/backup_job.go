package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"

	"github.com/sorenh/backupd/internal/model"
)

// BackupJobService manages job definitions. Jobs are read-only to the
// scheduler and pipeline.
type BackupJobService struct {
	db DB
}

func NewBackupJobService(db DB) *BackupJobService {
	return &BackupJobService{db: db}
}

// CronParser accepts standard five-field expressions, as entered by
// operators.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateJob enforces the structural invariants the scheduler and
// pipeline rely on: a parseable schedule and timezone, and a total
// target order with exactly one primary and no duplicate locations.
func ValidateJob(j *model.BackupJob) error {
	if _, err := CronParser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", j.Schedule, err)
	}
	if _, err := time.LoadLocation(j.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", j.Timezone, err)
	}

	if len(j.Targets) == 0 {
		return fmt.Errorf("job needs at least one storage target")
	}
	positions := make(map[int]bool, len(j.Targets))
	locations := make(map[string]bool, len(j.Targets))
	for _, t := range j.Targets {
		if positions[t.Position] {
			return fmt.Errorf("duplicate target position %d", t.Position)
		}
		if locations[t.StorageLocationID] {
			return fmt.Errorf("duplicate storage location %s", t.StorageLocationID)
		}
		positions[t.Position] = true
		locations[t.StorageLocationID] = true
	}
	for i := 1; i <= len(j.Targets); i++ {
		if !positions[i] {
			return fmt.Errorf("target positions must form a total order starting at 1; missing %d", i)
		}
	}
	return nil
}

const backupJobColumns = `id, name, datasource_id, schedule, timezone, enabled, backup_type,
	keep_daily, keep_weekly, keep_monthly, auto_delete,
	compression, parallelism, include_filters, exclude_filters, storage_strategy,
	created_at, updated_at`

func scanBackupJob(row pgx.Row) (*model.BackupJob, error) {
	var j model.BackupJob
	err := row.Scan(&j.ID, &j.Name, &j.DatasourceID, &j.Schedule, &j.Timezone, &j.Enabled,
		&j.BackupType, &j.Retention.KeepDaily, &j.Retention.KeepWeekly, &j.Retention.KeepMonthly,
		&j.Retention.AutoDelete, &j.Options.Compression, &j.Options.Parallelism,
		&j.Options.IncludeFilters, &j.Options.ExcludeFilters, &j.Options.StorageStrategy,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *BackupJobService) Create(ctx context.Context, j *model.BackupJob) error {
	if err := ValidateJob(j); err != nil {
		return err
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO backup_jobs (id, name, datasource_id, schedule, timezone, enabled, backup_type,
		   keep_daily, keep_weekly, keep_monthly, auto_delete,
		   compression, parallelism, include_filters, exclude_filters, storage_strategy,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		j.ID, j.Name, j.DatasourceID, j.Schedule, j.Timezone, j.Enabled, j.BackupType,
		j.Retention.KeepDaily, j.Retention.KeepWeekly, j.Retention.KeepMonthly, j.Retention.AutoDelete,
		j.Options.Compression, j.Options.Parallelism, j.Options.IncludeFilters,
		j.Options.ExcludeFilters, j.Options.StorageStrategy, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert backup job: %w", err)
	}

	if err := s.replaceTargets(ctx, j.ID, j.Targets); err != nil {
		return err
	}
	return nil
}

func (s *BackupJobService) replaceTargets(ctx context.Context, jobID string, targets []model.JobTarget) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM backup_job_targets WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clear targets of job %s: %w", jobID, err)
	}
	for _, t := range targets {
		_, err := s.db.Exec(ctx,
			`INSERT INTO backup_job_targets (job_id, storage_location_id, position, replicate)
			 VALUES ($1, $2, $3, $4)`,
			jobID, t.StorageLocationID, t.Position, t.Replicate,
		)
		if err != nil {
			return fmt.Errorf("insert target %s of job %s: %w", t.StorageLocationID, jobID, err)
		}
	}
	return nil
}

func (s *BackupJobService) loadTargets(ctx context.Context, jobID string) ([]model.JobTarget, error) {
	rows, err := s.db.Query(ctx,
		`SELECT storage_location_id, position, replicate
		 FROM backup_job_targets WHERE job_id = $1 ORDER BY position`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("load targets of job %s: %w", jobID, err)
	}
	defer rows.Close()

	var targets []model.JobTarget
	for rows.Next() {
		var t model.JobTarget
		if err := rows.Scan(&t.StorageLocationID, &t.Position, &t.Replicate); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *BackupJobService) GetByID(ctx context.Context, id string) (*model.BackupJob, error) {
	row := s.db.QueryRow(ctx, `SELECT `+backupJobColumns+` FROM backup_jobs WHERE id = $1`, id)
	j, err := scanBackupJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("backup job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup job %s: %w", id, err)
	}
	if j.Targets, err = s.loadTargets(ctx, id); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *BackupJobService) List(ctx context.Context) ([]model.BackupJob, error) {
	rows, err := s.db.Query(ctx, `SELECT `+backupJobColumns+` FROM backup_jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list backup jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.BackupJob
	for rows.Next() {
		j, err := scanBackupJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup jobs: %w", err)
	}

	for i := range jobs {
		if jobs[i].Targets, err = s.loadTargets(ctx, jobs[i].ID); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// ListEnabled returns the jobs the scheduler evaluates each tick.
func (s *BackupJobService) ListEnabled(ctx context.Context) ([]model.BackupJob, error) {
	jobs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := jobs[:0]
	for _, j := range jobs {
		if j.Enabled {
			enabled = append(enabled, j)
		}
	}
	return enabled, nil
}

func (s *BackupJobService) Update(ctx context.Context, j *model.BackupJob) error {
	if err := ValidateJob(j); err != nil {
		return err
	}

	_, err := s.db.Exec(ctx,
		`UPDATE backup_jobs SET name = $2, datasource_id = $3, schedule = $4, timezone = $5,
		   enabled = $6, backup_type = $7, keep_daily = $8, keep_weekly = $9, keep_monthly = $10,
		   auto_delete = $11, compression = $12, parallelism = $13, include_filters = $14,
		   exclude_filters = $15, storage_strategy = $16, updated_at = now()
		 WHERE id = $1`,
		j.ID, j.Name, j.DatasourceID, j.Schedule, j.Timezone, j.Enabled, j.BackupType,
		j.Retention.KeepDaily, j.Retention.KeepWeekly, j.Retention.KeepMonthly, j.Retention.AutoDelete,
		j.Options.Compression, j.Options.Parallelism, j.Options.IncludeFilters,
		j.Options.ExcludeFilters, j.Options.StorageStrategy,
	)
	if err != nil {
		return fmt.Errorf("update backup job %s: %w", j.ID, err)
	}

	return s.replaceTargets(ctx, j.ID, j.Targets)
}

func (s *BackupJobService) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM backup_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete backup job %s: %w", id, err)
	}
	return nil
}
