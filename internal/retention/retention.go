// Package retention decides which completed backups survive pruning and
// removes the backing bytes of the rest.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/metrics"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/storage"
)

// Plan partitions a job's completed backups into the set required by at
// least one retention bucket and the set eligible for pruning.
type Plan struct {
	Keep  []model.Execution
	Prune []model.Execution
}

// Classify buckets executions by calendar day, ISO week and calendar
// month in the given location and keeps the union of the most recent
// keep_daily days, keep_weekly weeks and keep_monthly months. The most
// recent execution of each kept bucket is its representative. A count of
// zero disables that bucket; all counts zero means nothing is ever
// pruned. Executions must be ordered most recent first.
func Classify(executions []model.Execution, policy model.RetentionPolicy, loc *time.Location) Plan {
	if policy.KeepDaily == 0 && policy.KeepWeekly == 0 && policy.KeepMonthly == 0 {
		return Plan{Keep: executions}
	}

	keep := make(map[string]bool)
	markBuckets(executions, policy.KeepDaily, keep, func(t time.Time) string {
		return t.In(loc).Format("2006-01-02")
	})
	markBuckets(executions, policy.KeepWeekly, keep, func(t time.Time) string {
		year, week := t.In(loc).ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	})
	markBuckets(executions, policy.KeepMonthly, keep, func(t time.Time) string {
		return t.In(loc).Format("2006-01")
	})

	var plan Plan
	for _, e := range executions {
		if keep[e.ID] {
			plan.Keep = append(plan.Keep, e)
		} else {
			plan.Prune = append(plan.Prune, e)
		}
	}
	return plan
}

// markBuckets walks executions newest first, assigning each to its
// bucket and marking the newest execution of the first n distinct
// buckets as kept.
func markBuckets(executions []model.Execution, n int, keep map[string]bool, bucket func(time.Time) string) {
	if n <= 0 {
		return
	}
	seen := make(map[string]bool)
	for _, e := range executions {
		key := bucket(executionTime(e))
		if seen[key] {
			continue
		}
		seen[key] = true
		keep[e.ID] = true
		if len(seen) == n {
			return
		}
	}
}

func executionTime(e model.Execution) time.Time {
	if e.StartedAt != nil {
		return *e.StartedAt
	}
	return e.CreatedAt
}

// Engine applies retention to a job after a successful backup.
type Engine struct {
	executions *core.ExecutionService
	locations  *core.StorageLocationService
	open       storage.Factory
	logger     zerolog.Logger
}

func NewEngine(executions *core.ExecutionService, locations *core.StorageLocationService, open storage.Factory, logger zerolog.Logger) *Engine {
	return &Engine{executions: executions, locations: locations, open: open, logger: logger}
}

// Apply classifies the job's completed backups and prunes the excess.
// With auto_delete disabled the classification is logged but nothing is
// removed.
func (e *Engine) Apply(ctx context.Context, job model.BackupJob) error {
	loc, err := time.LoadLocation(job.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone of job %s: %w", job.ID, err)
	}

	executions, err := e.executions.ListCompletedBackups(ctx, job.ID)
	if err != nil {
		return err
	}

	plan := Classify(executions, job.Retention, loc)
	e.logger.Debug().Str("job_id", job.ID).
		Int("keep", len(plan.Keep)).Int("prune", len(plan.Prune)).
		Msg("retention classified")

	if !job.Retention.AutoDelete || len(plan.Prune) == 0 {
		return nil
	}

	for _, ex := range plan.Prune {
		if err := e.prune(ctx, ex); err != nil {
			e.logger.Error().Err(err).Str("execution_id", ex.ID).Msg("prune failed")
			continue
		}
		metrics.PrunedTotal.Inc()
		e.logger.Info().Str("job_id", job.ID).Str("execution_id", ex.ID).Msg("backup pruned")
	}
	return nil
}

// prune removes the execution's bytes from every location it was written
// to, then annotates the ledger row. A location that cannot be reached
// fails the prune for this cycle; the next successful backup retries it.
func (e *Engine) prune(ctx context.Context, ex model.Execution) error {
	prefix := storage.ExecutionPrefix(ex.DatasourceID, ex.ID)
	for _, t := range ex.Targets {
		if t.Status != model.CopyAvailable {
			continue
		}
		loc, err := e.locations.GetByID(ctx, t.StorageLocationID)
		if err != nil {
			return err
		}
		backend, err := e.open(*loc)
		if err != nil {
			return fmt.Errorf("open %s: %w", loc.Name, err)
		}
		if _, err := backend.Delete(ctx, prefix); err != nil {
			return fmt.Errorf("delete %s from %s: %w", prefix, loc.Name, err)
		}
	}
	return e.executions.MarkPruned(ctx, ex.ID)
}
