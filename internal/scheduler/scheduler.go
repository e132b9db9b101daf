// Package scheduler decides when backup jobs run and admits them
// against the global concurrency budget.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/metrics"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/pipeline"
)

// Scheduler is a single background loop. It holds no run-state of its
// own; every decision is derived from the ledger, so a restart loses
// nothing.
type Scheduler struct {
	services *core.Services
	pipeline *pipeline.Pipeline
	logger   zerolog.Logger
}

func New(services *core.Services, pl *pipeline.Pipeline, logger zerolog.Logger) *Scheduler {
	return &Scheduler{services: services, pipeline: pl, logger: logger}
}

// Run ticks until the context is cancelled. The tick interval is re-read
// from settings every cycle so changes apply without a restart.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")
	for {
		interval := s.tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-time.After(interval):
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) time.Duration {
	settings, err := s.services.Settings.Get(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("read settings")
		return 30 * time.Second
	}
	interval := time.Duration(settings.SchedulerIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	jobs, err := s.services.BackupJob.ListEnabled(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list jobs")
		return interval
	}

	now := time.Now()
	for _, job := range jobs {
		due, err := s.due(ctx, job, now)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("dueness check failed")
			continue
		}
		if !due {
			continue
		}
		if err := s.admit(ctx, job, settings); err != nil {
			s.logger.Debug().Err(err).Str("job_id", job.ID).Msg("job not admitted")
		}
	}
	return interval
}

// due reports whether the job's schedule has fired since its last start.
// A job that has never run is measured from its creation time.
func (s *Scheduler) due(ctx context.Context, job model.BackupJob, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(job.Timezone)
	if err != nil {
		return false, fmt.Errorf("timezone of job %s: %w", job.ID, err)
	}
	sched, err := core.CronParser.Parse(job.Schedule)
	if err != nil {
		return false, fmt.Errorf("schedule of job %s: %w", job.ID, err)
	}

	last, err := s.services.Execution.LastStartedAt(ctx, job.ID)
	if err != nil {
		return false, err
	}
	since := job.CreatedAt
	if last != nil {
		since = *last
	}
	next := sched.Next(since.In(loc))
	return !next.After(now.In(loc)), nil
}

// admit enforces the global budget and per-job mutual exclusion, then
// hands an admitted run to the pipeline on its own goroutine. Jobs held
// back by the budget stay due and are retried next tick.
func (s *Scheduler) admit(ctx context.Context, job model.BackupJob, settings *model.SystemSettings) error {
	active, err := s.services.Execution.CountActiveBackups(ctx)
	if err != nil {
		return err
	}
	if settings.MaxConcurrentBackups > 0 && active >= settings.MaxConcurrentBackups {
		metrics.SchedulerAdmissions.WithLabelValues("over_budget").Inc()
		return fmt.Errorf("concurrency budget exhausted (%d active)", active)
	}

	exec, err := s.services.Execution.Claim(ctx, job.ID, job.DatasourceID)
	if errors.Is(err, core.ErrAlreadyRunning) {
		metrics.SchedulerAdmissions.WithLabelValues("already_running").Inc()
		return err
	}
	if err != nil {
		return err
	}

	metrics.SchedulerAdmissions.WithLabelValues("admitted").Inc()
	s.logger.Info().Str("job_id", job.ID).Str("execution_id", exec.ID).Msg("backup admitted")
	go s.pipeline.RunBackup(context.WithoutCancel(ctx), job, exec)
	return nil
}

// RunNow triggers a job manually. It bypasses only the schedule check;
// admission and mutual exclusion are the same as for a scheduled run, so
// a manual and a scheduled run can never overlap for one job.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) (*model.Execution, error) {
	job, err := s.services.BackupJob.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	settings, err := s.services.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	active, err := s.services.Execution.CountActiveBackups(ctx)
	if err != nil {
		return nil, err
	}
	if settings.MaxConcurrentBackups > 0 && active >= settings.MaxConcurrentBackups {
		metrics.SchedulerAdmissions.WithLabelValues("over_budget").Inc()
		return nil, fmt.Errorf("concurrency budget exhausted (%d active backups)", active)
	}

	exec, err := s.services.Execution.Claim(ctx, job.ID, job.DatasourceID)
	if err != nil {
		return nil, err
	}
	metrics.SchedulerAdmissions.WithLabelValues("admitted").Inc()
	s.logger.Info().Str("job_id", job.ID).Str("execution_id", exec.ID).Msg("manual backup admitted")
	go s.pipeline.RunBackup(context.WithoutCancel(ctx), *job, exec)
	return exec, nil
}
