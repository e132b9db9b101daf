package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/model"
)

// staticDB answers every QueryRow with the job's last start time. Only
// the dueness path touches the database.
type staticDB struct {
	lastStarted *time.Time
}

func (d *staticDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected Exec")
}

func (d *staticDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (d *staticDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return rowFunc(func(dest ...any) error {
		*(dest[0].(**time.Time)) = d.lastStarted
		return nil
	})
}

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func newTestScheduler(last *time.Time) *Scheduler {
	return New(core.NewServices(&staticDB{lastStarted: last}), nil, zerolog.Nop())
}

func hourlyJob(created time.Time) model.BackupJob {
	return model.BackupJob{
		ID:        "job-1",
		Schedule:  "0 * * * *",
		Timezone:  "UTC",
		CreatedAt: created,
	}
}

func TestScheduler_Due_NeverRan(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 20, 0, 0, time.UTC)
	s := newTestScheduler(nil)

	// Created two hours ago; the hourly schedule has fired since.
	due, err := s.due(context.Background(), hourlyJob(now.Add(-2*time.Hour)), now)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestScheduler_Due_CreatedJustBeforeFirstFire(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 20, 0, 0, time.UTC)
	s := newTestScheduler(nil)

	// Created at 10:10; next fire is 11:00, still ahead.
	due, err := s.due(context.Background(), hourlyJob(now.Add(-10*time.Minute)), now)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestScheduler_Due_RanThisHour(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 20, 0, 0, time.UTC)
	last := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&last)

	due, err := s.due(context.Background(), hourlyJob(now.Add(-48*time.Hour)), now)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestScheduler_Due_MissedFire(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 20, 0, 0, time.UTC)
	last := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(&last)

	// 09:00 and 10:00 both passed since the last start; exactly one run
	// is admitted, not one per missed fire.
	due, err := s.due(context.Background(), hourlyJob(now.Add(-48*time.Hour)), now)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestScheduler_Due_JobTimezone(t *testing.T) {
	// 02:00 daily in Stockholm (UTC+1). At 01:30 UTC on Jan 11 it is
	// 02:30 local, so the schedule fired; in UTC terms it has not.
	job := model.BackupJob{
		ID:       "job-1",
		Schedule: "0 2 * * *",
		Timezone: "Europe/Stockholm",
	}
	last := time.Date(2026, 1, 10, 2, 5, 0, 0, time.UTC)
	now := time.Date(2026, 1, 11, 1, 30, 0, 0, time.UTC)

	s := newTestScheduler(&last)
	due, err := s.due(context.Background(), job, now)
	require.NoError(t, err)
	assert.True(t, due)

	job.Timezone = "UTC"
	due, err = s.due(context.Background(), job, now)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestScheduler_Due_BadSchedule(t *testing.T) {
	job := hourlyJob(time.Now())
	job.Schedule = "not cron"

	s := newTestScheduler(nil)
	_, err := s.due(context.Background(), job, time.Now())
	require.Error(t, err)
}
