package retention

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenh/backupd/internal/model"
)

// dailyRuns builds n completed executions one day apart, newest first,
// ending at the given time.
func dailyRuns(newest time.Time, n int) []model.Execution {
	executions := make([]model.Execution, n)
	for i := 0; i < n; i++ {
		started := newest.AddDate(0, 0, -i)
		executions[i] = model.Execution{
			ID:        fmt.Sprintf("exec-%03d", i),
			Status:    model.ExecutionCompleted,
			StartedAt: &started,
		}
	}
	return executions
}

func ids(executions []model.Execution) []string {
	out := make([]string, len(executions))
	for i, e := range executions {
		out[i] = e.ID
	}
	return out
}

func TestClassify_DailyWeeklyMonthly(t *testing.T) {
	loc := time.UTC
	// Two months of daily 02:00 backups ending Wed 2026-03-04.
	newest := time.Date(2026, 3, 4, 2, 0, 0, 0, loc)
	executions := dailyRuns(newest, 60)

	policy := model.RetentionPolicy{KeepDaily: 7, KeepWeekly: 4, KeepMonthly: 12}
	plan := Classify(executions, policy, loc)

	// 7 daily representatives are the 7 newest runs.
	kept := make(map[string]bool)
	for _, e := range plan.Keep {
		kept[e.ID] = true
	}
	for i := 0; i < 7; i++ {
		assert.True(t, kept[fmt.Sprintf("exec-%03d", i)], "newest 7 runs are daily keeps")
	}

	// The weekly and monthly dimensions only add representatives beyond
	// the daily window: newest run of each of the 4 most recent ISO
	// weeks and of each month present.
	assert.Less(t, len(plan.Keep), len(executions))
	assert.Equal(t, len(executions), len(plan.Keep)+len(plan.Prune))

	// Every pruned execution is older than the newest kept one.
	for _, p := range plan.Prune {
		assert.True(t, p.StartedAt.Before(*plan.Keep[0].StartedAt))
	}
}

func TestClassify_KeepDailyOne(t *testing.T) {
	loc := time.UTC
	newest := time.Date(2026, 3, 4, 2, 0, 0, 0, loc)
	executions := dailyRuns(newest, 3)

	policy := model.RetentionPolicy{KeepDaily: 1}
	plan := Classify(executions, policy, loc)

	// Weekly and monthly counts of zero contribute nothing; exactly the
	// newest run survives.
	require.Len(t, plan.Keep, 1)
	assert.Equal(t, "exec-000", plan.Keep[0].ID)
	assert.ElementsMatch(t, []string{"exec-001", "exec-002"}, ids(plan.Prune))
}

func TestClassify_AllZeroPrunesNothing(t *testing.T) {
	loc := time.UTC
	executions := dailyRuns(time.Date(2026, 3, 4, 2, 0, 0, 0, loc), 10)

	plan := Classify(executions, model.RetentionPolicy{}, loc)
	assert.Len(t, plan.Keep, 10)
	assert.Empty(t, plan.Prune)
}

func TestClassify_NewestPerBucketRepresents(t *testing.T) {
	loc := time.UTC
	// Two runs on the same day; only the newer one represents the day.
	late := time.Date(2026, 3, 4, 22, 0, 0, 0, loc)
	early := time.Date(2026, 3, 4, 2, 0, 0, 0, loc)
	executions := []model.Execution{
		{ID: "exec-late", StartedAt: &late},
		{ID: "exec-early", StartedAt: &early},
	}

	plan := Classify(executions, model.RetentionPolicy{KeepDaily: 1}, loc)
	require.Len(t, plan.Keep, 1)
	assert.Equal(t, "exec-late", plan.Keep[0].ID)
	require.Len(t, plan.Prune, 1)
	assert.Equal(t, "exec-early", plan.Prune[0].ID)
}

func TestClassify_TimezoneSplitsDays(t *testing.T) {
	stockholm, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)

	// One UTC day, two Stockholm days (UTC+1 in January).
	a := time.Date(2026, 1, 10, 22, 30, 0, 0, time.UTC) // 23:30 local Jan 10
	b := time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC) // 00:30 local Jan 11
	executions := []model.Execution{
		{ID: "exec-b", StartedAt: &b},
		{ID: "exec-a", StartedAt: &a},
	}

	plan := Classify(executions, model.RetentionPolicy{KeepDaily: 2}, stockholm)
	// In local time these are two different days, so both survive.
	assert.Len(t, plan.Keep, 2)

	planUTC := Classify(executions, model.RetentionPolicy{KeepDaily: 2}, time.UTC)
	// In UTC they share a day; only the newest represents it, the other
	// is pruned because only one distinct day exists.
	require.Len(t, planUTC.Keep, 1)
	assert.Equal(t, "exec-b", planUTC.Keep[0].ID)
}

func TestClassify_FallsBackToCreatedAt(t *testing.T) {
	loc := time.UTC
	executions := []model.Execution{
		{ID: "exec-0", CreatedAt: time.Date(2026, 3, 4, 2, 0, 0, 0, loc)},
		{ID: "exec-1", CreatedAt: time.Date(2026, 3, 3, 2, 0, 0, 0, loc)},
	}

	plan := Classify(executions, model.RetentionPolicy{KeepDaily: 1}, loc)
	require.Len(t, plan.Keep, 1)
	assert.Equal(t, "exec-0", plan.Keep[0].ID)
}
