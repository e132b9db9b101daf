package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenh/backupd/internal/model"
)

func validJob() *model.BackupJob {
	return &model.BackupJob{
		ID:           "job-1",
		Name:         "orders-nightly",
		DatasourceID: "ds-1",
		Schedule:     "0 2 * * *",
		Timezone:     "Europe/Stockholm",
		Targets: []model.JobTarget{
			{StorageLocationID: "loc-1", Position: 1},
			{StorageLocationID: "loc-2", Position: 2},
		},
	}
}

func TestValidateJob_OK(t *testing.T) {
	require.NoError(t, ValidateJob(validJob()))
}

func TestValidateJob_BadSchedule(t *testing.T) {
	j := validJob()
	j.Schedule = "every 5 minutes"
	err := ValidateJob(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestValidateJob_SixFieldScheduleRejected(t *testing.T) {
	// Seconds-resolution expressions are not operator cron.
	j := validJob()
	j.Schedule = "0 0 2 * * *"
	require.Error(t, ValidateJob(j))
}

func TestValidateJob_BadTimezone(t *testing.T) {
	j := validJob()
	j.Timezone = "Mars/Olympus"
	err := ValidateJob(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timezone")
}

func TestValidateJob_NoTargets(t *testing.T) {
	j := validJob()
	j.Targets = nil
	require.Error(t, ValidateJob(j))
}

func TestValidateJob_DuplicatePosition(t *testing.T) {
	j := validJob()
	j.Targets[1].Position = 1
	err := ValidateJob(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate target position")
}

func TestValidateJob_DuplicateLocation(t *testing.T) {
	j := validJob()
	j.Targets[1].StorageLocationID = "loc-1"
	err := ValidateJob(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate storage location")
}

func TestValidateJob_PositionGap(t *testing.T) {
	j := validJob()
	j.Targets[1].Position = 3
	err := ValidateJob(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total order")
}

func TestValidateJob_MustStartAtOne(t *testing.T) {
	j := validJob()
	j.Targets = []model.JobTarget{{StorageLocationID: "loc-1", Position: 2}}
	require.Error(t, ValidateJob(j))
}

func TestBackupJob_Primary(t *testing.T) {
	j := validJob()
	p := j.Primary()
	require.NotNil(t, p)
	assert.Equal(t, "loc-1", p.StorageLocationID)

	j.Targets = nil
	assert.Nil(t, j.Primary())
}
