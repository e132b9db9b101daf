package handler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenh/backupd/internal/model"
)

func TestRestoreStartedShape(t *testing.T) {
	started := time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC)
	body, err := json.Marshal(restoreStarted{
		ExecutionID:      "exec-1",
		VerificationMode: true,
		Status:           model.ExecutionRunning,
		StartedAt:        &started,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "exec-1", got["execution_id"])
	assert.Equal(t, true, got["verification_mode"])
	assert.Equal(t, "running", got["status"])
	assert.Equal(t, "2026-08-28T03:00:00Z", got["started_at"])
	assert.NotContains(t, got, "id")
}
