package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sorenh/backupd/internal/model"
)

// ---------- Claim ----------

func TestExecutionService_Claim_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	jobID := "job-1"
	now := time.Now().Truncate(time.Microsecond)

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "exec-1"
		*(dest[1].(**string)) = &jobID
		*(dest[2].(*string)) = "ds-1"
		*(dest[3].(*string)) = model.OperationBackup
		*(dest[4].(*string)) = model.ExecutionRunning
		*(dest[11].(**time.Time)) = &now
		*(dest[13].(*time.Time)) = now
		*(dest[14].(*time.Time)) = now
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	exec, err := svc.Claim(ctx, jobID, "ds-1")
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, "exec-1", exec.ID)
	assert.Equal(t, model.ExecutionRunning, exec.Status)
	assert.Equal(t, model.OperationBackup, exec.Operation)
	require.NotNil(t, exec.JobID)
	assert.Equal(t, jobID, *exec.JobID)
	db.AssertExpectations(t)
}

func TestExecutionService_Claim_AlreadyRunning(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	// The conditional insert matches no row when the job already holds
	// an active execution.
	row := &mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	exec, err := svc.Claim(ctx, "job-1", "ds-1")
	require.Error(t, err)
	assert.Nil(t, exec)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	db.AssertExpectations(t)
}

func TestExecutionService_Claim_SerializesAgainstRestores(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	// Both claims on a datasource must run under the same advisory lock
	// and the backup claim must also reject an active restore, or two
	// single-statement snapshot reads can both pass their NOT EXISTS.
	row := &mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}}
	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "pg_advisory_xact_lock") &&
			strings.Contains(sql, "operation = 'restore'")
	}), mock.Anything).Return(row).Once()

	_, err := svc.Claim(ctx, "job-1", "ds-1")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "pg_advisory_xact_lock")
	}), mock.Anything).Return(row).Once()

	_, err = svc.ClaimRestore(ctx, "ds-1")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	db.AssertExpectations(t)
}

func TestExecutionService_ClaimRestore_AlreadyRunning(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	exec, err := svc.ClaimRestore(ctx, "ds-1")
	require.Error(t, err)
	assert.Nil(t, exec)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	db.AssertExpectations(t)
}

// ---------- GetByID ----------

func TestExecutionService_GetByID_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	exec, err := svc.GetByID(ctx, "missing")
	require.Error(t, err)
	assert.Nil(t, exec)
	assert.ErrorIs(t, err, ErrNotFound)
	db.AssertExpectations(t)
}

func TestExecutionService_GetByID_LoadsManifest(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "exec-1"
		*(dest[2].(*string)) = "ds-1"
		*(dest[3].(*string)) = model.OperationBackup
		*(dest[4].(*string)) = model.ExecutionCompleted
		*(dest[13].(*time.Time)) = now
		*(dest[14].(*time.Time)) = now
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	chunkRows := newMockRows(func(dest ...any) error {
		*(dest[0].(*string)) = "exec-1"
		*(dest[1].(*int)) = 0
		*(dest[2].(*string)) = "ds-1/exec-1/chunk-000000"
		*(dest[3].(*int64)) = 0
		*(dest[4].(*int64)) = 1024
		*(dest[5].(*string)) = "abc123"
		return nil
	})
	targetRows := newMockRows(func(dest ...any) error {
		*(dest[0].(*string)) = "exec-1"
		*(dest[1].(*string)) = "loc-1"
		*(dest[2].(*int)) = 1
		*(dest[3].(*string)) = model.CopyAvailable
		return nil
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(chunkRows, nil).Once()
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(targetRows, nil).Once()

	exec, err := svc.GetByID(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, exec.Chunks, 1)
	assert.Equal(t, "abc123", exec.Chunks[0].Checksum)
	require.Len(t, exec.Targets, 1)
	assert.Equal(t, model.CopyAvailable, exec.Targets[0].Status)
	db.AssertExpectations(t)
}

// ---------- Transitions ----------

func TestExecutionService_Complete_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := svc.Complete(ctx, "exec-1", 4096, 1024)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestExecutionService_Complete_NotRunning(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	// The guarded update touches no row when the execution already left
	// the running state.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Complete(ctx, "exec-1", 4096, 1024)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	db.AssertExpectations(t)
}

func TestExecutionService_Fail_RecordsMessage(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 2 && args[1] == "dump failed: exit status 2"
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := svc.Fail(ctx, "exec-1", errors.New("dump failed: exit status 2"))
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestExecutionService_Fail_NilCauseNeverEmpty(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 2 && args[1] == "unknown error"
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := svc.Fail(ctx, "exec-1", nil)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestExecutionService_Fail_TerminalNotResurrected(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Fail(ctx, "exec-1", errors.New("late failure"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	db.AssertExpectations(t)
}

func TestExecutionService_RequestCancel_OnlyRunning(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.RequestCancel(ctx, "exec-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	db.AssertExpectations(t)
}

// ---------- Admission queries ----------

func TestExecutionService_CountActiveBackups(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int)) = 3
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	n, err := svc.CountActiveBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	db.AssertExpectations(t)
}

func TestExecutionService_LastStartedAt_NeverRan(t *testing.T) {
	db := &mockDB{}
	svc := NewExecutionService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(**time.Time)) = nil
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	last, err := svc.LastStartedAt(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, last)
	db.AssertExpectations(t)
}
