package core

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sorenh/backupd/internal/model"
)

func gatedRestore() GatedAction {
	return GatedAction{
		Action:       model.ActionRestore,
		ResourceType: "execution",
		ResourceID:   "exec-1",
	}
}

// approvalRow builds a scan func for one approval_requests row.
func approvalRow(a model.ApprovalRequest) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = a.ID
		*(dest[1].(*string)) = a.Action
		*(dest[2].(*string)) = a.ResourceType
		*(dest[3].(*string)) = a.ResourceID
		*(dest[5].(*string)) = a.RequesterUserID
		*(dest[6].(*string)) = a.Status
		*(dest[10].(**time.Time)) = a.ExpiresAt
		*(dest[11].(**time.Time)) = a.ConsumedAt
		*(dest[12].(*time.Time)) = a.CreatedAt
		*(dest[13].(*time.Time)) = a.UpdatedAt
		return nil
	}
}

// ---------- Path 1: administrator password ----------

func TestApprovalService_Authorize_AdminPassword(t *testing.T) {
	db := &mockDB{}
	svc := NewApprovalService(db, NewSettingsService(db))
	ctx := context.Background()

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	rows := newMockRows(func(dest ...any) error {
		*(dest[0].(*string)) = hash
		return nil
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	err = svc.Authorize(ctx, gatedRestore(), Credentials{AdminPassword: "hunter2"})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestApprovalService_Authorize_WrongPassword(t *testing.T) {
	db := &mockDB{}
	svc := NewApprovalService(db, NewSettingsService(db))
	ctx := context.Background()

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	rows := newMockRows(func(dest ...any) error {
		*(dest[0].(*string)) = hash
		return nil
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	err = svc.Authorize(ctx, gatedRestore(), Credentials{AdminPassword: "letmein"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	db.AssertExpectations(t)
}

// ---------- Path 2: consuming an approved request ----------

func TestApprovalService_Authorize_ConsumesApprovedRequest(t *testing.T) {
	db := &mockDB{}
	svc := NewApprovalService(db, NewSettingsService(db))
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	row := &mockRow{scanFunc: approvalRow(model.ApprovalRequest{
		ID:           "req-1",
		Action:       model.ActionRestore,
		ResourceType: "execution",
		ResourceID:   "exec-1",
		Status:       model.ApprovalApproved,
		ExpiresAt:    &expires,
	})}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := svc.Authorize(ctx, gatedRestore(), Credentials{ApprovalRequestID: "req-1"})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestApprovalService_Authorize_RequestActionMismatch(t *testing.T) {
	db := &mockDB{}
	svc := NewApprovalService(db, NewSettingsService(db))
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	row := &mockRow{scanFunc: approvalRow(model.ApprovalRequest{
		ID:           "req-1",
		Action:       model.ActionDeleteBackup,
		ResourceType: "execution",
		ResourceID:   "exec-1",
		Status:       model.ApprovalApproved,
		ExpiresAt:    &expires,
	})}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	err := svc.Authorize(ctx, gatedRestore(), Credentials{ApprovalRequestID: "req-1"})
	id, required := IsApprovalRequired(err)
	require.True(t, required)
	assert.Equal(t, "req-1", id)
	db.AssertExpectations(t)
}

func TestApprovalService_Authorize_ExpiredRequest(t *testing.T) {
	db := &mockDB{}
	svc := NewApprovalService(db, NewSettingsService(db))
	ctx := context.Background()

	expired := time.Now().Add(-time.Minute)
	row := &mockRow{scanFunc: approvalRow(model.ApprovalRequest{
		ID:           "req-1",
		Action:       model.ActionRestore,
		ResourceType: "execution",
		ResourceID:   "exec-1",
		Status:       model.ApprovalApproved,
		ExpiresAt:    &expired,
	})}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	err := svc.Authorize(ctx, gatedRestore(), Credentials{ApprovalRequestID: "req-1"})
	_, required := IsApprovalRequired(err)
	assert.True(t, required)
	db.AssertExpectations(t)
}

func TestApprovalService_Authorize_ConsumeOnce(t *testing.T) {
	db := &mockDB{}
	svc := NewApprovalService(db, NewSettingsService(db))
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	consumed := time.Now().Add(-time.Minute)
	row := &mockRow{scanFunc: approvalRow(model.ApprovalRequest{
		ID:           "req-1",
		Action:       model.ActionRestore,
		ResourceType: "execution",
		ResourceID:   "exec-1",
		Status:       model.ApprovalApproved,
		ExpiresAt:    &expires,
		ConsumedAt:   &consumed,
	})}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	err := svc.Authorize(ctx, gatedRestore(), Credentials{ApprovalRequestID: "req-1"})
	_, required := IsApprovalRequired(err)
	assert.True(t, required)
	db.AssertExpectations(t)
}

func TestApprovalService_Authorize_ConsumeRaceLoses(t *testing.T) {
	db := &mockDB{}
	svc := NewApprovalService(db, NewSettingsService(db))
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	row := &mockRow{scanFunc: approvalRow(model.ApprovalRequest{
		ID:           "req-1",
		Action:       model.ActionRestore,
		ResourceType: "execution",
		ResourceID:   "exec-1",
		Status:       model.ApprovalApproved,
		ExpiresAt:    &expires,
	})}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)
	// Another execute call consumed the request between read and update.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Authorize(ctx, gatedRestore(), Credentials{ApprovalRequestID: "req-1"})
	_, required := IsApprovalRequired(err)
	assert.True(t, required)
	db.AssertExpectations(t)
}

// ---------- Path 3: no credentials creates a pending request ----------

func TestApprovalService_Authorize_NoCredentialsCreatesPending(t *testing.T) {
	db := &mockDB{}
	svc := NewApprovalService(db, NewSettingsService(db))
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 9 && args[6] == model.ApprovalPending
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := svc.Authorize(ctx, gatedRestore(), Credentials{})
	id, required := IsApprovalRequired(err)
	require.True(t, required)
	assert.NotEmpty(t, id)
	db.AssertExpectations(t)
}

// ---------- Decisions ----------

func TestApprovalService_Approve_StampsExpiry(t *testing.T) {
	db := &mockDB{}
	svc := NewApprovalService(db, NewSettingsService(db))
	ctx := context.Background()

	settingsRow := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int)) = 30
		*(dest[1].(*int)) = 2
		*(dest[2].(*int)) = 24
		*(dest[3].(*int)) = 60
		*(dest[4].(*int)) = 100
		*(dest[5].(*time.Time)) = time.Now()
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(settingsRow)

	before := time.Now().Add(24 * time.Hour)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		expires, ok := args[3].(time.Time)
		return ok && !expires.Before(before)
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := svc.Approve(ctx, "req-1", "admin", "verified with requester")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestApprovalService_Reject_NonPending(t *testing.T) {
	db := &mockDB{}
	svc := NewApprovalService(db, NewSettingsService(db))
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Reject(ctx, "req-1", "admin", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	db.AssertExpectations(t)
}
