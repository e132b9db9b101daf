package model

import (
	"encoding/json"
	"time"
)

// ApprovalRequest records a pending or decided authorization for a
// critical operation. An approved request authorizes exactly one
// subsequent execute call for the same action and resource.
type ApprovalRequest struct {
	ID              string          `json:"id"`
	Action          string          `json:"action"`
	ResourceType    string          `json:"resource_type"`
	ResourceID      string          `json:"resource_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	RequesterUserID string          `json:"requester_user_id"`
	Status          string          `json:"status"`
	DecisionReason  *string         `json:"decision_reason,omitempty"`
	DecidedByUserID *string         `json:"decided_by_user_id,omitempty"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	ConsumedAt      *time.Time      `json:"consumed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalCanceled = "canceled"
)

// Critical actions mediated by the approval gate.
const (
	ActionRestore      = "restore"
	ActionDeleteBackup = "delete_backup"
	ActionPurgeAudit   = "purge_audit_logs"
)

// Expired reports whether an approved request has aged past its expiry
// window. Pending requests carry no expiry until approved.
func (a *ApprovalRequest) Expired(now time.Time) bool {
	return a.Status == ApprovalApproved && a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}
