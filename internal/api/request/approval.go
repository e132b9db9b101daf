package request

import "encoding/json"

type CreateApproval struct {
	Action          string          `json:"action" validate:"required,oneof=restore delete_backup purge_audit_logs"`
	ResourceType    string          `json:"resource_type" validate:"required"`
	ResourceID      string          `json:"resource_id" validate:"required"`
	Payload         json.RawMessage `json:"payload"`
	RequesterUserID string          `json:"requester_user_id"`
}

type DecideApproval struct {
	Reason          string `json:"reason"`
	DecidedByUserID string `json:"decided_by_user_id"`
}
