package request

// Gated carries the credentials for an action behind the approval gate.
// Both fields empty means "create a pending approval request for me".
type Gated struct {
	AdminPassword     string `json:"admin_password"`
	ApprovalRequestID string `json:"approval_request_id"`
}

// PurgeAuditLogs is the gated audit purge request.
type PurgeAuditLogs struct {
	Gated
	OlderThanDays int `json:"older_than_days" validate:"required,min=1"`
}
