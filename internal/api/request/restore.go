package request

// RestoreBackup triggers a restore of a completed backup execution. The
// confirmation phrase must match the mode exactly; restores are also
// gated, so exactly one of admin_password or approval_request_id should
// accompany the request unless the caller wants a pending approval
// created.
type RestoreBackup struct {
	TargetDatasourceID string `json:"target_datasource_id" validate:"required"`
	StorageLocationID  string `json:"storage_location_id"`
	DropExisting       bool   `json:"drop_existing"`
	VerificationMode   bool   `json:"verification_mode"`
	KeepVerification   bool   `json:"keep_verification_database"`
	ConfirmationPhrase string `json:"confirmation_phrase" validate:"required"`
	AdminPassword      string `json:"admin_password"`
	ApprovalRequestID  string `json:"approval_request_id"`
}
