package model

import "time"

// APIKey authenticates a dashboard or automation caller. Only the
// sha256 hash of the raw key is stored.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	KeyPrefix string     `json:"key_prefix"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// AdminUser holds the administrator credentials the approval gate
// verifies re-entered passwords against.
type AdminUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
