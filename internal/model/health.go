package model

import "time"

// HealthProbe is one probe result for a datasource or storage location.
// Probes are kept in a bounded most-recent-first store; old entries are
// evicted as new ones arrive.
type HealthProbe struct {
	ID               int64     `json:"id"`
	TargetType       string    `json:"target_type"`
	TargetID         string    `json:"target_id"`
	Status           string    `json:"status"`
	LatencyMs        int64     `json:"latency_ms"`
	Message          *string   `json:"message,omitempty"`
	AvailableSpaceGB *float64  `json:"available_space_gb,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

const (
	ProbeTargetDatasource = "datasource"
	ProbeTargetStorage    = "storage"
)
