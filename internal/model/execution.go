package model

import "time"

// Execution is one concrete run of a backup or restore operation. It is
// the single source of truth for what happened; rows are never deleted
// by the orchestration core, only annotated.
type Execution struct {
	ID                  string             `json:"id"`
	JobID               *string            `json:"job_id,omitempty"`
	DatasourceID        string             `json:"datasource_id"`
	Operation           string             `json:"operation"`
	Status              string             `json:"status"`
	ErrorMessage        *string            `json:"error_message,omitempty"`
	SizeBytes           int64              `json:"size_bytes"`
	CompressedSizeBytes int64              `json:"compressed_size_bytes"`
	CancelRequested     bool               `json:"cancel_requested"`
	SpoolPath           *string            `json:"-"`
	PrunedAt            *time.Time         `json:"pruned_at,omitempty"`
	StartedAt           *time.Time         `json:"started_at,omitempty"`
	FinishedAt          *time.Time         `json:"finished_at,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	Chunks              []ExecutionChunk   `json:"chunks,omitempty"`
	Targets             []ExecutionTarget  `json:"storage_locations,omitempty"`
}

// ExecutionChunk is an immutable chunk manifest record keyed by
// (execution_id, chunk_number). Offset and size address the chunk inside
// the local spool file so failed uploads can be retried without
// re-dumping the source.
type ExecutionChunk struct {
	ExecutionID string `json:"-"`
	ChunkNumber int    `json:"chunk_number"`
	FilePath    string `json:"file_path"`
	Offset      int64  `json:"-"`
	SizeBytes   int64  `json:"size_bytes"`
	Checksum    string `json:"checksum"`
}

// ExecutionTarget records the per-storage-location outcome of a run.
type ExecutionTarget struct {
	ExecutionID       string  `json:"-"`
	StorageLocationID string  `json:"storage_location_id"`
	Position          int     `json:"position"`
	Status            string  `json:"status"`
	ErrorMessage      *string `json:"error_message,omitempty"`
}

const (
	OperationBackup  = "backup"
	OperationRestore = "restore"
)

const (
	ExecutionQueued    = "queued"
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionCancelled = "cancelled"
)

// Per-location copy statuses as surfaced by the backups-by-datasource
// view.
const (
	CopyAvailable   = "available"
	CopyMissing     = "missing"
	CopyUnreachable = "unreachable"
	CopyUnknown     = "unknown"
)

// Terminal reports whether the status permits no further transitions.
func Terminal(status string) bool {
	switch status {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

type ExecutionLog struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}
