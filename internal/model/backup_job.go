package model

import "time"

type BackupJob struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	DatasourceID string          `json:"datasource_id"`
	Targets      []JobTarget     `json:"targets"`
	Schedule     string          `json:"schedule"`
	Timezone     string          `json:"timezone"`
	Enabled      bool            `json:"enabled"`
	BackupType   string          `json:"backup_type"`
	Retention    RetentionPolicy `json:"retention_policy"`
	Options      BackupOptions   `json:"backup_options"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// JobTarget is one entry in a job's ordered list of storage targets.
// Position 1 is the primary.
type JobTarget struct {
	StorageLocationID string `json:"storage_location_id"`
	Position          int    `json:"order"`
	Replicate         bool   `json:"replicate"`
}

// RetentionPolicy counts are "most recent N buckets"; zero means
// unbounded for that bucket, not zero-retention.
type RetentionPolicy struct {
	KeepDaily   int  `json:"keep_daily"`
	KeepWeekly  int  `json:"keep_weekly"`
	KeepMonthly int  `json:"keep_monthly"`
	AutoDelete  bool `json:"auto_delete"`
}

type BackupOptions struct {
	Compression     string   `json:"compression"`
	Parallelism     int      `json:"parallelism"`
	IncludeFilters  []string `json:"include_filters,omitempty"`
	ExcludeFilters  []string `json:"exclude_filters,omitempty"`
	StorageStrategy string   `json:"storage_strategy"`
}

const (
	BackupTypeFull         = "full"
	BackupTypeIncremental  = "incremental"
	BackupTypeDifferential = "differential"
)

const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

const (
	StrategyReplicate = "replicate"
	StrategyFallback  = "fallback"
)

// Primary returns the target with position 1, or nil if the job is
// malformed.
func (j *BackupJob) Primary() *JobTarget {
	for i := range j.Targets {
		if j.Targets[i].Position == 1 {
			return &j.Targets[i]
		}
	}
	return nil
}
