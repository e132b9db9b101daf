package request

// JobTarget is one entry of the job's ordered storage target list.
type JobTarget struct {
	StorageLocationID string `json:"storage_location_id" validate:"required"`
	Position          int    `json:"order" validate:"required,min=1"`
	Replicate         bool   `json:"replicate"`
}

type RetentionPolicy struct {
	KeepDaily   int  `json:"keep_daily" validate:"min=0"`
	KeepWeekly  int  `json:"keep_weekly" validate:"min=0"`
	KeepMonthly int  `json:"keep_monthly" validate:"min=0"`
	AutoDelete  bool `json:"auto_delete"`
}

type BackupOptions struct {
	Compression     string   `json:"compression" validate:"omitempty,oneof=none gzip zstd"`
	Parallelism     int      `json:"parallelism" validate:"min=0,max=32"`
	IncludeFilters  []string `json:"include_filters"`
	ExcludeFilters  []string `json:"exclude_filters"`
	StorageStrategy string   `json:"storage_strategy" validate:"omitempty,oneof=replicate fallback"`
}

type CreateBackupJob struct {
	Name         string          `json:"name" validate:"required,slug"`
	DatasourceID string          `json:"datasource_id" validate:"required"`
	Targets      []JobTarget     `json:"targets" validate:"required,min=1,dive"`
	Schedule     string          `json:"schedule" validate:"required"`
	Timezone     string          `json:"timezone"`
	Enabled      *bool           `json:"enabled"`
	BackupType   string          `json:"backup_type" validate:"omitempty,oneof=full incremental differential"`
	Retention    RetentionPolicy `json:"retention_policy"`
	Options      BackupOptions   `json:"backup_options"`
}

type UpdateBackupJob struct {
	Name       *string          `json:"name" validate:"omitempty,slug"`
	Targets    []JobTarget      `json:"targets" validate:"omitempty,min=1,dive"`
	Schedule   *string          `json:"schedule"`
	Timezone   *string          `json:"timezone"`
	Enabled    *bool            `json:"enabled"`
	BackupType *string          `json:"backup_type" validate:"omitempty,oneof=full incremental differential"`
	Retention  *RetentionPolicy `json:"retention_policy"`
	Options    *BackupOptions   `json:"backup_options"`
}
