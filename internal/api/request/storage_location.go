package request

import "github.com/sorenh/backupd/internal/model"

type CreateStorageLocation struct {
	Name      string              `json:"name" validate:"required,slug"`
	Backend   string              `json:"backend" validate:"required,oneof=local sftp s3"`
	Config    model.StorageConfig `json:"config"`
	IsDefault bool                `json:"is_default"`
}

// UpdateStorageLocation changes name, config or default flag. Backend
// type is immutable; replace the location instead.
type UpdateStorageLocation struct {
	Name      *string              `json:"name" validate:"omitempty,slug"`
	Config    *model.StorageConfig `json:"config"`
	IsDefault *bool                `json:"is_default"`
}
