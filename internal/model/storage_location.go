package model

import "time"

type StorageLocation struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Backend   string        `json:"backend"`
	Config    StorageConfig `json:"config"`
	IsDefault bool          `json:"is_default"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StorageConfig holds backend-specific settings. Only the fields for the
// location's backend type are populated; the rest stay zero. Stored as a
// single jsonb column.
type StorageConfig struct {
	// local
	Path string `json:"path,omitempty"`

	// sftp
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	RemotePath string `json:"remote_path,omitempty"`

	// s3
	Endpoint     string `json:"endpoint,omitempty"`
	Region       string `json:"region,omitempty"`
	Bucket       string `json:"bucket,omitempty"`
	AccessKey    string `json:"access_key,omitempty"`
	SecretKey    string `json:"secret_key,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty"`
}

// Redacted returns a copy whose credential fields are blanked. API
// responses go through this; the stored config keeps the secrets.
func (l StorageLocation) Redacted() StorageLocation {
	l.Config.Password = ""
	l.Config.PrivateKey = ""
	l.Config.SecretKey = ""
	return l
}

const (
	BackendLocal = "local"
	BackendSFTP  = "sftp"
	BackendS3    = "s3"
)

// Storage location statuses derived from check probes.
const (
	StorageHealthy     = "healthy"
	StorageFull        = "full"
	StorageUnreachable = "unreachable"
)
