package model

import "time"

type Datasource struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Engine       string     `json:"engine"`
	Host         string     `json:"host,omitempty"`
	Port         int        `json:"port,omitempty"`
	Username     string     `json:"username,omitempty"`
	Password     string     `json:"-"`
	DatabaseName string     `json:"database_name,omitempty"`
	RootPath     string     `json:"root_path,omitempty"`
	Enabled      bool       `json:"enabled"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

const (
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
	EngineMongoDB  = "mongodb"
	EngineFiles    = "files"
)

// Datasource health statuses derived from recent probes.
const (
	DatasourceHealthy  = "healthy"
	DatasourceWarning  = "warning"
	DatasourceCritical = "critical"
	DatasourceUnknown  = "unknown"
)
