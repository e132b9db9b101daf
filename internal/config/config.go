package config

import (
	"fmt"
	"os"
)

type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	LogLevel       string
	ServiceName    string
	// SpoolDir holds dump spool files while chunks are uploaded. Spools
	// of failed executions stay here until retried or deleted.
	SpoolDir string
	// StagingDir holds fetched backups during restores.
	StagingDir string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8320"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ServiceName:    getEnv("SERVICE_NAME", "backupd"),
		SpoolDir:       getEnv("SPOOL_DIR", "/var/lib/backupd/spool"),
		StagingDir:     getEnv("STAGING_DIR", "/var/lib/backupd/staging"),
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
