package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/platform"
)

// Seed files declare datasources, storage locations, and backup jobs
// by name. Entries whose name already exists are skipped, so applying
// the same file twice is harmless. Jobs reference the other two
// sections by name rather than id.
type seedFile struct {
	Datasources      []seedDatasource      `yaml:"datasources"`
	StorageLocations []seedStorageLocation `yaml:"storage_locations"`
	BackupJobs       []seedBackupJob       `yaml:"backup_jobs"`
}

type seedDatasource struct {
	Name         string `yaml:"name"`
	Engine       string `yaml:"engine"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	DatabaseName string `yaml:"database_name"`
	RootPath     string `yaml:"root_path"`
	Enabled      *bool  `yaml:"enabled"`
}

type seedStorageLocation struct {
	Name      string            `yaml:"name"`
	Backend   string            `yaml:"backend"`
	IsDefault bool              `yaml:"is_default"`
	Config    seedStorageConfig `yaml:"config"`
}

type seedStorageConfig struct {
	Path         string `yaml:"path"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PrivateKey   string `yaml:"private_key"`
	RemotePath   string `yaml:"remote_path"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type seedBackupJob struct {
	Name       string          `yaml:"name"`
	Datasource string          `yaml:"datasource"`
	Schedule   string          `yaml:"schedule"`
	Timezone   string          `yaml:"timezone"`
	Enabled    *bool           `yaml:"enabled"`
	BackupType string          `yaml:"backup_type"`
	Targets    []seedJobTarget `yaml:"targets"`
	Retention  seedRetention   `yaml:"retention"`
	Options    seedOptions     `yaml:"options"`
}

type seedJobTarget struct {
	StorageLocation string `yaml:"storage_location"`
	Position        int    `yaml:"order"`
	Replicate       bool   `yaml:"replicate"`
}

type seedRetention struct {
	KeepDaily   int  `yaml:"keep_daily"`
	KeepWeekly  int  `yaml:"keep_weekly"`
	KeepMonthly int  `yaml:"keep_monthly"`
	AutoDelete  bool `yaml:"auto_delete"`
}

type seedOptions struct {
	Compression     string   `yaml:"compression"`
	Parallelism     int      `yaml:"parallelism"`
	IncludeFilters  []string `yaml:"include_filters"`
	ExcludeFilters  []string `yaml:"exclude_filters"`
	StorageStrategy string   `yaml:"storage_strategy"`
}

func runSeed(ctx context.Context, services *core.Services, path string, logger zerolog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	sourceIDs, err := seedDatasources(ctx, services, seed.Datasources, logger)
	if err != nil {
		return err
	}
	locationIDs, err := seedStorageLocations(ctx, services, seed.StorageLocations, logger)
	if err != nil {
		return err
	}
	return seedBackupJobs(ctx, services, seed.BackupJobs, sourceIDs, locationIDs, logger)
}

func seedDatasources(ctx context.Context, services *core.Services, entries []seedDatasource, logger zerolog.Logger) (map[string]string, error) {
	existing, err := services.Datasource.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasources: %w", err)
	}
	ids := make(map[string]string, len(existing))
	for _, d := range existing {
		ids[d.Name] = d.ID
	}

	for _, e := range entries {
		if _, ok := ids[e.Name]; ok {
			logger.Debug().Str("name", e.Name).Msg("seed: datasource already exists")
			continue
		}
		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		now := time.Now()
		ds := &model.Datasource{
			ID:           platform.NewID(),
			Name:         e.Name,
			Engine:       e.Engine,
			Host:         e.Host,
			Port:         e.Port,
			Username:     e.Username,
			Password:     e.Password,
			DatabaseName: e.DatabaseName,
			RootPath:     e.RootPath,
			Enabled:      enabled,
			Status:       model.DatasourceUnknown,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := services.Datasource.Create(ctx, ds); err != nil {
			return nil, fmt.Errorf("seed datasource %s: %w", e.Name, err)
		}
		ids[e.Name] = ds.ID
		logger.Info().Str("name", e.Name).Str("id", ds.ID).Msg("seed: created datasource")
	}
	return ids, nil
}

func seedStorageLocations(ctx context.Context, services *core.Services, entries []seedStorageLocation, logger zerolog.Logger) (map[string]string, error) {
	existing, err := services.StorageLocation.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list storage locations: %w", err)
	}
	ids := make(map[string]string, len(existing))
	for _, l := range existing {
		ids[l.Name] = l.ID
	}

	for _, e := range entries {
		if _, ok := ids[e.Name]; ok {
			logger.Debug().Str("name", e.Name).Msg("seed: storage location already exists")
			continue
		}
		now := time.Now()
		loc := &model.StorageLocation{
			ID:      platform.NewID(),
			Name:    e.Name,
			Backend: e.Backend,
			Config: model.StorageConfig{
				Path:         e.Config.Path,
				Host:         e.Config.Host,
				Port:         e.Config.Port,
				Username:     e.Config.Username,
				Password:     e.Config.Password,
				PrivateKey:   e.Config.PrivateKey,
				RemotePath:   e.Config.RemotePath,
				Endpoint:     e.Config.Endpoint,
				Region:       e.Config.Region,
				Bucket:       e.Config.Bucket,
				AccessKey:    e.Config.AccessKey,
				SecretKey:    e.Config.SecretKey,
				Prefix:       e.Config.Prefix,
				UsePathStyle: e.Config.UsePathStyle,
			},
			IsDefault: e.IsDefault,
			Status:    model.StorageHealthy,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := services.StorageLocation.Create(ctx, loc); err != nil {
			return nil, fmt.Errorf("seed storage location %s: %w", e.Name, err)
		}
		ids[e.Name] = loc.ID
		logger.Info().Str("name", e.Name).Str("id", loc.ID).Msg("seed: created storage location")
	}
	return ids, nil
}

func seedBackupJobs(ctx context.Context, services *core.Services, entries []seedBackupJob, sourceIDs, locationIDs map[string]string, logger zerolog.Logger) error {
	existing, err := services.BackupJob.List(ctx)
	if err != nil {
		return fmt.Errorf("list backup jobs: %w", err)
	}
	names := make(map[string]bool, len(existing))
	for _, j := range existing {
		names[j.Name] = true
	}

	for _, e := range entries {
		if names[e.Name] {
			logger.Debug().Str("name", e.Name).Msg("seed: backup job already exists")
			continue
		}
		sourceID, ok := sourceIDs[e.Datasource]
		if !ok {
			return fmt.Errorf("seed backup job %s: unknown datasource %q", e.Name, e.Datasource)
		}

		targets := make([]model.JobTarget, 0, len(e.Targets))
		for _, t := range e.Targets {
			locID, ok := locationIDs[t.StorageLocation]
			if !ok {
				return fmt.Errorf("seed backup job %s: unknown storage location %q", e.Name, t.StorageLocation)
			}
			targets = append(targets, model.JobTarget{
				StorageLocationID: locID,
				Position:          t.Position,
				Replicate:         t.Replicate,
			})
		}

		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		now := time.Now()
		job := &model.BackupJob{
			ID:           platform.NewID(),
			Name:         e.Name,
			DatasourceID: sourceID,
			Targets:      targets,
			Schedule:     e.Schedule,
			Timezone:     orDefault(e.Timezone, "UTC"),
			Enabled:      enabled,
			BackupType:   orDefault(e.BackupType, model.BackupTypeFull),
			Retention: model.RetentionPolicy{
				KeepDaily:   e.Retention.KeepDaily,
				KeepWeekly:  e.Retention.KeepWeekly,
				KeepMonthly: e.Retention.KeepMonthly,
				AutoDelete:  e.Retention.AutoDelete,
			},
			Options: model.BackupOptions{
				Compression:     orDefault(e.Options.Compression, model.CompressionZstd),
				Parallelism:     e.Options.Parallelism,
				IncludeFilters:  e.Options.IncludeFilters,
				ExcludeFilters:  e.Options.ExcludeFilters,
				StorageStrategy: orDefault(e.Options.StorageStrategy, model.StrategyReplicate),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := services.BackupJob.Create(ctx, job); err != nil {
			return fmt.Errorf("seed backup job %s: %w", e.Name, err)
		}
		logger.Info().Str("name", e.Name).Str("id", job.ID).Msg("seed: created backup job")
	}
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
