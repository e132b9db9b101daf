package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/dump"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/storage"
)

// Prober periodically checks datasource and storage connectivity. It
// only writes derived statuses and bounded probe history; it never
// blocks backup or restore work.
type Prober struct {
	services *core.Services
	drivers  *dump.Registry
	open     storage.Factory
	logger   zerolog.Logger
}

func NewProber(services *core.Services, drivers *dump.Registry, open storage.Factory, logger zerolog.Logger) *Prober {
	return &Prober{services: services, drivers: drivers, open: open, logger: logger}
}

func (p *Prober) Run(ctx context.Context) {
	p.logger.Info().Msg("health prober started")
	for {
		interval := p.round(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("health prober stopped")
			return
		case <-time.After(interval):
		}
	}
}

func (p *Prober) round(ctx context.Context) time.Duration {
	settings, err := p.services.Settings.Get(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("read settings")
		return time.Minute
	}
	interval := time.Duration(settings.HealthProbeIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	p.probeDatasources(ctx)
	p.probeStorage(ctx)
	return interval
}

func (p *Prober) probeDatasources(ctx context.Context) {
	sources, err := p.services.Datasource.List(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("list datasources")
		return
	}
	for _, ds := range sources {
		if !ds.Enabled {
			continue
		}
		status := model.DatasourceHealthy
		var message string

		started := time.Now()
		driver, err := p.drivers.ForEngine(ds.Engine)
		if err == nil {
			err = driver.Ping(ctx, ds)
		}
		latency := time.Since(started)
		if err != nil {
			status = model.DatasourceCritical
			message = err.Error()
		}

		p.record(ctx, model.ProbeTargetDatasource, ds.ID, status, message, latency, nil)
		if err := p.services.Datasource.SetStatus(ctx, ds.ID, status); err != nil {
			p.logger.Error().Err(err).Str("datasource_id", ds.ID).Msg("set datasource status")
		}
	}
}

func (p *Prober) probeStorage(ctx context.Context) {
	locations, err := p.services.StorageLocation.List(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("list storage locations")
		return
	}
	for _, loc := range locations {
		started := time.Now()
		var message string
		var space *float64

		backend, err := p.open(loc)
		if err == nil {
			var res storage.CheckResult
			res, err = backend.Check(ctx)
			space = res.AvailableSpaceGB
		}
		latency := time.Since(started)
		status := storage.StatusFor(err)
		if err != nil {
			message = err.Error()
		}

		p.record(ctx, model.ProbeTargetStorage, loc.ID, status, message, latency, space)
		if err := p.services.StorageLocation.SetStatus(ctx, loc.ID, status); err != nil {
			p.logger.Error().Err(err).Str("storage_location_id", loc.ID).Msg("set storage status")
		}
	}
}

func (p *Prober) record(ctx context.Context, targetType, targetID, status, message string, latency time.Duration, space *float64) {
	probe := &model.HealthProbe{
		TargetType:       targetType,
		TargetID:         targetID,
		Status:           status,
		LatencyMs:        latency.Milliseconds(),
		AvailableSpaceGB: space,
		CreatedAt:        time.Now(),
	}
	if message != "" {
		probe.Message = &message
	}
	if err := p.services.Health.RecordProbe(ctx, probe); err != nil {
		p.logger.Error().Err(err).Str("target_id", targetID).Msg("record probe")
	}
}
