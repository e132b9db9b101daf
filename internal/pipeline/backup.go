package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/restic/chunker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sorenh/backupd/internal/dump"
	"github.com/sorenh/backupd/internal/metrics"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/storage"
)

// chunkerPol is fixed for the deployment so chunk boundaries stay stable
// across runs.
const chunkerPol = chunker.Pol(0x3DEA92648F6E83)

// RunBackup executes a claimed backup execution to a terminal state. The
// ledger row is already running; every outcome, including panic-free
// failure, is recorded on it.
func (p *Pipeline) RunBackup(ctx context.Context, job model.BackupJob, exec *model.Execution) {
	started := time.Now()
	log := p.logger.With().Str("job_id", job.ID).Str("execution_id", exec.ID).Logger()

	err := p.runBackup(ctx, job, exec, log)
	switch {
	case err == nil:
		metrics.ExecutionsTotal.WithLabelValues(model.OperationBackup, model.ExecutionCompleted).Inc()
		metrics.BackupDuration.Observe(time.Since(started).Seconds())
		log.Info().Dur("elapsed", time.Since(started)).Msg("backup completed")
		if err := p.retention.Apply(ctx, job); err != nil {
			log.Error().Err(err).Msg("retention pass failed")
		}
	case err == errCancelled:
		metrics.ExecutionsTotal.WithLabelValues(model.OperationBackup, model.ExecutionCancelled).Inc()
		if err := p.executions.MarkCancelled(ctx, exec.ID); err != nil {
			log.Error().Err(err).Msg("mark cancelled failed")
		}
		p.removeSpool(exec.ID)
		log.Info().Msg("backup cancelled")
	default:
		metrics.ExecutionsTotal.WithLabelValues(model.OperationBackup, model.ExecutionFailed).Inc()
		p.executions.AppendLog(ctx, exec.ID, "error", err.Error())
		if ferr := p.executions.Fail(ctx, exec.ID, err); ferr != nil {
			log.Error().Err(ferr).Msg("fail transition failed")
		}
		log.Error().Err(err).Msg("backup failed")
	}
}

func (p *Pipeline) runBackup(ctx context.Context, job model.BackupJob, exec *model.Execution, log zerolog.Logger) error {
	ds, err := p.sources.GetByID(ctx, job.DatasourceID)
	if err != nil {
		return err
	}
	driver, err := p.drivers.ForEngine(ds.Engine)
	if err != nil {
		return err
	}

	rawBytes, err := p.spool(ctx, *ds, driver, job, exec)
	if err != nil {
		return err
	}

	spoolPath := p.spoolPath(exec.ID)
	chunks, err := p.chunkSpool(ctx, exec, spoolPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(spoolPath)
	if err != nil {
		return fmt.Errorf("stat spool: %w", err)
	}
	compressedBytes := info.Size()
	log.Info().
		Str("raw", humanize.Bytes(uint64(rawBytes))).
		Str("compressed", humanize.Bytes(uint64(compressedBytes))).
		Int("chunks", len(chunks)).
		Msg("spool ready")

	if err := p.upload(ctx, job, exec, spoolPath, chunks); err != nil {
		return err
	}

	if err := p.executions.Complete(ctx, exec.ID, rawBytes, compressedBytes); err != nil {
		return err
	}
	p.removeSpool(exec.ID)
	return nil
}

func (p *Pipeline) spoolPath(executionID string) string {
	return filepath.Join(p.spoolDir, executionID+".spool")
}

func (p *Pipeline) removeSpool(executionID string) {
	if err := os.Remove(p.spoolPath(executionID)); err != nil && !os.IsNotExist(err) {
		p.logger.Warn().Err(err).Str("execution_id", executionID).Msg("spool removal failed")
	}
}

// spool dumps and compresses the datasource into the local spool file
// and returns the raw (pre-compression) byte count. The spool file
// outlives a failed run so uploads can be retried without re-dumping.
func (p *Pipeline) spool(ctx context.Context, ds model.Datasource, driver dump.Driver, job model.BackupJob, exec *model.Execution) (int64, error) {
	if err := os.MkdirAll(p.spoolDir, 0o700); err != nil {
		return 0, fmt.Errorf("create spool dir: %w", err)
	}
	spoolPath := p.spoolPath(exec.ID)
	if err := p.executions.SetSpoolPath(ctx, exec.ID, spoolPath); err != nil {
		return 0, err
	}

	f, err := os.Create(spoolPath)
	if err != nil {
		return 0, fmt.Errorf("create spool: %w", err)
	}
	defer f.Close()

	cw, err := compressWriter(f, job.Options.Compression)
	if err != nil {
		return 0, err
	}

	stream, err := driver.Dump(ctx, ds, dump.Options{
		IncludeFilters: job.Options.IncludeFilters,
		ExcludeFilters: job.Options.ExcludeFilters,
	})
	if err != nil {
		return 0, fmt.Errorf("dump %s: %w", ds.Name, err)
	}

	rawBytes, copyErr := io.Copy(cw, stream)
	if err := stream.Close(); err != nil {
		return 0, fmt.Errorf("dump %s: %w", ds.Name, err)
	}
	if copyErr != nil {
		return 0, fmt.Errorf("spool dump of %s: %w", ds.Name, copyErr)
	}
	if err := cw.Close(); err != nil {
		return 0, fmt.Errorf("flush compression: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync spool: %w", err)
	}
	return rawBytes, nil
}

// chunkSpool splits the spool into content-defined chunks and records
// the manifest. Chunk boundaries come from a rolling hash so an
// unchanged prefix produces identical chunks across runs.
func (p *Pipeline) chunkSpool(ctx context.Context, exec *model.Execution, spoolPath string) ([]model.ExecutionChunk, error) {
	f, err := os.Open(spoolPath)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	ck := chunker.New(f, chunkerPol)
	buf := make([]byte, chunker.MaxSize)

	var chunks []model.ExecutionChunk
	var offset int64
	for n := 1; ; n++ {
		if err := p.checkCancel(ctx, exec.ID); err != nil {
			return nil, err
		}
		chunk, err := ck.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chunk spool: %w", err)
		}

		sum := sha256.Sum256(chunk.Data)
		c := model.ExecutionChunk{
			ExecutionID: exec.ID,
			ChunkNumber: n,
			FilePath:    storage.ChunkPath(exec.DatasourceID, exec.ID, n),
			Offset:      offset,
			SizeBytes:   int64(chunk.Length),
			Checksum:    hex.EncodeToString(sum[:]),
		}
		if err := p.executions.AppendChunk(ctx, c); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
		offset += int64(chunk.Length)
	}
	return chunks, nil
}

// upload writes the chunk set to the job's targets per its storage
// strategy. The execution completes only if the primary target holds a
// full copy.
func (p *Pipeline) upload(ctx context.Context, job model.BackupJob, exec *model.Execution, spoolPath string, chunks []model.ExecutionChunk) error {
	f, err := os.Open(spoolPath)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	switch job.Options.StorageStrategy {
	case model.StrategyFallback:
		return p.uploadFallback(ctx, job, exec, f, chunks)
	default:
		return p.uploadReplicate(ctx, job, exec, f, chunks)
	}
}

// uploadReplicate fans out to every target concurrently. Non-primary
// failures are recorded per target but do not fail the run.
func (p *Pipeline) uploadReplicate(ctx context.Context, job model.BackupJob, exec *model.Execution, spool *os.File, chunks []model.ExecutionChunk) error {
	primary := job.Primary()

	var g errgroup.Group
	errs := make([]error, len(job.Targets))
	for i, target := range job.Targets {
		g.Go(func() error {
			errs[i] = p.uploadTarget(ctx, exec, target, spool, chunks, true)
			return nil
		})
	}
	g.Wait()

	for i, target := range job.Targets {
		if primary != nil && target.StorageLocationID == primary.StorageLocationID && errs[i] != nil {
			if errs[i] == errCancelled {
				return errCancelled
			}
			return fmt.Errorf("primary target failed: %w", errs[i])
		}
	}
	return nil
}

// uploadFallback tries targets in position order and stops at the first
// full success. Later targets are never attempted and only the succeeded
// target is recorded.
func (p *Pipeline) uploadFallback(ctx context.Context, job model.BackupJob, exec *model.Execution, spool *os.File, chunks []model.ExecutionChunk) error {
	var lastErr error
	for _, target := range job.Targets {
		err := p.uploadTarget(ctx, exec, target, spool, chunks, false)
		if err == nil {
			return nil
		}
		if err == errCancelled {
			return errCancelled
		}
		lastErr = err
		p.executions.AppendLog(ctx, exec.ID, "warn",
			fmt.Sprintf("target %s failed, falling back: %v", target.StorageLocationID, err))
	}
	return fmt.Errorf("all fallback targets failed: %w", lastErr)
}

// uploadTarget writes every chunk to one storage location and records
// the per-target outcome on the ledger. Fallback passes
// recordFailures=false: a failed fallback attempt leaves no target row,
// so the backup lists exactly the one location that holds it.
func (p *Pipeline) uploadTarget(ctx context.Context, exec *model.Execution, target model.JobTarget, spool *os.File, chunks []model.ExecutionChunk, recordFailures bool) error {
	result := model.ExecutionTarget{
		ExecutionID:       exec.ID,
		StorageLocationID: target.StorageLocationID,
		Position:          target.Position,
		Status:            model.CopyMissing,
	}

	err := p.uploadChunks(ctx, exec, target.StorageLocationID, spool, chunks)
	switch {
	case err == nil:
		result.Status = model.CopyAvailable
	case err == errCancelled:
		return errCancelled
	default:
		msg := err.Error()
		result.ErrorMessage = &msg
		if errors.Is(err, storage.ErrUnreachable) {
			result.Status = model.CopyUnreachable
		}
	}

	if err == nil || recordFailures {
		if uerr := p.executions.UpsertTarget(ctx, result); uerr != nil {
			p.logger.Error().Err(uerr).Str("execution_id", exec.ID).Msg("record target outcome failed")
		}
	}
	return err
}

func (p *Pipeline) uploadChunks(ctx context.Context, exec *model.Execution, locationID string, spool *os.File, chunks []model.ExecutionChunk) error {
	loc, err := p.locations.GetByID(ctx, locationID)
	if err != nil {
		return err
	}
	backend, err := p.open(*loc)
	if err != nil {
		return fmt.Errorf("open %s: %w", loc.Name, err)
	}

	for _, c := range chunks {
		if err := p.checkCancel(ctx, exec.ID); err != nil {
			return err
		}
		if err := p.putChunk(ctx, backend, spool, c); err != nil {
			return fmt.Errorf("upload chunk %d to %s: %w", c.ChunkNumber, loc.Name, err)
		}
		metrics.BytesUploaded.WithLabelValues(loc.Backend).Add(float64(c.SizeBytes))
	}
	return nil
}

// putChunk uploads one chunk with capped exponential backoff and
// verifies the backend saw the same bytes we read from the spool.
func (p *Pipeline) putChunk(ctx context.Context, backend storage.Backend, spool *os.File, c model.ExecutionChunk) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)

	return backoff.Retry(func() error {
		section := io.NewSectionReader(spool, c.Offset, c.SizeBytes)
		res, err := backend.Put(ctx, section, c.FilePath)
		if err != nil {
			if errors.Is(err, storage.ErrCapacity) {
				return backoff.Permanent(err)
			}
			return err
		}
		if res.Checksum != c.Checksum {
			return backoff.Permanent(fmt.Errorf("chunk %d checksum mismatch after upload", c.ChunkNumber))
		}
		return nil
	}, policy)
}

// checkCancel polls the advisory cancellation flag. Called between chunk
// boundaries and between targets, never mid-write.
func (p *Pipeline) checkCancel(ctx context.Context, executionID string) error {
	if ctx.Err() != nil {
		return errCancelled
	}
	cancelled, err := p.executions.CancelRequested(ctx, executionID)
	if err != nil {
		return err
	}
	if cancelled {
		return errCancelled
	}
	return nil
}
