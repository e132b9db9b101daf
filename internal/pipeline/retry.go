package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sorenh/backupd/internal/metrics"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/storage"
)

// RetryUpload re-sends the chunks of targets that hold no full copy of
// an execution. Chunk bytes come from the retained spool file when it
// still exists, else from any target that does hold a full copy. The
// execution's status is never changed; only its per-target bindings are
// repaired.
func (p *Pipeline) RetryUpload(ctx context.Context, executionID string) error {
	exec, err := p.executions.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Operation != model.OperationBackup {
		return fmt.Errorf("execution %s is not a backup", executionID)
	}
	if exec.Status == model.ExecutionRunning || exec.Status == model.ExecutionQueued {
		return fmt.Errorf("execution %s is still active", executionID)
	}
	if len(exec.Chunks) == 0 {
		return fmt.Errorf("execution %s has no chunk manifest", executionID)
	}
	if exec.JobID == nil {
		return fmt.Errorf("execution %s has no job; nothing to replicate against", executionID)
	}

	job, err := p.jobs.GetByID(ctx, *exec.JobID)
	if err != nil {
		return err
	}

	source, err := p.chunkSource(ctx, exec)
	if err != nil {
		return err
	}
	defer source.close()

	available := make(map[string]bool)
	for _, t := range exec.Targets {
		if t.Status == model.CopyAvailable {
			available[t.StorageLocationID] = true
		}
	}

	var repaired int
	for _, target := range job.Targets {
		if available[target.StorageLocationID] {
			continue
		}
		if err := p.retryTarget(ctx, exec, target, source); err != nil {
			return err
		}
		repaired++
	}
	if repaired == 0 {
		return fmt.Errorf("execution %s has no missing copies", executionID)
	}
	return nil
}

func (p *Pipeline) retryTarget(ctx context.Context, exec *model.Execution, target model.JobTarget, source *chunkSource) error {
	loc, err := p.locations.GetByID(ctx, target.StorageLocationID)
	if err != nil {
		return err
	}
	backend, err := p.open(*loc)
	if err != nil {
		return fmt.Errorf("open %s: %w", loc.Name, err)
	}

	// Skip chunks the target already holds from the failed attempt.
	present := make(map[string]bool)
	entries, err := backend.List(ctx, storage.ExecutionPrefix(exec.DatasourceID, exec.ID))
	if err == nil {
		for _, e := range entries {
			present[e.Path] = true
		}
	}

	for _, c := range exec.Chunks {
		if present[c.FilePath] {
			continue
		}
		r, err := source.chunk(c)
		if err != nil {
			return err
		}
		res, err := backend.Put(ctx, r, c.FilePath)
		source.release(r)
		if err != nil {
			return fmt.Errorf("upload chunk %d to %s: %w", c.ChunkNumber, loc.Name, err)
		}
		if res.Checksum != c.Checksum {
			return fmt.Errorf("chunk %d checksum mismatch after upload to %s", c.ChunkNumber, loc.Name)
		}
		metrics.BytesUploaded.WithLabelValues(loc.Backend).Add(float64(c.SizeBytes))
	}

	p.executions.AppendLog(ctx, exec.ID, "info",
		fmt.Sprintf("retry-upload restored copy on %s", loc.Name))
	return p.executions.UpsertTarget(ctx, model.ExecutionTarget{
		ExecutionID:       exec.ID,
		StorageLocationID: target.StorageLocationID,
		Position:          target.Position,
		Status:            model.CopyAvailable,
	})
}

// chunkSource serves individual chunk payloads either from the local
// spool file or from a donor backend holding a full copy.
type chunkSource struct {
	spool   *os.File
	backend storage.Backend
	ctx     context.Context
}

func (p *Pipeline) chunkSource(ctx context.Context, exec *model.Execution) (*chunkSource, error) {
	if exec.SpoolPath != nil {
		f, err := os.Open(*exec.SpoolPath)
		if err == nil {
			return &chunkSource{spool: f}, nil
		}
		p.logger.Warn().Err(err).Str("execution_id", exec.ID).Msg("spool unavailable, falling back to donor copy")
	}

	for _, t := range exec.Targets {
		if t.Status != model.CopyAvailable {
			continue
		}
		loc, err := p.locations.GetByID(ctx, t.StorageLocationID)
		if err != nil {
			continue
		}
		backend, err := p.open(*loc)
		if err != nil {
			continue
		}
		return &chunkSource{backend: backend, ctx: ctx}, nil
	}
	return nil, fmt.Errorf("execution %s: no spool file and no available donor copy", exec.ID)
}

func (s *chunkSource) chunk(c model.ExecutionChunk) (io.Reader, error) {
	if s.spool != nil {
		return io.NewSectionReader(s.spool, c.Offset, c.SizeBytes), nil
	}
	stream := newChunkStream(s.ctx, s.backend, []model.ExecutionChunk{c})
	return stream, nil
}

func (s *chunkSource) release(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
}

func (s *chunkSource) close() {
	if s.spool != nil {
		s.spool.Close()
	}
}
