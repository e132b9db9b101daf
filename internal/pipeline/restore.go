package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sorenh/backupd/internal/dump"
	"github.com/sorenh/backupd/internal/metrics"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/platform"
	"github.com/sorenh/backupd/internal/storage"
)

// Confirmation phrases typed by the operator. Matched exactly, before
// any data movement.
const (
	PhraseRestore      = "RESTAURAR"
	PhraseVerification = "VERIFICAR RESTORE"
)

// RestoreRequest carries everything needed to run a restore.
type RestoreRequest struct {
	ExecutionID        string
	DatasourceID       string
	StorageLocationID  string
	DropExisting       bool
	VerificationMode   bool
	KeepVerification   bool
	ConfirmationPhrase string
}

// ErrConfirmation rejects a restore whose confirmation phrase does not
// match the requested mode.
var ErrConfirmation = fmt.Errorf("confirmation phrase does not match")

// ValidatePhrase checks the confirmation phrase against the requested
// mode. Called again inside StartRestore so no caller can skip it.
func (r RestoreRequest) ValidatePhrase() error {
	want := PhraseRestore
	if r.VerificationMode {
		want = PhraseVerification
	}
	if r.ConfirmationPhrase != want {
		return ErrConfirmation
	}
	return nil
}

// StartRestore validates the request, claims the target datasource's
// exclusion slot and launches the restore in its own goroutine. The
// returned execution is already running; callers poll the ledger for the
// outcome.
func (p *Pipeline) StartRestore(ctx context.Context, req RestoreRequest) (*model.Execution, error) {
	if err := req.ValidatePhrase(); err != nil {
		return nil, err
	}

	source, err := p.executions.GetByID(ctx, req.ExecutionID)
	if err != nil {
		return nil, err
	}
	if source.Operation != model.OperationBackup || source.Status != model.ExecutionCompleted {
		return nil, fmt.Errorf("execution %s is not a completed backup", source.ID)
	}
	if source.PrunedAt != nil {
		return nil, fmt.Errorf("execution %s was pruned; its bytes are gone", source.ID)
	}
	if len(source.Chunks) == 0 {
		return nil, fmt.Errorf("execution %s has no chunk manifest", source.ID)
	}

	target, err := p.sources.GetByID(ctx, req.DatasourceID)
	if err != nil {
		return nil, err
	}

	backend, err := p.selectBackend(ctx, source, req.StorageLocationID)
	if err != nil {
		return nil, err
	}

	exec, err := p.executions.ClaimRestore(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	go p.runRestore(context.WithoutCancel(ctx), req, source, *target, backend, exec)
	return exec, nil
}

// selectBackend resolves where to fetch the backup from: an explicit
// selection if given, else the first available binding in position
// order.
func (p *Pipeline) selectBackend(ctx context.Context, source *model.Execution, locationID string) (storage.Backend, error) {
	if locationID == "" {
		for _, t := range source.Targets {
			if t.Status == model.CopyAvailable {
				locationID = t.StorageLocationID
				break
			}
		}
		if locationID == "" {
			return nil, fmt.Errorf("execution %s has no available copy", source.ID)
		}
	}

	loc, err := p.locations.GetByID(ctx, locationID)
	if err != nil {
		return nil, err
	}
	backend, err := p.open(*loc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", loc.Name, err)
	}
	return backend, nil
}

func (p *Pipeline) runRestore(ctx context.Context, req RestoreRequest, source *model.Execution, target model.Datasource, backend storage.Backend, exec *model.Execution) {
	started := time.Now()
	log := p.logger.With().Str("execution_id", exec.ID).Str("source_execution_id", source.ID).Logger()

	err := p.restore(ctx, req, source, target, backend, exec, log)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues(model.OperationRestore, model.ExecutionFailed).Inc()
		p.executions.AppendLog(ctx, exec.ID, "error", err.Error())
		if ferr := p.executions.Fail(ctx, exec.ID, err); ferr != nil {
			log.Error().Err(ferr).Msg("fail transition failed")
		}
		log.Error().Err(err).Msg("restore failed")
		return
	}

	metrics.ExecutionsTotal.WithLabelValues(model.OperationRestore, model.ExecutionCompleted).Inc()
	if err := p.executions.Complete(ctx, exec.ID, source.SizeBytes, source.CompressedSizeBytes); err != nil {
		log.Error().Err(err).Msg("complete transition failed")
		return
	}
	log.Info().Dur("elapsed", time.Since(started)).Msg("restore completed")
}

func (p *Pipeline) restore(ctx context.Context, req RestoreRequest, source *model.Execution, target model.Datasource, backend storage.Backend, exec *model.Execution, log zerolog.Logger) error {
	driver, err := p.drivers.ForEngine(target.Engine)
	if err != nil {
		return err
	}

	stream := newChunkStream(ctx, backend, source.Chunks)
	defer stream.Close()

	plain, err := decompressReader(stream)
	if err != nil {
		return err
	}

	if req.VerificationMode {
		return p.restoreVerification(ctx, req, target, driver, plain, exec, log)
	}

	p.executions.AppendLog(ctx, exec.ID, "info",
		fmt.Sprintf("restoring backup %s into %s", source.ID, target.Name))
	if err := driver.Restore(ctx, target, plain, dump.RestoreOptions{DropExisting: req.DropExisting}); err != nil {
		return fmt.Errorf("restore into %s: %w", target.Name, err)
	}
	return nil
}

// restoreVerification restores into a freshly provisioned disposable
// database on the target's engine instance. The production datasource is
// never written.
func (p *Pipeline) restoreVerification(ctx context.Context, req RestoreRequest, target model.Datasource, driver dump.Driver, plain io.Reader, exec *model.Execution, log zerolog.Logger) error {
	name := verificationName(target)
	if err := driver.CreateDatabase(ctx, target, name); err != nil {
		return fmt.Errorf("provision verification database %s: %w", name, err)
	}
	p.executions.AppendLog(ctx, exec.ID, "info",
		fmt.Sprintf("verification restore into disposable database %s", name))

	err := driver.Restore(ctx, target, plain, dump.RestoreOptions{DatabaseName: name, DropExisting: true})

	if req.KeepVerification {
		log.Info().Str("database", name).Msg("verification database kept")
	} else if derr := driver.DropDatabase(ctx, target, name); derr != nil {
		log.Error().Err(derr).Str("database", name).Msg("verification database teardown failed")
	}

	if err != nil {
		return fmt.Errorf("verification restore into %s: %w", name, err)
	}
	return nil
}

func verificationName(ds model.Datasource) string {
	base := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, ds.DatabaseName)
	if base == "" {
		base = "data"
	}
	return fmt.Sprintf("verify_%s_%s", base, platform.NewSuffix())
}
