package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/storage"
)

// ---------- Upload strategies ----------

// fakeLedger records target and log writes. Replicate uploads targets
// concurrently, so writes are guarded.
type fakeLedger struct {
	mu      sync.Mutex
	targets []model.ExecutionTarget
	logs    []string
}

func (f *fakeLedger) UpsertTarget(ctx context.Context, t model.ExecutionTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, t)
	return nil
}

func (f *fakeLedger) AppendLog(ctx context.Context, executionID, level, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, message)
	return nil
}

func (f *fakeLedger) CancelRequested(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (f *fakeLedger) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	return nil, nil
}

func (f *fakeLedger) ClaimRestore(ctx context.Context, datasourceID string) (*model.Execution, error) {
	return nil, nil
}

func (f *fakeLedger) Complete(ctx context.Context, id string, sizeBytes, compressedBytes int64) error {
	return nil
}

func (f *fakeLedger) Fail(ctx context.Context, id string, cause error) error { return nil }

func (f *fakeLedger) MarkCancelled(ctx context.Context, id string) error { return nil }

func (f *fakeLedger) SetSpoolPath(ctx context.Context, id, path string) error { return nil }

func (f *fakeLedger) AppendChunk(ctx context.Context, c model.ExecutionChunk) error { return nil }

func (f *fakeLedger) recorded() []model.ExecutionTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ExecutionTarget(nil), f.targets...)
}

type fakeLocations struct {
	byID map[string]*model.StorageLocation
}

func (f *fakeLocations) GetByID(ctx context.Context, id string) (*model.StorageLocation, error) {
	loc, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return loc, nil
}

// fullBackend rejects every write with a capacity error, which the
// upload path treats as permanent.
type fullBackend struct {
	*memBackend
}

func (b *fullBackend) Put(ctx context.Context, r io.Reader, path string) (storage.PutResult, error) {
	return storage.PutResult{}, storage.ErrCapacity
}

// strategyHarness wires a Pipeline whose storage factory dispenses the
// given backends and records which locations it was asked to open.
type strategyHarness struct {
	ledger   *fakeLedger
	backends map[string]storage.Backend

	mu     sync.Mutex
	opened []string
}

func newStrategyHarness(backends map[string]storage.Backend) *strategyHarness {
	return &strategyHarness{ledger: &fakeLedger{}, backends: backends}
}

func (h *strategyHarness) pipeline() *Pipeline {
	locations := &fakeLocations{byID: make(map[string]*model.StorageLocation)}
	for id := range h.backends {
		locations.byID[id] = &model.StorageLocation{ID: id, Name: id, Backend: model.BackendLocal}
	}
	return &Pipeline{
		executions: h.ledger,
		locations:  locations,
		open: func(loc model.StorageLocation) (storage.Backend, error) {
			h.mu.Lock()
			h.opened = append(h.opened, loc.ID)
			h.mu.Unlock()
			return h.backends[loc.ID], nil
		},
		logger: zerolog.Nop(),
	}
}

func (h *strategyHarness) openedLocations() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.opened...)
}

// spoolFixture writes a one-chunk spool file and its manifest.
func spoolFixture(t *testing.T, exec *model.Execution, payload string) (*os.File, []model.ExecutionChunk) {
	t.Helper()
	path := filepath.Join(t.TempDir(), exec.ID+".spool")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	sum := sha256.Sum256([]byte(payload))
	return f, []model.ExecutionChunk{{
		ExecutionID: exec.ID,
		ChunkNumber: 1,
		FilePath:    storage.ChunkPath(exec.DatasourceID, exec.ID, 1),
		SizeBytes:   int64(len(payload)),
		Checksum:    hex.EncodeToString(sum[:]),
	}}
}

func strategyJob(strategy string, locationIDs ...string) model.BackupJob {
	job := model.BackupJob{
		ID:      "job-1",
		Options: model.BackupOptions{StorageStrategy: strategy},
	}
	for i, id := range locationIDs {
		job.Targets = append(job.Targets, model.JobTarget{
			StorageLocationID: id,
			Position:          i + 1,
			Replicate:         i == 0,
		})
	}
	return job
}

func TestUploadFallback_RecordsOnlySucceededTarget(t *testing.T) {
	good := newMemBackend()
	h := newStrategyHarness(map[string]storage.Backend{
		"loc-1": &fullBackend{newMemBackend()},
		"loc-2": &fullBackend{newMemBackend()},
		"loc-3": good,
	})
	exec := &model.Execution{ID: "exec-1", DatasourceID: "ds-1"}
	spool, chunks := spoolFixture(t, exec, "pg_dump output")
	job := strategyJob(model.StrategyFallback, "loc-1", "loc-2", "loc-3")

	err := h.pipeline().uploadFallback(context.Background(), job, exec, spool, chunks)
	require.NoError(t, err)

	// Failed attempts leave no target row, only a log line.
	targets := h.ledger.recorded()
	require.Len(t, targets, 1)
	assert.Equal(t, "loc-3", targets[0].StorageLocationID)
	assert.Equal(t, model.CopyAvailable, targets[0].Status)
	assert.Len(t, h.ledger.logs, 2)

	_, ok := good.objects[chunks[0].FilePath]
	assert.True(t, ok)
}

func TestUploadFallback_StopsAtFirstSuccess(t *testing.T) {
	h := newStrategyHarness(map[string]storage.Backend{
		"loc-1": newMemBackend(),
		"loc-2": newMemBackend(),
	})
	exec := &model.Execution{ID: "exec-1", DatasourceID: "ds-1"}
	spool, chunks := spoolFixture(t, exec, "pg_dump output")
	job := strategyJob(model.StrategyFallback, "loc-1", "loc-2")

	err := h.pipeline().uploadFallback(context.Background(), job, exec, spool, chunks)
	require.NoError(t, err)

	assert.Equal(t, []string{"loc-1"}, h.openedLocations())
	targets := h.ledger.recorded()
	require.Len(t, targets, 1)
	assert.Equal(t, "loc-1", targets[0].StorageLocationID)
}

func TestUploadFallback_AllTargetsFail(t *testing.T) {
	h := newStrategyHarness(map[string]storage.Backend{
		"loc-1": &fullBackend{newMemBackend()},
		"loc-2": &fullBackend{newMemBackend()},
	})
	exec := &model.Execution{ID: "exec-1", DatasourceID: "ds-1"}
	spool, chunks := spoolFixture(t, exec, "pg_dump output")
	job := strategyJob(model.StrategyFallback, "loc-1", "loc-2")

	err := h.pipeline().uploadFallback(context.Background(), job, exec, spool, chunks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all fallback targets failed")
	assert.Empty(t, h.ledger.recorded())
}

func TestUploadReplicate_SecondaryFailureDoesNotFailRun(t *testing.T) {
	primary := newMemBackend()
	h := newStrategyHarness(map[string]storage.Backend{
		"loc-1": primary,
		"loc-2": &fullBackend{newMemBackend()},
	})
	exec := &model.Execution{ID: "exec-1", DatasourceID: "ds-1"}
	spool, chunks := spoolFixture(t, exec, "pg_dump output")
	job := strategyJob(model.StrategyReplicate, "loc-1", "loc-2")

	err := h.pipeline().uploadReplicate(context.Background(), job, exec, spool, chunks)
	require.NoError(t, err)

	// Both outcomes land on the ledger, success and failure alike.
	targets := h.ledger.recorded()
	require.Len(t, targets, 2)
	byLocation := make(map[string]model.ExecutionTarget, len(targets))
	for _, target := range targets {
		byLocation[target.StorageLocationID] = target
	}
	assert.Equal(t, model.CopyAvailable, byLocation["loc-1"].Status)
	assert.Equal(t, model.CopyMissing, byLocation["loc-2"].Status)
	require.NotNil(t, byLocation["loc-2"].ErrorMessage)

	_, ok := primary.objects[chunks[0].FilePath]
	assert.True(t, ok)
}

func TestUploadReplicate_PrimaryFailureFailsRun(t *testing.T) {
	h := newStrategyHarness(map[string]storage.Backend{
		"loc-1": &fullBackend{newMemBackend()},
		"loc-2": newMemBackend(),
	})
	exec := &model.Execution{ID: "exec-1", DatasourceID: "ds-1"}
	spool, chunks := spoolFixture(t, exec, "pg_dump output")
	job := strategyJob(model.StrategyReplicate, "loc-1", "loc-2")

	err := h.pipeline().uploadReplicate(context.Background(), job, exec, spool, chunks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary target failed")
}
