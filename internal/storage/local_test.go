package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenh/backupd/internal/model"
)

func newTestLocal(t *testing.T) Backend {
	t.Helper()
	b, err := newLocal(model.StorageConfig{Path: t.TempDir()})
	require.NoError(t, err)
	return b
}

func TestLocal_RequiresPath(t *testing.T) {
	_, err := newLocal(model.StorageConfig{})
	require.Error(t, err)
}

func TestLocal_PutGetRoundTrip(t *testing.T) {
	b := newTestLocal(t)
	ctx := context.Background()

	payload := "chunk payload bytes"
	res, err := b.Put(ctx, strings.NewReader(payload), "ds-1/exec-1/chunk-000000")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), res.BytesWritten)

	sum := sha256.Sum256([]byte(payload))
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Checksum)

	rc, err := b.Get(ctx, "ds-1/exec-1/chunk-000000")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestLocal_PutOverwriteIsIdempotent(t *testing.T) {
	b := newTestLocal(t)
	ctx := context.Background()

	_, err := b.Put(ctx, strings.NewReader("first"), "p/chunk")
	require.NoError(t, err)
	_, err = b.Put(ctx, strings.NewReader("second"), "p/chunk")
	require.NoError(t, err)

	rc, err := b.Get(ctx, "p/chunk")
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "second", string(got))
}

func TestLocal_GetMissing(t *testing.T) {
	b := newTestLocal(t)

	_, err := b.Get(context.Background(), "ds-1/missing/chunk-000000")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_DeletePrefix(t *testing.T) {
	b := newTestLocal(t)
	ctx := context.Background()

	for _, p := range []string{"ds-1/exec-1/chunk-000000", "ds-1/exec-1/chunk-000001", "ds-1/exec-2/chunk-000000"} {
		_, err := b.Put(ctx, strings.NewReader("x"), p)
		require.NoError(t, err)
	}

	deleted, err := b.Delete(ctx, "ds-1/exec-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ds-1/exec-1/chunk-000000", "ds-1/exec-1/chunk-000001"}, deleted)

	// The sibling execution is untouched.
	_, err = b.Get(ctx, "ds-1/exec-2/chunk-000000")
	require.NoError(t, err)

	// Deleting again is a no-op, not an error.
	deleted, err = b.Delete(ctx, "ds-1/exec-1")
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestLocal_ListPrefix(t *testing.T) {
	b := newTestLocal(t)
	ctx := context.Background()

	_, err := b.Put(ctx, strings.NewReader("abcd"), "ds-1/exec-1/chunk-000000")
	require.NoError(t, err)

	entries, err := b.List(ctx, "ds-1/exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ds-1/exec-1/chunk-000000", entries[0].Path)
	assert.Equal(t, int64(4), entries[0].SizeBytes)

	entries, err = b.List(ctx, "ds-1/never-ran")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocal_Check(t *testing.T) {
	b := newTestLocal(t)

	res, err := b.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StorageHealthy, res.Status)
	require.NotNil(t, res.AvailableSpaceGB)
	assert.Greater(t, *res.AvailableSpaceGB, 0.0)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, model.StorageHealthy, StatusFor(nil))
	assert.Equal(t, model.StorageFull, StatusFor(ErrCapacity))
	assert.Equal(t, model.StorageUnreachable, StatusFor(ErrUnreachable))
}

func TestExecutionPrefixAndChunkPath(t *testing.T) {
	assert.Equal(t, "ds-1/exec-1", ExecutionPrefix("ds-1", "exec-1"))
	assert.Equal(t, "ds-1/exec-1/chunk-000007", ChunkPath("ds-1", "exec-1", 7))
}
