package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/storage"
)

// ---------- Compression ----------

func TestCompressRoundTrip(t *testing.T) {
	payload := strings.Repeat("pg_dump output line\n", 500)

	for _, compression := range []string{model.CompressionNone, model.CompressionGzip, model.CompressionZstd} {
		t.Run(compression, func(t *testing.T) {
			var buf bytes.Buffer
			cw, err := compressWriter(&buf, compression)
			require.NoError(t, err)
			_, err = io.WriteString(cw, payload)
			require.NoError(t, err)
			require.NoError(t, cw.Close())

			// The reader side sniffs the codec from magic bytes instead
			// of being told.
			r, err := decompressReader(&buf)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))
		})
	}
}

func TestCompressWriter_UnknownCodec(t *testing.T) {
	_, err := compressWriter(io.Discard, "lz4")
	require.Error(t, err)
}

func TestDecompressReader_EmptyStream(t *testing.T) {
	r, err := decompressReader(bytes.NewReader(nil))
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// ---------- Chunk streaming ----------

// memBackend is an in-memory Backend for streaming tests.
type memBackend struct {
	objects map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte)}
}

func (b *memBackend) Put(ctx context.Context, r io.Reader, path string) (storage.PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.PutResult{}, err
	}
	b.objects[path] = data
	sum := sha256.Sum256(data)
	return storage.PutResult{BytesWritten: int64(len(data)), Checksum: hex.EncodeToString(sum[:])}, nil
}

func (b *memBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	data, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, storage.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBackend) Delete(ctx context.Context, prefix string) ([]string, error) {
	var deleted []string
	for path := range b.objects {
		if strings.HasPrefix(path, prefix) {
			delete(b.objects, path)
			deleted = append(deleted, path)
		}
	}
	return deleted, nil
}

func (b *memBackend) List(ctx context.Context, prefix string) ([]storage.Entry, error) {
	var entries []storage.Entry
	for path, data := range b.objects {
		if strings.HasPrefix(path, prefix) {
			entries = append(entries, storage.Entry{Path: path, SizeBytes: int64(len(data))})
		}
	}
	return entries, nil
}

func (b *memBackend) Check(ctx context.Context) (storage.CheckResult, error) {
	return storage.CheckResult{Status: model.StorageHealthy}, nil
}

func putChunks(t *testing.T, b *memBackend, parts ...string) []model.ExecutionChunk {
	t.Helper()
	chunks := make([]model.ExecutionChunk, len(parts))
	for i, part := range parts {
		path := storage.ChunkPath("ds-1", "exec-1", i)
		res, err := b.Put(context.Background(), strings.NewReader(part), path)
		require.NoError(t, err)
		chunks[i] = model.ExecutionChunk{
			ExecutionID: "exec-1",
			ChunkNumber: i,
			FilePath:    path,
			SizeBytes:   res.BytesWritten,
			Checksum:    res.Checksum,
		}
	}
	return chunks
}

func TestChunkStream_ReassemblesInOrder(t *testing.T) {
	b := newMemBackend()
	chunks := putChunks(t, b, "alpha ", "beta ", "gamma")

	stream := newChunkStream(context.Background(), b, chunks)
	defer stream.Close()

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "alpha beta gamma", string(got))
}

func TestChunkStream_ChecksumMismatch(t *testing.T) {
	b := newMemBackend()
	chunks := putChunks(t, b, "alpha ", "beta ", "gamma")

	// Corrupt the middle chunk after the manifest was recorded.
	b.objects[chunks[1].FilePath] = []byte("BETA ")

	stream := newChunkStream(context.Background(), b, chunks)
	defer stream.Close()

	_, err := io.ReadAll(stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.Contains(t, err.Error(), "chunk 1")
}

func TestChunkStream_MissingChunk(t *testing.T) {
	b := newMemBackend()
	chunks := putChunks(t, b, "alpha ", "beta ")
	delete(b.objects, chunks[1].FilePath)

	stream := newChunkStream(context.Background(), b, chunks)
	defer stream.Close()

	_, err := io.ReadAll(stream)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChunkStream_Empty(t *testing.T) {
	stream := newChunkStream(context.Background(), newMemBackend(), nil)
	defer stream.Close()

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Empty(t, got)
}
