// Package pipeline runs backup and restore executions end to end: dump,
// compress, chunk, replicate, and the reverse path with integrity
// verification.
package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/sorenh/backupd/internal/core"
	"github.com/sorenh/backupd/internal/dump"
	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/retention"
	"github.com/sorenh/backupd/internal/storage"
)

// executionLedger is the slice of the execution service the pipeline
// records runs through. *core.ExecutionService satisfies it; tests
// substitute a fake.
type executionLedger interface {
	GetByID(ctx context.Context, id string) (*model.Execution, error)
	ClaimRestore(ctx context.Context, datasourceID string) (*model.Execution, error)
	Complete(ctx context.Context, id string, sizeBytes, compressedBytes int64) error
	Fail(ctx context.Context, id string, cause error) error
	MarkCancelled(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
	SetSpoolPath(ctx context.Context, id, path string) error
	AppendChunk(ctx context.Context, c model.ExecutionChunk) error
	AppendLog(ctx context.Context, executionID, level, message string) error
	UpsertTarget(ctx context.Context, t model.ExecutionTarget) error
}

// locationGetter resolves storage locations for uploads and fetches.
type locationGetter interface {
	GetByID(ctx context.Context, id string) (*model.StorageLocation, error)
}

// Pipeline executes backup and restore runs against the ledger. One
// Pipeline instance serves all concurrent runs; it keeps no per-run
// state.
type Pipeline struct {
	executions executionLedger
	locations  locationGetter
	sources    *core.DatasourceService
	jobs       *core.BackupJobService
	drivers    *dump.Registry
	retention  *retention.Engine
	open       storage.Factory
	spoolDir   string
	logger     zerolog.Logger
}

func New(services *core.Services, drivers *dump.Registry, ret *retention.Engine, open storage.Factory, spoolDir string, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		executions: services.Execution,
		locations:  services.StorageLocation,
		sources:    services.Datasource,
		jobs:       services.BackupJob,
		drivers:    drivers,
		retention:  ret,
		open:       open,
		spoolDir:   spoolDir,
		logger:     logger,
	}
}

// errCancelled marks a run stopped by a cooperative cancellation check.
var errCancelled = fmt.Errorf("execution cancelled")

// compressWriter wraps w with the configured compression codec.
func compressWriter(w io.Writer, compression string) (io.WriteCloser, error) {
	switch compression {
	case model.CompressionGzip:
		return gzip.NewWriter(w), nil
	case model.CompressionZstd:
		return zstd.NewWriter(w)
	case model.CompressionNone, "":
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("unknown compression %q", compression)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// decompressReader sniffs the stream's magic bytes and wraps it with the
// matching decompressor, so restores do not depend on the job definition
// still existing.
func decompressReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("sniff compression: %w", err)
	}
	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		return gzip.NewReader(br)
	case bytes.Equal(magic, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return zr.IOReadCloser(), nil
	}
	return br, nil
}

// chunkStream reads a backup's chunks from a backend in order,
// re-verifying each stored checksum as the bytes stream through. A
// mismatch surfaces before the corrupt chunk's final byte is consumed
// downstream.
type chunkStream struct {
	ctx     context.Context
	backend storage.Backend
	chunks  []model.ExecutionChunk

	current io.ReadCloser
	hash    hash.Hash
	index   int
}

func newChunkStream(ctx context.Context, backend storage.Backend, chunks []model.ExecutionChunk) *chunkStream {
	return &chunkStream{ctx: ctx, backend: backend, chunks: chunks}
}

func (s *chunkStream) Read(p []byte) (int, error) {
	for {
		if s.current == nil {
			if s.index >= len(s.chunks) {
				return 0, io.EOF
			}
			rc, err := s.backend.Get(s.ctx, s.chunks[s.index].FilePath)
			if err != nil {
				return 0, fmt.Errorf("fetch chunk %d: %w", s.chunks[s.index].ChunkNumber, err)
			}
			s.current = rc
			s.hash = sha256.New()
		}

		n, err := s.current.Read(p)
		if n > 0 {
			s.hash.Write(p[:n])
		}
		if err == io.EOF {
			chunk := s.chunks[s.index]
			got := hex.EncodeToString(s.hash.Sum(nil))
			s.current.Close()
			s.current = nil
			s.index++
			if got != chunk.Checksum {
				return n, fmt.Errorf("chunk %d checksum mismatch: stored %s, got %s",
					chunk.ChunkNumber, chunk.Checksum, got)
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *chunkStream) Close() error {
	if s.current != nil {
		return s.current.Close()
	}
	return nil
}
