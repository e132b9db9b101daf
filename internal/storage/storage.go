// Package storage provides a uniform adapter over physically different
// backup storage backends. Callers never branch on backend type; a
// Backend is selected once per storage location via Open.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sorenh/backupd/internal/model"
)

// Error kinds surfaced by backends. Wrapped with %w so callers can
// classify with errors.Is.
var (
	// ErrNotFound means the requested object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrCapacity means the backend is out of space.
	ErrCapacity = errors.New("storage capacity exhausted")
	// ErrUnreachable means the backend cannot be reached or refused
	// authentication.
	ErrUnreachable = errors.New("storage unreachable")
)

type PutResult struct {
	BytesWritten int64
	Checksum     string
}

type Entry struct {
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

type CheckResult struct {
	Status           string
	Latency          time.Duration
	AvailableSpaceGB *float64
}

// Backend is the uniform capability surface over a storage location.
// Put and Delete are idempotent on retry with the same path; Get on a
// missing object fails with ErrNotFound.
type Backend interface {
	Put(ctx context.Context, r io.Reader, path string) (PutResult, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, prefix string) ([]string, error)
	List(ctx context.Context, prefix string) ([]Entry, error)
	Check(ctx context.Context) (CheckResult, error)
}

// Factory builds a Backend for a storage location. It exists so the
// pipeline can be tested against fakes.
type Factory func(loc model.StorageLocation) (Backend, error)

// Open selects the Backend implementation for a location's backend
// type. This is the only place backend types are dispatched on.
func Open(loc model.StorageLocation) (Backend, error) {
	switch loc.Backend {
	case model.BackendLocal:
		return newLocal(loc.Config)
	case model.BackendSFTP:
		return newSFTP(loc.Config)
	case model.BackendS3:
		return newS3(loc.Config)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", loc.Backend)
	}
}

// StatusFor maps a check error to the storage location status it
// implies.
func StatusFor(err error) string {
	switch {
	case err == nil:
		return model.StorageHealthy
	case errors.Is(err, ErrCapacity):
		return model.StorageFull
	default:
		return model.StorageUnreachable
	}
}
