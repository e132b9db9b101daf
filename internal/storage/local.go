package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sorenh/backupd/internal/model"
)

// Below this much free space the location reports full instead of
// accepting writes that would fail midway.
const localMinFreeBytes = 256 << 20

type localBackend struct {
	base string
}

func newLocal(cfg model.StorageConfig) (Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("local backend: path is required")
	}
	return &localBackend{base: cfg.Path}, nil
}

func (b *localBackend) abs(path string) string {
	return filepath.Join(b.base, filepath.FromSlash(path))
}

func (b *localBackend) Put(ctx context.Context, r io.Reader, path string) (PutResult, error) {
	dst := b.abs(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return PutResult{}, classifyLocal(fmt.Errorf("mkdir for %s: %w", path, err))
	}

	// Write to a temp file and rename so a retried Put never observes a
	// half-written object.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return PutResult{}, classifyLocal(fmt.Errorf("create temp for %s: %w", path, err))
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return PutResult{}, classifyLocal(fmt.Errorf("write %s: %w", path, err))
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return PutResult{}, classifyLocal(fmt.Errorf("rename %s: %w", path, err))
	}

	return PutResult{BytesWritten: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

func (b *localBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(b.abs(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("get %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return f, nil
}

func (b *localBackend) Delete(ctx context.Context, prefix string) ([]string, error) {
	root := b.abs(prefix)
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		// Already absent; deletion is idempotent.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", prefix, err)
	}

	if !info.IsDir() {
		if err := os.Remove(root); err != nil {
			return nil, fmt.Errorf("remove %s: %w", prefix, err)
		}
		return []string{prefix}, nil
	}

	var deleted []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(b.base, p)
		deleted = append(deleted, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", prefix, err)
	}
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("remove %s: %w", prefix, err)
	}
	return deleted, nil
}

func (b *localBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	root := b.abs(prefix)
	var entries []Entry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return filepath.SkipAll
		}
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(b.base, p)
		entries = append(entries, Entry{
			Path:      filepath.ToSlash(rel),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return entries, nil
}

func (b *localBackend) Check(ctx context.Context) (CheckResult, error) {
	start := time.Now()
	if err := os.MkdirAll(b.base, 0o750); err != nil {
		return CheckResult{Status: model.StorageUnreachable, Latency: time.Since(start)},
			fmt.Errorf("check %s: %w", b.base, ErrUnreachable)
	}

	var st unix.Statfs_t
	if err := unix.Statfs(b.base, &st); err != nil {
		return CheckResult{Status: model.StorageUnreachable, Latency: time.Since(start)},
			fmt.Errorf("statfs %s: %w", b.base, ErrUnreachable)
	}

	avail := int64(st.Bavail) * st.Bsize
	availGB := float64(avail) / (1 << 30)
	res := CheckResult{
		Status:           model.StorageHealthy,
		Latency:          time.Since(start),
		AvailableSpaceGB: &availGB,
	}
	if avail < localMinFreeBytes {
		res.Status = model.StorageFull
		return res, fmt.Errorf("check %s: %w", b.base, ErrCapacity)
	}
	return res, nil
}

// classifyLocal maps ENOSPC to the capacity error kind so callers can
// mark the location full rather than merely failed.
func classifyLocal(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrCapacity, err)
	}
	return err
}
