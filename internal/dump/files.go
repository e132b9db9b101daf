package dump

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sorenh/backupd/internal/model"
)

// filesDriver backs up a flat-file tree as an uncompressed tar stream.
// Compression happens in the pipeline like every other engine.
type filesDriver struct{}

func (d *filesDriver) Dump(ctx context.Context, ds model.Datasource, opts Options) (io.ReadCloser, error) {
	if ds.RootPath == "" {
		return nil, fmt.Errorf("files datasource %s has no root path", ds.ID)
	}

	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		err := filepath.WalkDir(ds.RootPath, func(p string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			rel, err := filepath.Rel(ds.RootPath, p)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			slash := filepath.ToSlash(rel)
			if excluded(slash, opts.ExcludeFilters) {
				if entry.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			// Include filters apply to files only; directories are kept
			// so nested matches stay reachable.
			if !entry.IsDir() && !included(slash, opts.IncludeFilters) {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(rel)
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if entry.IsDir() || !info.Mode().IsRegular() {
				return nil
			}

			f, err := os.Open(p)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			f.Close()
			return err
		})
		if err == nil {
			err = tw.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, nil
}

// Filters are path globs matched against the slash-relative path.
func excluded(rel string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

// included reports whether rel matches the include set; an empty set
// includes everything.
func included(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

func (d *filesDriver) Restore(ctx context.Context, ds model.Datasource, r io.Reader, opts RestoreOptions) error {
	target := ds.RootPath
	if opts.DatabaseName != "" {
		target = opts.DatabaseName
	}
	if target == "" {
		return fmt.Errorf("files datasource %s has no restore target", ds.ID)
	}

	if opts.DropExisting {
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("clear %s: %w", target, err)
		}
	}
	if err := os.MkdirAll(target, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", target, err)
	}

	tr := tar.NewReader(r)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		// Reject entries that would escape the target tree.
		dst := filepath.Join(target, filepath.FromSlash(hdr.Name))
		rel, err := filepath.Rel(target, dst)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("tar entry %q escapes restore target", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, hdr.FileInfo().Mode()); err != nil {
				return fmt.Errorf("mkdir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
				return fmt.Errorf("mkdir for %s: %w", hdr.Name, err)
			}
			f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode())
			if err != nil {
				return fmt.Errorf("create %s: %w", hdr.Name, err)
			}
			_, err = io.Copy(f, tr)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
		}
	}
}

// CreateDatabase for the files engine provisions a scratch directory to
// restore into during verification.
func (d *filesDriver) CreateDatabase(ctx context.Context, ds model.Datasource, name string) error {
	return os.MkdirAll(name, 0o750)
}

func (d *filesDriver) DropDatabase(ctx context.Context, ds model.Datasource, name string) error {
	return os.RemoveAll(name)
}

func (d *filesDriver) Ping(ctx context.Context, ds model.Datasource) error {
	if _, err := os.Stat(ds.RootPath); err != nil {
		return fmt.Errorf("stat %s: %w", ds.RootPath, err)
	}
	return nil
}
