// Package dump defines the boundary to per-engine dump and restore
// drivers. The pipeline invokes drivers as a capability and never deals
// with engine-specific commands itself.
package dump

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/sorenh/backupd/internal/model"
)

type Options struct {
	IncludeFilters []string
	ExcludeFilters []string
}

type RestoreOptions struct {
	// DatabaseName overrides the datasource's own database as the
	// restore target. Used by verification mode to point the driver at
	// a disposable database.
	DatabaseName string
	DropExisting bool
}

// Driver is the per-engine dump/restore capability.
type Driver interface {
	// Dump produces the backup byte stream. Close on the returned
	// reader reports the driver's exit status.
	Dump(ctx context.Context, ds model.Datasource, opts Options) (io.ReadCloser, error)
	// Restore consumes a previously dumped stream.
	Restore(ctx context.Context, ds model.Datasource, r io.Reader, opts RestoreOptions) error
	// CreateDatabase provisions a database on the datasource's engine
	// instance, for verification restores.
	CreateDatabase(ctx context.Context, ds model.Datasource, name string) error
	DropDatabase(ctx context.Context, ds model.Datasource, name string) error
	// Ping checks connectivity for health probes.
	Ping(ctx context.Context, ds model.Datasource) error
}

type Registry struct {
	drivers map[string]Driver
}

// NewRegistry returns a registry with the built-in engine drivers.
func NewRegistry() *Registry {
	return &Registry{drivers: map[string]Driver{
		model.EnginePostgres: &postgresDriver{},
		model.EngineMySQL:    &mysqlDriver{},
		model.EngineMongoDB:  &mongoDriver{},
		model.EngineFiles:    &filesDriver{},
	}}
}

func (r *Registry) Register(engine string, d Driver) {
	r.drivers[engine] = d
}

func (r *Registry) ForEngine(engine string) (Driver, error) {
	d, ok := r.drivers[engine]
	if !ok {
		return nil, fmt.Errorf("no dump driver for engine %q", engine)
	}
	return d, nil
}

// cmdReader exposes a command's stdout as a ReadCloser. Close waits for
// the command and surfaces its exit error with the stderr tail.
type cmdReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
}

func startCommand(cmd *exec.Cmd) (io.ReadCloser, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	return &cmdReader{cmd: cmd, stdout: stdout, stderr: &stderr}, nil
}

func (c *cmdReader) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *cmdReader) Close() error {
	io.Copy(io.Discard, c.stdout)
	if err := c.cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w: %s", c.cmd.Path, err, stderrTail(c.stderr))
	}
	return nil
}

// runCommand runs a command to completion, feeding stdin if non-nil.
func runCommand(cmd *exec.Cmd, stdin io.Reader) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Path, err, stderrTail(&stderr))
	}
	return nil
}

func stderrTail(buf *bytes.Buffer) string {
	const max = 512
	s := buf.String()
	if len(s) > max {
		s = "…" + s[len(s)-max:]
	}
	return s
}
