package dump

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/sorenh/backupd/internal/model"
)

// postgresDriver shells out to the PostgreSQL client tools. Dumps use
// the custom format so restores can run in parallel and honor --clean.
type postgresDriver struct{}

func (d *postgresDriver) env(ds model.Datasource) []string {
	return []string{"PGPASSWORD=" + ds.Password}
}

func (d *postgresDriver) connArgs(ds model.Datasource) []string {
	return []string{
		"-h", ds.Host,
		"-p", strconv.Itoa(ds.Port),
		"-U", ds.Username,
	}
}

func (d *postgresDriver) Dump(ctx context.Context, ds model.Datasource, opts Options) (io.ReadCloser, error) {
	args := append(d.connArgs(ds), "--format=custom", "--no-owner", ds.DatabaseName)
	for _, t := range opts.IncludeFilters {
		args = append(args, "--table="+t)
	}
	for _, t := range opts.ExcludeFilters {
		args = append(args, "--exclude-table="+t)
	}

	cmd := exec.CommandContext(ctx, "pg_dump", args...)
	cmd.Env = d.env(ds)
	return startCommand(cmd)
}

func (d *postgresDriver) Restore(ctx context.Context, ds model.Datasource, r io.Reader, opts RestoreOptions) error {
	target := ds.DatabaseName
	if opts.DatabaseName != "" {
		target = opts.DatabaseName
	}

	args := append(d.connArgs(ds), "--no-owner", "-d", target)
	if opts.DropExisting {
		args = append(args, "--clean", "--if-exists")
	}

	cmd := exec.CommandContext(ctx, "pg_restore", args...)
	cmd.Env = d.env(ds)
	return runCommand(cmd, r)
}

func (d *postgresDriver) CreateDatabase(ctx context.Context, ds model.Datasource, name string) error {
	args := append(d.connArgs(ds), "-d", "postgres", "-c", fmt.Sprintf("CREATE DATABASE %q", name))
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = d.env(ds)
	return runCommand(cmd, nil)
}

func (d *postgresDriver) DropDatabase(ctx context.Context, ds model.Datasource, name string) error {
	args := append(d.connArgs(ds), "-d", "postgres", "-c", fmt.Sprintf("DROP DATABASE IF EXISTS %q", name))
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = d.env(ds)
	return runCommand(cmd, nil)
}

func (d *postgresDriver) Ping(ctx context.Context, ds model.Datasource) error {
	args := append(d.connArgs(ds), "-d", ds.DatabaseName, "-t", "5")
	cmd := exec.CommandContext(ctx, "pg_isready", args...)
	cmd.Env = d.env(ds)
	return runCommand(cmd, nil)
}
