package dump

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/sorenh/backupd/internal/model"
)

type mysqlDriver struct{}

func (d *mysqlDriver) connArgs(ds model.Datasource) []string {
	return []string{
		"--host=" + ds.Host,
		"--port=" + strconv.Itoa(ds.Port),
		"--user=" + ds.Username,
		"--password=" + ds.Password,
	}
}

func (d *mysqlDriver) Dump(ctx context.Context, ds model.Datasource, opts Options) (io.ReadCloser, error) {
	args := append(d.connArgs(ds), "--single-transaction", "--routines", "--triggers")
	for _, t := range opts.ExcludeFilters {
		args = append(args, fmt.Sprintf("--ignore-table=%s.%s", ds.DatabaseName, t))
	}
	args = append(args, ds.DatabaseName)
	args = append(args, opts.IncludeFilters...)

	return startCommand(exec.CommandContext(ctx, "mysqldump", args...))
}

func (d *mysqlDriver) Restore(ctx context.Context, ds model.Datasource, r io.Reader, opts RestoreOptions) error {
	target := ds.DatabaseName
	if opts.DatabaseName != "" {
		target = opts.DatabaseName
	}

	if opts.DropExisting {
		if err := d.DropDatabase(ctx, ds, target); err != nil {
			return err
		}
		if err := d.CreateDatabase(ctx, ds, target); err != nil {
			return err
		}
	}

	args := append(d.connArgs(ds), target)
	return runCommand(exec.CommandContext(ctx, "mysql", args...), r)
}

func (d *mysqlDriver) CreateDatabase(ctx context.Context, ds model.Datasource, name string) error {
	args := append(d.connArgs(ds), "-e", fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name))
	return runCommand(exec.CommandContext(ctx, "mysql", args...), nil)
}

func (d *mysqlDriver) DropDatabase(ctx context.Context, ds model.Datasource, name string) error {
	args := append(d.connArgs(ds), "-e", fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name))
	return runCommand(exec.CommandContext(ctx, "mysql", args...), nil)
}

func (d *mysqlDriver) Ping(ctx context.Context, ds model.Datasource) error {
	args := append(d.connArgs(ds), "ping")
	return runCommand(exec.CommandContext(ctx, "mysqladmin", args...), nil)
}
