package dump

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strconv"

	"github.com/sorenh/backupd/internal/model"
)

type mongoDriver struct{}

func (d *mongoDriver) uri(ds model.Datasource) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   ds.Host + ":" + strconv.Itoa(ds.Port),
	}
	if ds.Username != "" {
		u.User = url.UserPassword(ds.Username, ds.Password)
	}
	return u.String()
}

func (d *mongoDriver) Dump(ctx context.Context, ds model.Datasource, opts Options) (io.ReadCloser, error) {
	args := []string{
		"--uri=" + d.uri(ds),
		"--db=" + ds.DatabaseName,
		"--archive",
	}
	for _, c := range opts.IncludeFilters {
		args = append(args, "--collection="+c)
	}
	for _, c := range opts.ExcludeFilters {
		args = append(args, "--excludeCollection="+c)
	}

	return startCommand(exec.CommandContext(ctx, "mongodump", args...))
}

func (d *mongoDriver) Restore(ctx context.Context, ds model.Datasource, r io.Reader, opts RestoreOptions) error {
	args := []string{"--uri=" + d.uri(ds), "--archive"}
	if opts.DatabaseName != "" && opts.DatabaseName != ds.DatabaseName {
		args = append(args,
			fmt.Sprintf("--nsFrom=%s.*", ds.DatabaseName),
			fmt.Sprintf("--nsTo=%s.*", opts.DatabaseName),
		)
	}
	if opts.DropExisting {
		args = append(args, "--drop")
	}

	return runCommand(exec.CommandContext(ctx, "mongorestore", args...), r)
}

// Mongo databases come into existence on first write, so provisioning a
// verification database is a no-op.
func (d *mongoDriver) CreateDatabase(ctx context.Context, ds model.Datasource, name string) error {
	return nil
}

func (d *mongoDriver) DropDatabase(ctx context.Context, ds model.Datasource, name string) error {
	cmd := exec.CommandContext(ctx, "mongosh", d.uri(ds)+"/"+name, "--quiet", "--eval", "db.dropDatabase()")
	return runCommand(cmd, nil)
}

func (d *mongoDriver) Ping(ctx context.Context, ds model.Datasource) error {
	cmd := exec.CommandContext(ctx, "mongosh", d.uri(ds), "--quiet", "--eval", "db.runCommand({ping: 1})")
	return runCommand(cmd, nil)
}
