package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sorenh/backupd/internal/model"
)

// DatasourceService manages datasource definitions. The orchestration
// core reads them to select dump drivers; only operators and the health
// prober mutate them.
type DatasourceService struct {
	db DB
}

func NewDatasourceService(db DB) *DatasourceService {
	return &DatasourceService{db: db}
}

const datasourceColumns = `id, name, engine, host, port, username, password, database_name,
	root_path, enabled, status, created_at, updated_at`

func scanDatasource(row pgx.Row) (*model.Datasource, error) {
	var d model.Datasource
	err := row.Scan(&d.ID, &d.Name, &d.Engine, &d.Host, &d.Port, &d.Username, &d.Password,
		&d.DatabaseName, &d.RootPath, &d.Enabled, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DatasourceService) Create(ctx context.Context, d *model.Datasource) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO datasources (id, name, engine, host, port, username, password, database_name, root_path, enabled, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.Name, d.Engine, d.Host, d.Port, d.Username, d.Password,
		d.DatabaseName, d.RootPath, d.Enabled, d.Status, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert datasource: %w", err)
	}
	return nil
}

func (s *DatasourceService) GetByID(ctx context.Context, id string) (*model.Datasource, error) {
	row := s.db.QueryRow(ctx, `SELECT `+datasourceColumns+` FROM datasources WHERE id = $1`, id)
	d, err := scanDatasource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("datasource %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get datasource %s: %w", id, err)
	}
	return d, nil
}

func (s *DatasourceService) List(ctx context.Context) ([]model.Datasource, error) {
	rows, err := s.db.Query(ctx, `SELECT `+datasourceColumns+` FROM datasources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list datasources: %w", err)
	}
	defer rows.Close()

	var datasources []model.Datasource
	for rows.Next() {
		d, err := scanDatasource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan datasource: %w", err)
		}
		datasources = append(datasources, *d)
	}
	return datasources, rows.Err()
}

func (s *DatasourceService) Update(ctx context.Context, d *model.Datasource) error {
	_, err := s.db.Exec(ctx,
		`UPDATE datasources SET name = $2, engine = $3, host = $4, port = $5, username = $6,
		   password = $7, database_name = $8, root_path = $9, enabled = $10, updated_at = now()
		 WHERE id = $1`,
		d.ID, d.Name, d.Engine, d.Host, d.Port, d.Username, d.Password,
		d.DatabaseName, d.RootPath, d.Enabled,
	)
	if err != nil {
		return fmt.Errorf("update datasource %s: %w", d.ID, err)
	}
	return nil
}

// SetStatus records the health status derived from probes.
func (s *DatasourceService) SetStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE datasources SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set datasource %s status: %w", id, err)
	}
	return nil
}

func (s *DatasourceService) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM datasources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete datasource %s: %w", id, err)
	}
	return nil
}
