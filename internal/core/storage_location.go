package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sorenh/backupd/internal/model"
)

// StorageLocationService manages storage location definitions. Identity
// is immutable; operators may edit config, the pipeline never does.
type StorageLocationService struct {
	db DB
}

func NewStorageLocationService(db DB) *StorageLocationService {
	return &StorageLocationService{db: db}
}

const storageLocationColumns = `id, name, backend, config, is_default, status, created_at, updated_at`

func scanStorageLocation(row pgx.Row) (*model.StorageLocation, error) {
	var l model.StorageLocation
	err := row.Scan(&l.ID, &l.Name, &l.Backend, &l.Config, &l.IsDefault, &l.Status,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *StorageLocationService) Create(ctx context.Context, l *model.StorageLocation) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO storage_locations (id, name, backend, config, is_default, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.Name, l.Backend, l.Config, l.IsDefault, l.Status, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert storage location: %w", err)
	}
	return nil
}

func (s *StorageLocationService) GetByID(ctx context.Context, id string) (*model.StorageLocation, error) {
	row := s.db.QueryRow(ctx, `SELECT `+storageLocationColumns+` FROM storage_locations WHERE id = $1`, id)
	l, err := scanStorageLocation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("storage location %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get storage location %s: %w", id, err)
	}
	return l, nil
}

func (s *StorageLocationService) List(ctx context.Context) ([]model.StorageLocation, error) {
	rows, err := s.db.Query(ctx, `SELECT `+storageLocationColumns+` FROM storage_locations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list storage locations: %w", err)
	}
	defer rows.Close()

	var locations []model.StorageLocation
	for rows.Next() {
		l, err := scanStorageLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan storage location: %w", err)
		}
		locations = append(locations, *l)
	}
	return locations, rows.Err()
}

func (s *StorageLocationService) Update(ctx context.Context, l *model.StorageLocation) error {
	_, err := s.db.Exec(ctx,
		`UPDATE storage_locations SET name = $2, config = $3, is_default = $4, updated_at = now()
		 WHERE id = $1`,
		l.ID, l.Name, l.Config, l.IsDefault,
	)
	if err != nil {
		return fmt.Errorf("update storage location %s: %w", l.ID, err)
	}
	return nil
}

// SetStatus records the status derived from check probes.
func (s *StorageLocationService) SetStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE storage_locations SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set storage location %s status: %w", id, err)
	}
	return nil
}

func (s *StorageLocationService) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM storage_locations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete storage location %s: %w", id, err)
	}
	return nil
}
