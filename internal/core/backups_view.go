package core

import (
	"context"

	"github.com/sorenh/backupd/internal/model"
)

// DatasourceBackups is the restore-oriented view of one datasource: its
// completed backups and where usable copies of each live.
type DatasourceBackups struct {
	Datasource model.Datasource `json:"datasource"`
	Backups    []BackupEntry    `json:"backups"`
}

type BackupEntry struct {
	Execution model.Execution `json:"execution"`
	Copies    []BackupCopy    `json:"storage_locations"`
}

type BackupCopy struct {
	StorageLocationID string `json:"storage_location_id"`
	Name              string `json:"name"`
	Backend           string `json:"backend"`
	Status            string `json:"status"`
}

// BackupsService assembles the backups-by-datasource view from the
// ledger and the current storage location statuses.
type BackupsService struct {
	executions *ExecutionService
	locations  *StorageLocationService
	sources    *DatasourceService
}

func NewBackupsService(executions *ExecutionService, locations *StorageLocationService, sources *DatasourceService) *BackupsService {
	return &BackupsService{executions: executions, locations: locations, sources: sources}
}

func (s *BackupsService) ForDatasource(ctx context.Context, datasourceID string) (*DatasourceBackups, error) {
	ds, err := s.sources.GetByID(ctx, datasourceID)
	if err != nil {
		return nil, err
	}

	locations, err := s.locations.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.StorageLocation, len(locations))
	for _, l := range locations {
		byID[l.ID] = l
	}

	executions, _, err := s.executions.List(ctx, ExecutionFilter{
		DatasourceID: datasourceID,
		Operation:    model.OperationBackup,
		Status:       model.ExecutionCompleted,
		Limit:        200,
	})
	if err != nil {
		return nil, err
	}

	view := &DatasourceBackups{Datasource: *ds}
	for _, e := range executions {
		targets, err := s.executions.ListTargets(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		entry := BackupEntry{Execution: e}
		for _, t := range targets {
			entry.Copies = append(entry.Copies, BackupCopy{
				StorageLocationID: t.StorageLocationID,
				Name:              byID[t.StorageLocationID].Name,
				Backend:           byID[t.StorageLocationID].Backend,
				Status:            copyStatus(e, t, byID[t.StorageLocationID]),
			})
		}
		view.Backups = append(view.Backups, entry)
	}
	return view, nil
}

func (s *BackupsService) All(ctx context.Context) ([]DatasourceBackups, error) {
	sources, err := s.sources.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]DatasourceBackups, 0, len(sources))
	for _, ds := range sources {
		v, err := s.ForDatasource(ctx, ds.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// copyStatus derives the status of one stored copy. Pruned bytes and
// targets that never uploaded are missing regardless of location health;
// an uploaded copy on an unreachable location cannot be confirmed.
func copyStatus(e model.Execution, t model.ExecutionTarget, loc model.StorageLocation) string {
	if e.PrunedAt != nil {
		return model.CopyMissing
	}
	if t.Status != model.CopyAvailable {
		return model.CopyMissing
	}
	switch loc.Status {
	case model.StorageUnreachable:
		return model.CopyUnreachable
	case "":
		return model.CopyUnknown
	}
	return model.CopyAvailable
}
