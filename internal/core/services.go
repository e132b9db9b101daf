package core

type Services struct {
	Datasource      *DatasourceService
	StorageLocation *StorageLocationService
	BackupJob       *BackupJobService
	Execution       *ExecutionService
	Approval        *ApprovalService
	Settings        *SettingsService
	Health          *HealthService
	Backups         *BackupsService
	Audit           *AuditService
}

func NewServices(db DB) *Services {
	settings := NewSettingsService(db)
	datasource := NewDatasourceService(db)
	location := NewStorageLocationService(db)
	execution := NewExecutionService(db)

	return &Services{
		Datasource:      datasource,
		StorageLocation: location,
		BackupJob:       NewBackupJobService(db),
		Execution:       execution,
		Approval:        NewApprovalService(db, settings),
		Settings:        settings,
		Health:          NewHealthService(db, settings),
		Backups:         NewBackupsService(execution, location, datasource),
		Audit:           NewAuditService(db),
	}
}
