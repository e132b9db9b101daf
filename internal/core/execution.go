package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/platform"
)

// ExecutionService is the execution ledger: the authoritative state
// machine for every backup and restore run. Transitions are append-only;
// a terminal execution is never resurrected.
type ExecutionService struct {
	db DB
}

func NewExecutionService(db DB) *ExecutionService {
	return &ExecutionService{db: db}
}

const executionColumns = `id, job_id, datasource_id, operation, status, error_message,
	size_bytes, compressed_size_bytes, cancel_requested, spool_path, pruned_at,
	started_at, finished_at, created_at, updated_at`

func scanExecution(row pgx.Row) (*model.Execution, error) {
	var e model.Execution
	err := row.Scan(&e.ID, &e.JobID, &e.DatasourceID, &e.Operation, &e.Status,
		&e.ErrorMessage, &e.SizeBytes, &e.CompressedSizeBytes, &e.CancelRequested,
		&e.SpoolPath, &e.PrunedAt, &e.StartedAt, &e.FinishedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Claim atomically creates a running backup execution for a job, but
// only if no other execution for that job is queued or running and no
// restore is active on the datasource. This is the mutual-exclusion
// primitive admission control relies on; a partial unique index on
// (job_id) backs the per-job half under concurrency, and the advisory
// lock on the datasource id serializes this statement against a
// concurrent ClaimRestore so neither sees a stale NOT EXISTS.
func (s *ExecutionService) Claim(ctx context.Context, jobID, datasourceID string) (*model.Execution, error) {
	id := platform.NewID()
	row := s.db.QueryRow(ctx,
		`INSERT INTO executions (id, job_id, datasource_id, operation, status, started_at, created_at, updated_at)
		 SELECT $1, $2, $3, 'backup', 'running', now(), now(), now()
		 FROM (SELECT pg_advisory_xact_lock(hashtextextended($3, 0))) AS ds_lock
		 WHERE NOT EXISTS (
		   SELECT 1 FROM executions WHERE job_id = $2 AND status IN ('queued', 'running')
		 )
		 AND NOT EXISTS (
		   SELECT 1 FROM executions
		   WHERE datasource_id = $3 AND operation = 'restore' AND status IN ('queued', 'running')
		 )
		 ON CONFLICT DO NOTHING
		 RETURNING `+executionColumns,
		id, jobID, datasourceID,
	)
	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlreadyRunning
	}
	if err != nil {
		return nil, fmt.Errorf("claim execution for job %s: %w", jobID, err)
	}
	return e, nil
}

// ClaimRestore creates a running restore execution for a datasource
// unless the datasource already has any queued or running execution, in
// which case the restore is rejected rather than queued. It takes the
// same advisory lock as Claim, so a simultaneous backup claim on the
// datasource commits before or after this statement, never interleaved.
func (s *ExecutionService) ClaimRestore(ctx context.Context, datasourceID string) (*model.Execution, error) {
	id := platform.NewID()
	row := s.db.QueryRow(ctx,
		`INSERT INTO executions (id, datasource_id, operation, status, started_at, created_at, updated_at)
		 SELECT $1, $2, 'restore', 'running', now(), now(), now()
		 FROM (SELECT pg_advisory_xact_lock(hashtextextended($2, 0))) AS ds_lock
		 WHERE NOT EXISTS (
		   SELECT 1 FROM executions WHERE datasource_id = $2 AND status IN ('queued', 'running')
		 )
		 RETURNING `+executionColumns,
		id, datasourceID,
	)
	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlreadyRunning
	}
	if err != nil {
		return nil, fmt.Errorf("claim restore for datasource %s: %w", datasourceID, err)
	}
	return e, nil
}

func (s *ExecutionService) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}

	if e.Chunks, err = s.ListChunks(ctx, id); err != nil {
		return nil, err
	}
	if e.Targets, err = s.ListTargets(ctx, id); err != nil {
		return nil, err
	}
	return e, nil
}

// ExecutionFilter narrows List results. Zero values mean "any".
type ExecutionFilter struct {
	JobID        string
	DatasourceID string
	Operation    string
	Status       string
	Limit        int
	Cursor       string
}

func (s *ExecutionService) List(ctx context.Context, f ExecutionFilter) ([]model.Execution, bool, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	var args []any
	argIdx := 1

	add := func(cond string, v any) {
		query += fmt.Sprintf(" AND "+cond, argIdx)
		args = append(args, v)
		argIdx++
	}
	if f.JobID != "" {
		add("job_id = $%d", f.JobID)
	}
	if f.DatasourceID != "" {
		add("datasource_id = $%d", f.DatasourceID)
	}
	if f.Operation != "" {
		add("operation = $%d", f.Operation)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Cursor != "" {
		add("id > $%d", f.Cursor)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", argIdx)
	args = append(args, f.Limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate executions: %w", err)
	}

	hasMore := len(executions) > f.Limit
	if hasMore {
		executions = executions[:f.Limit]
	}
	return executions, hasMore, nil
}

// Complete transitions a running execution to completed.
func (s *ExecutionService) Complete(ctx context.Context, id string, sizeBytes, compressedBytes int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE executions SET status = 'completed', size_bytes = $2, compressed_size_bytes = $3,
		   spool_path = NULL, finished_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, sizeBytes, compressedBytes,
	)
	if err != nil {
		return fmt.Errorf("complete execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete execution %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// Fail transitions an execution to failed. The originating error becomes
// the human-readable error_message; a failed execution never has an
// empty one.
func (s *ExecutionService) Fail(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE executions SET status = 'failed', error_message = $2, finished_at = now(), updated_at = now()
		 WHERE id = $1 AND status IN ('queued', 'running')`,
		id, msg,
	)
	if err != nil {
		return fmt.Errorf("fail execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail execution %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// RequestCancel sets the advisory cancellation flag. Only running
// executions may be cancelled; the pipeline polls the flag between
// chunks and targets and resolves the run to cancelled.
func (s *ExecutionService) RequestCancel(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE executions SET cancel_requested = true, updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("request cancel of execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cancel execution %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (s *ExecutionService) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.db.QueryRow(ctx, `SELECT cancel_requested FROM executions WHERE id = $1`, id).Scan(&requested)
	if err != nil {
		return false, fmt.Errorf("read cancel flag of execution %s: %w", id, err)
	}
	return requested, nil
}

// MarkCancelled resolves a cancellation observed by the pipeline.
func (s *ExecutionService) MarkCancelled(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE executions SET status = 'cancelled', finished_at = now(), updated_at = now()
		 WHERE id = $1 AND status IN ('queued', 'running')`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark execution %s cancelled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark execution %s cancelled: %w", id, ErrInvalidTransition)
	}
	return nil
}

// AppendChunk records a chunk manifest entry. Appending is only
// permitted while the execution is running, and is idempotent on
// (execution_id, chunk_number) so upload retries never duplicate rows.
func (s *ExecutionService) AppendChunk(ctx context.Context, c model.ExecutionChunk) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO execution_chunks (execution_id, chunk_number, file_path, byte_offset, size_bytes, checksum)
		 SELECT $1, $2, $3, $4, $5, $6
		 WHERE EXISTS (SELECT 1 FROM executions WHERE id = $1 AND status = 'running')
		 ON CONFLICT (execution_id, chunk_number) DO NOTHING`,
		c.ExecutionID, c.ChunkNumber, c.FilePath, c.Offset, c.SizeBytes, c.Checksum,
	)
	if err != nil {
		return fmt.Errorf("append chunk %d to execution %s: %w", c.ChunkNumber, c.ExecutionID, err)
	}
	return nil
}

func (s *ExecutionService) ListChunks(ctx context.Context, executionID string) ([]model.ExecutionChunk, error) {
	rows, err := s.db.Query(ctx,
		`SELECT execution_id, chunk_number, file_path, byte_offset, size_bytes, checksum
		 FROM execution_chunks WHERE execution_id = $1 ORDER BY chunk_number`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chunks of execution %s: %w", executionID, err)
	}
	defer rows.Close()

	var chunks []model.ExecutionChunk
	for rows.Next() {
		var c model.ExecutionChunk
		if err := rows.Scan(&c.ExecutionID, &c.ChunkNumber, &c.FilePath, &c.Offset, &c.SizeBytes, &c.Checksum); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// UpsertTarget records or updates the per-storage-location outcome.
func (s *ExecutionService) UpsertTarget(ctx context.Context, t model.ExecutionTarget) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO execution_targets (execution_id, storage_location_id, position, status, error_message)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (execution_id, storage_location_id)
		 DO UPDATE SET status = EXCLUDED.status, error_message = EXCLUDED.error_message`,
		t.ExecutionID, t.StorageLocationID, t.Position, t.Status, t.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("record target %s of execution %s: %w", t.StorageLocationID, t.ExecutionID, err)
	}
	return nil
}

func (s *ExecutionService) ListTargets(ctx context.Context, executionID string) ([]model.ExecutionTarget, error) {
	rows, err := s.db.Query(ctx,
		`SELECT execution_id, storage_location_id, position, status, error_message
		 FROM execution_targets WHERE execution_id = $1 ORDER BY position`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list targets of execution %s: %w", executionID, err)
	}
	defer rows.Close()

	var targets []model.ExecutionTarget
	for rows.Next() {
		var t model.ExecutionTarget
		if err := rows.Scan(&t.ExecutionID, &t.StorageLocationID, &t.Position, &t.Status, &t.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// ListCompletedBackups loads a job's completed, unpruned backup
// executions most recent first, with their storage bindings. This is
// what the retention engine scans.
func (s *ExecutionService) ListCompletedBackups(ctx context.Context, jobID string) ([]model.Execution, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE job_id = $1 AND operation = 'backup' AND status = 'completed' AND pruned_at IS NULL
		 ORDER BY started_at DESC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list completed backups of job %s: %w", jobID, err)
	}
	defer rows.Close()

	var executions []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}

	for i := range executions {
		if executions[i].Targets, err = s.ListTargets(ctx, executions[i].ID); err != nil {
			return nil, err
		}
		if executions[i].Chunks, err = s.ListChunks(ctx, executions[i].ID); err != nil {
			return nil, err
		}
	}
	return executions, nil
}

// MarkPruned annotates an execution whose backing bytes were removed by
// retention. The row itself is retained for audit.
func (s *ExecutionService) MarkPruned(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE executions SET pruned_at = now(), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark execution %s pruned: %w", id, err)
	}
	return nil
}

// Delete removes an execution row and its manifest. Callers are
// responsible for gating this through the approval gate and for
// deleting the backing bytes first.
func (s *ExecutionService) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete execution %s: %w", id, err)
	}
	return nil
}

// CountActiveBackups reports how many backup executions currently hold
// a queued or running slot, for admission control.
func (s *ExecutionService) CountActiveBackups(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM executions WHERE operation = 'backup' AND status IN ('queued', 'running')`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active backups: %w", err)
	}
	return n, nil
}

// LastStartedAt returns when the job's most recent execution started,
// or nil if it never ran. The scheduler derives due-ness from this so a
// restart loses no state.
func (s *ExecutionService) LastStartedAt(ctx context.Context, jobID string) (*time.Time, error) {
	var last *time.Time
	err := s.db.QueryRow(ctx,
		`SELECT max(started_at) FROM executions WHERE job_id = $1`, jobID,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last start of job %s: %w", jobID, err)
	}
	return last, nil
}

func (s *ExecutionService) SetSpoolPath(ctx context.Context, id, path string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE executions SET spool_path = $2, updated_at = now() WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("set spool path of execution %s: %w", id, err)
	}
	return nil
}

func (s *ExecutionService) AppendLog(ctx context.Context, executionID, level, message string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO execution_logs (execution_id, level, message, created_at) VALUES ($1, $2, $3, now())`,
		executionID, level, message,
	)
	if err != nil {
		return fmt.Errorf("append log to execution %s: %w", executionID, err)
	}
	return nil
}

func (s *ExecutionService) ListLogs(ctx context.Context, executionID string) ([]model.ExecutionLog, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, execution_id, level, message, created_at
		 FROM execution_logs WHERE execution_id = $1 ORDER BY id`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list logs of execution %s: %w", executionID, err)
	}
	defer rows.Close()

	var logs []model.ExecutionLog
	for rows.Next() {
		var l model.ExecutionLog
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
