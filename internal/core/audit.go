package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// AuditEntry is one recorded mutating API request.
type AuditEntry struct {
	ID           int64           `json:"id"`
	APIKeyID     *string         `json:"api_key_id,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	ResourceType *string         `json:"resource_type,omitempty"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	StatusCode   int             `json:"status_code"`
	RequestBody  json.RawMessage `json:"request_body,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type AuditService struct {
	db DB
}

func NewAuditService(db DB) *AuditService {
	return &AuditService{db: db}
}

func (s *AuditService) List(ctx context.Context, limit int, cursor string) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, api_key_id, method, path, resource_type, resource_id, status_code, request_body, created_at
		FROM audit_logs`
	args := []any{}
	if cursor != "" {
		before, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid audit cursor %q", cursor)
		}
		query += ` WHERE id < $1`
		args = append(args, before)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.APIKeyID, &e.Method, &e.Path, &e.ResourceType,
			&e.ResourceID, &e.StatusCode, &e.RequestBody, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Purge deletes audit rows older than the cutoff. Callers must pass the
// approval gate first.
func (s *AuditService) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge audit logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
