package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/platform"
)

// ApprovalService is the critical-operation approval gate. Every
// irreversible action passes through Authorize before executing.
type ApprovalService struct {
	db       DB
	settings *SettingsService
}

func NewApprovalService(db DB, settings *SettingsService) *ApprovalService {
	return &ApprovalService{db: db, settings: settings}
}

const approvalColumns = `id, action, resource_type, resource_id, payload, requester_user_id,
	status, decision_reason, decided_by_user_id, decided_at, expires_at, consumed_at,
	created_at, updated_at`

func scanApproval(row pgx.Row) (*model.ApprovalRequest, error) {
	var a model.ApprovalRequest
	err := row.Scan(&a.ID, &a.Action, &a.ResourceType, &a.ResourceID, &a.Payload,
		&a.RequesterUserID, &a.Status, &a.DecisionReason, &a.DecidedByUserID,
		&a.DecidedAt, &a.ExpiresAt, &a.ConsumedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Credentials carries exactly one of the two standing-authority forms a
// gated caller may present. Both empty means the caller has neither.
type Credentials struct {
	AdminPassword     string
	ApprovalRequestID string
}

// GatedAction identifies the operation being authorized.
type GatedAction struct {
	Action       string
	ResourceType string
	ResourceID   string
	// Payload is stored on a created request so an approved decision
	// can be replayed later.
	Payload json.RawMessage
	// RequesterUserID attributes the request.
	RequesterUserID string
}

// Authorize mediates a critical action through one of three paths:
// re-entered administrator credentials, consumption of a matching
// approved request (single-use), or creation of a pending request. The
// last path returns ApprovalRequiredError carrying the new request id,
// a distinct signal rather than a generic permission error.
func (s *ApprovalService) Authorize(ctx context.Context, act GatedAction, creds Credentials) error {
	switch {
	case creds.AdminPassword != "":
		return s.verifyAdminPassword(ctx, creds.AdminPassword)

	case creds.ApprovalRequestID != "":
		return s.consume(ctx, creds.ApprovalRequestID, act)

	default:
		req, err := s.Create(ctx, act)
		if err != nil {
			return err
		}
		return &ApprovalRequiredError{RequestID: req.ID}
	}
}

// verifyAdminPassword checks the password against any administrator's
// stored argon2id hash.
func (s *ApprovalService) verifyAdminPassword(ctx context.Context, password string) error {
	rows, err := s.db.Query(ctx, `SELECT password_hash FROM admin_users`)
	if err != nil {
		return fmt.Errorf("load admin users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return fmt.Errorf("scan admin user: %w", err)
		}
		if verifyArgon2(password, hash) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate admin users: %w", err)
	}
	return fmt.Errorf("administrator password rejected")
}

// consume spends an approved request. The request must match the action
// and resource exactly, be approved, unexpired, and not yet consumed;
// consumption is atomic so a request can never authorize twice.
func (s *ApprovalService) consume(ctx context.Context, requestID string, act GatedAction) error {
	req, err := s.GetByID(ctx, requestID)
	if err != nil {
		return err
	}

	now := time.Now()
	switch {
	case req.Action != act.Action || req.ResourceType != act.ResourceType || req.ResourceID != act.ResourceID:
		return &ApprovalRequiredError{RequestID: req.ID}
	case req.Status != model.ApprovalApproved, req.Expired(now), req.ConsumedAt != nil:
		return &ApprovalRequiredError{RequestID: req.ID}
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE approval_requests SET consumed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'approved' AND consumed_at IS NULL AND expires_at > now()`,
		requestID,
	)
	if err != nil {
		return fmt.Errorf("consume approval %s: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		// Raced with another execute call or with expiry.
		return &ApprovalRequiredError{RequestID: req.ID}
	}
	return nil
}

func (s *ApprovalService) Create(ctx context.Context, act GatedAction) (*model.ApprovalRequest, error) {
	now := time.Now()
	req := &model.ApprovalRequest{
		ID:              platform.NewID(),
		Action:          act.Action,
		ResourceType:    act.ResourceType,
		ResourceID:      act.ResourceID,
		Payload:         act.Payload,
		RequesterUserID: act.RequesterUserID,
		Status:          model.ApprovalPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO approval_requests (id, action, resource_type, resource_id, payload, requester_user_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.Action, req.ResourceType, req.ResourceID, req.Payload,
		req.RequesterUserID, req.Status, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert approval request: %w", err)
	}
	return req, nil
}

func (s *ApprovalService) GetByID(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id)
	req, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("approval request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get approval request %s: %w", id, err)
	}
	return req, nil
}

func (s *ApprovalService) List(ctx context.Context, status string, limit int, cursor string) ([]model.ApprovalRequest, bool, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE 1=1`
	var args []any
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}
	if cursor != "" {
		query += fmt.Sprintf(" AND id > $%d", argIdx)
		args = append(args, cursor)
		argIdx++
	}
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()

	var requests []model.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan approval request: %w", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate approval requests: %w", err)
	}

	hasMore := len(requests) > limit
	if hasMore {
		requests = requests[:limit]
	}
	return requests, hasMore, nil
}

// Approve decides a pending request, stamping its expiry window from
// system settings. Deciding a non-pending request is an invalid
// transition.
func (s *ApprovalService) Approve(ctx context.Context, id, deciderUserID, reason string) error {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}
	expires := time.Now().Add(time.Duration(settings.ApprovalWindowHours) * time.Hour)

	tag, err := s.db.Exec(ctx,
		`UPDATE approval_requests
		 SET status = 'approved', decided_by_user_id = $2, decision_reason = $3,
		     decided_at = now(), expires_at = $4, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, deciderUserID, nullIfEmpty(reason), expires,
	)
	if err != nil {
		return fmt.Errorf("approve request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approve request %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// Reject is terminal.
func (s *ApprovalService) Reject(ctx context.Context, id, deciderUserID, reason string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE approval_requests
		 SET status = 'rejected', decided_by_user_id = $2, decision_reason = $3,
		     decided_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, deciderUserID, nullIfEmpty(reason),
	)
	if err != nil {
		return fmt.Errorf("reject request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reject request %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// Cancel lets the requester withdraw a still-pending request.
func (s *ApprovalService) Cancel(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE approval_requests SET status = 'canceled', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("cancel request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cancel request %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
