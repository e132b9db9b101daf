package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/sorenh/backupd/internal/model"
	"github.com/sorenh/backupd/internal/platform"
)

// APIKeyService manages API keys. Keys are created from the command
// line, not over the API, so the raw value never travels the wire
// except in the caller's own requests.
type APIKeyService struct {
	db DB
}

// NewAPIKeyService creates a new APIKeyService.
func NewAPIKeyService(db DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// Create generates a new API key, stores the hash, and returns the
// model along with the raw key string. The raw key must be shown to
// the operator exactly once.
func (s *APIKeyService) Create(ctx context.Context, name string) (*model.APIKey, string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	rawKey := "bkd_" + hex.EncodeToString(rawBytes)

	id := platform.NewID()
	hash := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(hash[:])
	keyPrefix := rawKey[:12] // "bkd_" + first 8 hex chars

	_, err := s.db.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at) VALUES ($1, $2, $3, $4, now())`,
		id, name, keyHash, keyPrefix,
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}

	key := &model.APIKey{
		ID:        id,
		Name:      name,
		KeyPrefix: keyPrefix,
	}
	err = s.db.QueryRow(ctx, "SELECT created_at FROM api_keys WHERE id = $1", id).Scan(&key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("get api key created_at: %w", err)
	}

	return key, rawKey, nil
}

// List retrieves all API keys, newest first.
func (s *APIKeyService) List(ctx context.Context) ([]model.APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, key_prefix, created_at, revoked_at FROM api_keys ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}

// Revoke soft-deletes an API key by setting revoked_at.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL", id,
	)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s not found or already revoked", id)
	}
	return nil
}

// AdminUserService manages the administrator accounts whose passwords
// satisfy the approval gate's credential path.
type AdminUserService struct {
	db DB
}

// NewAdminUserService creates a new AdminUserService.
func NewAdminUserService(db DB) *AdminUserService {
	return &AdminUserService{db: db}
}

// Create stores an administrator with an argon2id password hash. The
// username must be unique.
func (s *AdminUserService) Create(ctx context.Context, username, password string) (*model.AdminUser, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	id := platform.NewID()
	_, err = s.db.Exec(ctx,
		`INSERT INTO admin_users (id, username, password_hash, created_at) VALUES ($1, $2, $3, now())`,
		id, username, hash,
	)
	if err != nil {
		return nil, fmt.Errorf("insert admin user %s: %w", username, err)
	}

	u := &model.AdminUser{ID: id, Username: username}
	err = s.db.QueryRow(ctx, "SELECT created_at FROM admin_users WHERE id = $1", id).Scan(&u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get admin user created_at: %w", err)
	}
	return u, nil
}
