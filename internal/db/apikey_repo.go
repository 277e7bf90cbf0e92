package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"metergate/internal/types"
)

// APIKeyRepo manages API key records. Keys are stored as bcrypt hashes;
// plaintext secrets are never persisted. Lookup is by the short public
// prefix embedded in the token.
type APIKeyRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewAPIKeyRepo creates an APIKeyRepo backed by the given connection.
func NewAPIKeyRepo(db DBTX, logger *slog.Logger) *APIKeyRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyRepo{db: db, logger: logger}
}

// Create inserts a new API key record. KeyHash MUST already be the bcrypt
// hash of the plaintext secret.
func (r *APIKeyRepo) Create(ctx context.Context, key *types.APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, key_prefix, key_hash, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		key.ID,
		key.Prefix,
		key.KeyHash,
		key.UserID,
		key.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create API key", err)
	}
	return nil
}

// GetByPrefix fetches the non-revoked key with the given public prefix.
// Returns auth_token_invalid when no live key matches.
func (r *APIKeyRepo) GetByPrefix(ctx context.Context, prefix string) (*types.APIKey, error) {
	var key types.APIKey
	err := r.db.QueryRow(ctx,
		`SELECT id, key_prefix, key_hash, user_id, revoked_at, created_at
		 FROM api_keys
		 WHERE key_prefix = $1 AND revoked_at IS NULL`,
		prefix,
	).Scan(&key.ID, &key.Prefix, &key.KeyHash, &key.UserID, &key.RevokedAt, &key.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "API key not found or revoked", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch API key", err)
	}
	return &key, nil
}

// Revoke soft-deletes a key by setting revoked_at. Idempotent: revoking an
// already revoked key is a no-op.
func (r *APIKeyRepo) Revoke(ctx context.Context, keyID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		at, keyID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke API key", err)
	}
	return nil
}
