package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"metergate/internal/types"
)

// UserRepo answers user contact queries for billing flows.
type UserRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewUserRepo creates a UserRepo backed by the given connection.
func NewUserRepo(db DBTX, logger *slog.Logger) *UserRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserRepo{db: db, logger: logger}
}

// GetBillingEmail returns the user's email for provider customer creation.
func (r *UserRepo) GetBillingEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx,
		`SELECT email FROM users WHERE id = $1 AND deleted_at IS NULL`,
		userID,
	).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to fetch user", err)
	}
	return email, nil
}
