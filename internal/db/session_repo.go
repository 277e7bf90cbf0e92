package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"metergate/internal/types"
)

// SessionRepo persists browser sessions. Expiry is enforced by the caller
// against ExpiresAt; the repo only answers existence.
type SessionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSessionRepo creates a SessionRepo backed by the given connection.
func NewSessionRepo(db DBTX, logger *slog.Logger) *SessionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRepo{db: db, logger: logger}
}

// Create inserts a new session row.
func (r *SessionRepo) Create(ctx context.Context, session *types.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, active_organization_id, expires_at, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5)`,
		session.ID,
		session.UserID,
		session.ActiveOrganizationID,
		session.ExpiresAt,
		session.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByID fetches a session by its full ID. Returns auth_token_invalid when
// no row exists so callers never learn whether the ID was close.
func (r *SessionRepo) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	var (
		session types.Session
		orgID   *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, active_organization_id, expires_at, created_at
		 FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&session.ID, &session.UserID, &orgID, &session.ExpiresAt, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch session", err)
	}
	if orgID != nil {
		session.ActiveOrganizationID = *orgID
	}
	return &session, nil
}

// DeleteByID performs a hard delete of a single session for immediate
// invalidation on logout.
func (r *SessionRepo) DeleteByID(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete session", err)
	}
	return nil
}

// DeleteExpired removes all expired sessions. Called opportunistically; a
// scheduled cleanup is not required for correctness because GetByID callers
// check expiry themselves.
func (r *SessionRepo) DeleteExpired(ctx context.Context) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired sessions", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.Info("expired sessions removed", "count", n)
	}
	return nil
}
