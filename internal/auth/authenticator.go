// Package auth resolves bearer tokens to Actors. Two token families are
// supported: browser sessions ("sess_" prefix, opaque IDs stored verbatim)
// and API keys ("mk_" prefix, stored as bcrypt hashes and looked up by their
// short public prefix).
package auth

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"metergate/internal/types"
)

const (
	sessionTokenPrefix = "sess_"
	apiKeyTokenPrefix  = "mk_"

	// apiKeyPrefixLength is the number of encoded characters (after the
	// "mk_" tag) that form the public lookup prefix.
	apiKeyPrefixLength = 8
)

// SessionLookup is the session persistence this package needs.
type SessionLookup interface {
	GetByID(ctx context.Context, sessionID string) (*types.Session, error)
}

// KeyLookup is the API key persistence this package needs.
type KeyLookup interface {
	GetByPrefix(ctx context.Context, prefix string) (*types.APIKey, error)
}

// TokenAuthenticator implements token resolution against the session and
// API key stores.
type TokenAuthenticator struct {
	sessions SessionLookup
	keys     KeyLookup
	clock    types.Clock
	logger   *slog.Logger
}

// NewTokenAuthenticator creates a TokenAuthenticator.
func NewTokenAuthenticator(sessions SessionLookup, keys KeyLookup, clock types.Clock, logger *slog.Logger) *TokenAuthenticator {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenAuthenticator{
		sessions: sessions,
		keys:     keys,
		clock:    clock,
		logger:   logger,
	}
}

// ResolveToken resolves a bearer token to an Actor by its prefix.
//
// Error codes:
//   - auth_token_invalid: malformed, unknown, or revoked token, or a bcrypt
//     mismatch on an API key.
//   - auth_session_expired: the session exists but its ExpiresAt has passed.
func (a *TokenAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	switch {
	case strings.HasPrefix(token, sessionTokenPrefix):
		return a.resolveSession(ctx, token)
	case strings.HasPrefix(token, apiKeyTokenPrefix):
		return a.resolveAPIKey(ctx, token)
	default:
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unrecognized token format", nil)
	}
}

func (a *TokenAuthenticator) resolveSession(ctx context.Context, token string) (*types.Actor, error) {
	session, err := a.sessions.GetByID(ctx, token)
	if err != nil {
		return nil, err
	}

	if a.clock.Now().After(session.ExpiresAt) {
		a.logger.Info("session expired",
			"session_id", session.ID,
			"expired_at", session.ExpiresAt,
		)
		return nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "session has expired", nil)
	}

	return &types.Actor{
		UserID:               session.UserID,
		Type:                 types.ActorTypeUser,
		ActiveOrganizationID: session.ActiveOrganizationID,
	}, nil
}

func (a *TokenAuthenticator) resolveAPIKey(ctx context.Context, token string) (*types.Actor, error) {
	encoded := strings.TrimPrefix(token, apiKeyTokenPrefix)
	if len(encoded) < apiKeyPrefixLength {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed API key", nil)
	}

	prefix := apiKeyTokenPrefix + encoded[:apiKeyPrefixLength]
	key, err := a.keys.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(token)); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "API key mismatch", nil)
	}

	return &types.Actor{
		UserID: key.UserID,
		Type:   types.ActorTypeAPIKey,
	}, nil
}
