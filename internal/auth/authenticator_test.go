package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/types"
)

type stubClock struct {
	now time.Time
}

func (c stubClock) Now() time.Time { return c.now }

type fakeSessionLookup struct {
	sessions map[string]*types.Session
}

func (f *fakeSessionLookup) GetByID(_ context.Context, id string) (*types.Session, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session not found", nil)
}

type fakeKeyLookup struct {
	keys map[string]*types.APIKey
}

func (f *fakeKeyLookup) GetByPrefix(_ context.Context, prefix string) (*types.APIKey, error) {
	if k, ok := f.keys[prefix]; ok {
		return k, nil
	}
	return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "API key not found", nil)
}

func TestResolveTokenSession(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	sessions := &fakeSessionLookup{sessions: map[string]*types.Session{
		"sess_abc": {
			ID:                   "sess_abc",
			UserID:               "user_1",
			ActiveOrganizationID: "org_1",
			ExpiresAt:            now.Add(time.Hour),
		},
	}}
	auth := NewTokenAuthenticator(sessions, &fakeKeyLookup{}, stubClock{now: now}, nil)

	actor, err := auth.ResolveToken(context.Background(), "sess_abc")
	require.NoError(t, err)
	assert.Equal(t, "user_1", actor.UserID)
	assert.Equal(t, types.ActorTypeUser, actor.Type)
	assert.Equal(t, "org_1", actor.ActiveOrganizationID)
}

func TestResolveTokenExpiredSession(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	sessions := &fakeSessionLookup{sessions: map[string]*types.Session{
		"sess_old": {ID: "sess_old", UserID: "user_1", ExpiresAt: now.Add(-time.Minute)},
	}}
	auth := NewTokenAuthenticator(sessions, &fakeKeyLookup{}, stubClock{now: now}, nil)

	_, err := auth.ResolveToken(context.Background(), "sess_old")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthSessionExpired, appErr.Code)
}

func TestResolveTokenAPIKeyRoundTrip(t *testing.T) {
	plaintext, record, err := MintAPIKey("user_7", stubClock{now: time.Now()})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(plaintext, "mk_"))
	require.Len(t, record.Prefix, len("mk_")+apiKeyPrefixLength)

	keys := &fakeKeyLookup{keys: map[string]*types.APIKey{record.Prefix: record}}
	auth := NewTokenAuthenticator(&fakeSessionLookup{}, keys, stubClock{now: time.Now()}, nil)

	actor, err := auth.ResolveToken(context.Background(), plaintext)
	require.NoError(t, err)
	assert.Equal(t, "user_7", actor.UserID)
	assert.Equal(t, types.ActorTypeAPIKey, actor.Type)
}

func TestResolveTokenAPIKeyWrongSecret(t *testing.T) {
	_, record, err := MintAPIKey("user_7", nil)
	require.NoError(t, err)

	keys := &fakeKeyLookup{keys: map[string]*types.APIKey{record.Prefix: record}}
	auth := NewTokenAuthenticator(&fakeSessionLookup{}, keys, nil, nil)

	// Same public prefix, different secret body.
	forged := record.Prefix + strings.Repeat("x", 35)
	_, err = auth.ResolveToken(context.Background(), forged)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestResolveTokenUnrecognizedFormat(t *testing.T) {
	auth := NewTokenAuthenticator(&fakeSessionLookup{}, &fakeKeyLookup{}, nil, nil)

	for _, token := range []string{"", "Bearer abc", "tok_123", "mk_ab"} {
		_, err := auth.ResolveToken(context.Background(), token)
		require.Error(t, err, "token %q", token)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
	}
}

func TestMintAPIKeyUnderBcryptLimit(t *testing.T) {
	plaintext, _, err := MintAPIKey("user_1", nil)
	require.NoError(t, err)
	assert.Less(t, len(plaintext), 72)
}
