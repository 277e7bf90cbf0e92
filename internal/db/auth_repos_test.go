package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"metergate/internal/types"
)

// --- SessionRepo Tests ---

func TestSessionRepo_GetByID_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepo(db, nil)

	expires := time.Now().Add(time.Hour)
	orgID := "org_1"
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"sess_abc"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*(dest[0].(*string)) = "sess_abc"
			*(dest[1].(*string)) = "user_1"
			*(dest[2].(**string)) = &orgID
			*(dest[3].(*time.Time)) = expires
			*(dest[4].(*time.Time)) = time.Now()
			return nil
		}})

	session, err := repo.GetByID(context.Background(), "sess_abc")
	require.NoError(t, err)
	assert.Equal(t, "user_1", session.UserID)
	assert.Equal(t, "org_1", session.ActiveOrganizationID)
	assert.Equal(t, expires, session.ExpiresAt)
}

func TestSessionRepo_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "sess_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestSessionRepo_Create(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(context.Background(), &types.Session{
		ID:        "sess_new",
		UserID:    "user_1",
		ExpiresAt: time.Now().Add(24 * time.Hour),
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

// --- APIKeyRepo Tests ---

func TestAPIKeyRepo_GetByPrefix_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPIKeyRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"mk_abcd1234"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*(dest[0].(*string)) = "key_1"
			*(dest[1].(*string)) = "mk_abcd1234"
			*(dest[2].(*string)) = "$2a$12$hash"
			*(dest[3].(*string)) = "user_1"
			*(dest[5].(*time.Time)) = time.Now()
			return nil
		}})

	key, err := repo.GetByPrefix(context.Background(), "mk_abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "user_1", key.UserID)
	assert.Equal(t, "$2a$12$hash", key.KeyHash)
}

func TestAPIKeyRepo_GetByPrefix_RevokedOrMissing(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPIKeyRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByPrefix(context.Background(), "mk_gone1234")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestAPIKeyRepo_Revoke(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPIKeyRepo(db, nil)

	at := time.Now()
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{at, "key_1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.Revoke(context.Background(), "key_1", at))
	db.AssertExpectations(t)
}

// --- OrganizationRepo / UserRepo Tests ---

func TestOrganizationRepo_IsMember(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOrganizationRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"org_1", "user_1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*(dest[0].(*bool)) = true
			return nil
		}})

	ok, err := repo.IsMember(context.Background(), "org_1", "user_1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOrganizationRepo_GetBillingEmail_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOrganizationRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetBillingEmail(context.Background(), "org_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundOrg, appErr.Code)
}

func TestUserRepo_GetBillingEmail(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*(dest[0].(*string)) = "user@example.com"
			return nil
		}})

	email, err := repo.GetBillingEmail(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", email)
}

// --- TenantDirectory Tests ---

func TestTenantDirectory_RoutesByKind(t *testing.T) {
	db := new(mockDBTX)
	directory := NewTenantDirectory(NewUserRepo(db, nil), NewOrganizationRepo(db, nil))

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*(dest[0].(*string)) = "user@example.com"
			return nil
		}}).Once()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"org_1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*(dest[0].(*string)) = "org@example.com"
			return nil
		}}).Once()

	email, err := directory.GetBillingEmail(context.Background(), types.TenantRef{Kind: types.TenantUser, ID: "user_1"})
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", email)

	email, err = directory.GetBillingEmail(context.Background(), types.TenantRef{Kind: types.TenantOrganization, ID: "org_1"})
	require.NoError(t, err)
	assert.Equal(t, "org@example.com", email)
}
