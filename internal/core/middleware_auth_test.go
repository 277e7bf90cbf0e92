package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/types"
)

func authedHandler(gotActor **types.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := types.GetActor(r.Context()); ok {
			*gotActor = &actor
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareInjectsActor(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &MockAuthenticator{
		Actor: &types.Actor{UserID: "user_1", Type: types.ActorTypeUser},
	}

	var actor *types.Actor
	handler := srv.AuthMiddleware(authedHandler(&actor))

	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer sess_abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, actor)
	assert.Equal(t, "user_1", actor.UserID)
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &MockAuthenticator{}

	handler := srv.AuthMiddleware(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/usage", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeAuthTokenMissing))
}

func TestAuthMiddlewareMalformedScheme(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &MockAuthenticator{}

	handler := srv.AuthMiddleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareExpiredSession(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &MockAuthenticator{
		Err: types.NewAppError(types.ErrCodeAuthSessionExpired, "session has expired", nil),
	}

	handler := srv.AuthMiddleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer sess_old")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeAuthSessionExpired))
}

func TestAuthMiddlewarePublicPaths(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &MockAuthenticator{Err: assert.AnError}

	handler := srv.AuthMiddleware(okHandler())

	for _, path := range []string{"/health", "/v1/billing/webhook"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "path %s should bypass auth", path)
	}
}

func TestAuthMiddlewareCaseInsensitiveBearer(t *testing.T) {
	srv := testServer(t)
	auth := &MockAuthenticator{Actor: &types.Actor{UserID: "user_1", Type: types.ActorTypeUser}}
	srv.Authenticator = auth

	handler := srv.AuthMiddleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set("Authorization", "bearer mk_token123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"mk_token123"}, auth.SeenTokens())
}
