package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/config"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
	"github.com/gatherly/gatherly/pkg/users"
)

type fakeUsers struct {
	user *users.User
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*users.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, httputil.NotFound("user not found")
	}
	return f.user, nil
}

type fakeRoles struct {
	roles []string
}

func (f *fakeRoles) RolesForUser(context.Context, int64) ([]string, error) {
	return f.roles, nil
}

func newTokenManager() *auth.TokenManager {
	return auth.NewTokenManager(config.AuthConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "gatherly",
	})
}

func newAuthenticator(user *users.User, roles []string) (*Authenticator, *auth.TokenManager) {
	tokens := newTokenManager()
	a := NewAuthenticator(tokens, &fakeUsers{user: user}, &fakeRoles{roles: roles},
		observability.NewLogger(observability.ErrorLevel, io.Discard))
	return a, tokens
}

func echoActor(t *testing.T, captured **auth.Actor) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFromContext(r.Context())
		require.True(t, ok)
		*captured = actor
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorAttachesActor(t *testing.T) {
	user := &users.User{ID: 42, Username: "alice", Email: "alice@example.com", IsActive: true}
	a, tokens := newAuthenticator(user, []string{"member"})
	pair, err := tokens.IssuePair(42)
	require.NoError(t, err)

	var actor *auth.Actor
	handler := a.Handler(echoActor(t, &actor))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, actor)
	assert.Equal(t, int64(42), actor.ID)
	assert.Equal(t, "alice", actor.Username)
	assert.Equal(t, []string{"member"}, actor.Roles)
	assert.Equal(t, pair.RefreshTokenID, actor.SessionID)
}

func TestAuthenticatorRejections(t *testing.T) {
	active := &users.User{ID: 42, Username: "alice", IsActive: true}
	inactive := &users.User{ID: 42, Username: "alice", IsActive: false}

	cases := []struct {
		name   string
		user   *users.User
		header func(tokens *auth.TokenManager) string
	}{
		{"missing header", active, func(*auth.TokenManager) string { return "" }},
		{"not bearer", active, func(*auth.TokenManager) string { return "Basic abc" }},
		{"garbage token", active, func(*auth.TokenManager) string { return "Bearer not-a-jwt" }},
		{"refresh token rejected", active, func(tokens *auth.TokenManager) string {
			pair, _ := tokens.IssuePair(42)
			return "Bearer " + pair.RefreshToken
		}},
		{"unknown user", nil, func(tokens *auth.TokenManager) string {
			pair, _ := tokens.IssuePair(42)
			return "Bearer " + pair.AccessToken
		}},
		{"deactivated user", inactive, func(tokens *auth.TokenManager) string {
			pair, _ := tokens.IssuePair(42)
			return "Bearer " + pair.AccessToken
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, tokens := newAuthenticator(tc.user, nil)
			handler := a.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler should not run")
			}))

			req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
			if header := tc.header(tokens); header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
