package users

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/gatherly/pkg/audit"
	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/config"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
	"github.com/gatherly/gatherly/pkg/rbac"
	"github.com/gatherly/gatherly/pkg/sessions"
)

type fakeRoles struct {
	assigned []int64
}

func (f *fakeRoles) RolesForUser(context.Context, int64) ([]string, error) {
	return []string{rbac.RoleMember}, nil
}

func (f *fakeRoles) GetRoleByName(_ context.Context, name string) (*rbac.Role, error) {
	return &rbac.Role{ID: 2, Name: name}, nil
}

func (f *fakeRoles) AssignRole(_ context.Context, userID, _ int64) error {
	f.assigned = append(f.assigned, userID)
	return nil
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, audit.Event) error { return nil }

func (noopAudit) List(context.Context, audit.Filter) ([]audit.Event, int, error) {
	return nil, 0, nil
}

func (noopAudit) PurgeOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *fakeRoles) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	roles := &fakeRoles{}
	svc := NewService(
		NewStore(db),
		roles,
		auth.NewPasswordHasher(10),
		auth.NewTokenManager(config.AuthConfig{
			AccessSecret:  "a-secret",
			RefreshSecret: "r-secret",
			AccessTTL:     time.Minute,
			RefreshTTL:    time.Hour,
			Issuer:        "gatherly-test",
		}),
		sessions.NewStore(client, time.Hour),
		noopAudit{},
		observability.NewMetrics(nil),
		observability.NewLogger(observability.ErrorLevel, io.Discard),
		30*24*time.Hour,
	)
	return svc, mock, roles
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	svcErr, ok := httputil.AsError(err)
	require.True(t, ok, "expected service error, got %v", err)
	assert.Equal(t, status, svcErr.Status)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   RegisterInput
	}{
		{"missing fields", RegisterInput{}},
		{"short username", RegisterInput{Username: "ab", Email: "a@b.co", Password: "longenough"}},
		{"bad username chars", RegisterInput{Username: "has space", Email: "a@b.co", Password: "longenough"}},
		{"bad email", RegisterInput{Username: "valid_name", Email: "nope", Password: "longenough"}},
		{"short password", RegisterInput{Username: "valid_name", Email: "a@b.co", Password: "short"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.in)
			requireStatus(t, err, 400)
		})
	}
}

func TestRegisterSuccess(t *testing.T) {
	svc, mock, roles := newTestService(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("new_user", "new@example.com", sqlmock.AnyArg(), "New User", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(1, now, now))

	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "New_User",
		Email:    "New@Example.com",
		Password: "longenough",
		FullName: "New User",
	})
	require.NoError(t, err)
	assert.Equal(t, "new_user", user.Username)
	assert.Equal(t, "new@example.com", user.Email)
	assert.NotEmpty(t, user.PasswordHash)
	assert.Equal(t, []string{rbac.RoleMember}, user.Roles)
	assert.Equal(t, []int64{1}, roles.assigned)
	assert.True(t, user.Privacy.IsProfilePublic)
	assert.True(t, user.Notifications.EmailNotifications)
}

func userRow(t *testing.T, id int64, username, passwordHash string, active bool, deactivatedAt *time.Time, refreshTokenID string) *sqlmock.Rows {
	t.Helper()
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "full_name", "date_of_birth", "bio",
		"location", "website", "avatar_url", "cover_url", "privacy", "notifications",
		"refresh_token_id", "identity_provider_id", "is_active", "deactivated_at", "deactivation_reason", "created_at", "updated_at",
	})
	var dAt interface{}
	if deactivatedAt != nil {
		dAt = *deactivatedAt
	}
	rows.AddRow(id, username, username+"@example.com", passwordHash, "", nil, "",
		"", "", "", "", []byte(`{}`), []byte(`{}`),
		refreshTokenID, nil, active, dAt, "", now, now)
	return rows
}

func TestLoginSuccess(t *testing.T) {
	svc, mock, _ := newTestService(t)
	hash, err := auth.NewPasswordHasher(10).Hash("correct-horse")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE lower\\(username\\)").
		WithArgs("alice").
		WillReturnRows(userRow(t, 1, "alice", hash, true, nil, ""))
	mock.ExpectExec("UPDATE users SET refresh_token_id").
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "correct-horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.False(t, result.Reactivated)

	// The session record shares the refresh jti, so the sid claim on
	// the access token resolves to it.
	assert.Equal(t, result.Tokens.RefreshTokenID, result.Session.ID)
	claims, err := svc.tokens.VerifyAccess(result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, claims.SessionID)
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, mock, _ := newTestService(t)
	ctx := context.Background()
	hash, err := auth.NewPasswordHasher(10).Hash("correct-horse")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE lower\\(username\\)").
		WithArgs("alice").
		WillReturnRows(userRow(t, 1, "alice", hash, true, nil, ""))
	mock.ExpectExec("UPDATE users SET refresh_token_id").
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.Login(ctx, LoginInput{Login: "alice", Password: "correct-horse"})
	require.NoError(t, err)

	claims, err := svc.tokens.VerifyAccess(result.Tokens.AccessToken)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE users SET refresh_token_id").
		WithArgs(int64(1), "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Logout(ctx, 1, claims.SessionID))

	list, err := svc.sessions.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, mock, _ := newTestService(t)
	hash, err := auth.NewPasswordHasher(10).Hash("correct-horse")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE lower\\(username\\)").
		WithArgs("alice").
		WillReturnRows(userRow(t, 1, "alice", hash, true, nil, ""))

	_, err = svc.Login(context.Background(), LoginInput{Login: "alice", Password: "wrong"})
	requireStatus(t, err, 401)
}

func TestLoginUnknownUserHidesExistence(t *testing.T) {
	svc, mock, _ := newTestService(t)

	// Empty result set: not found maps to a generic 401.
	mock.ExpectQuery("SELECT (.+) FROM users WHERE lower\\(username\\)").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.Login(context.Background(), LoginInput{Login: "ghost", Password: "whatever"})
	requireStatus(t, err, 401)
}

func TestLoginReactivatesWithinWindow(t *testing.T) {
	svc, mock, _ := newTestService(t)
	hash, err := auth.NewPasswordHasher(10).Hash("correct-horse")
	require.NoError(t, err)

	deactivated := time.Now().Add(-10 * 24 * time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE lower\\(username\\)").
		WithArgs("alice").
		WillReturnRows(userRow(t, 1, "alice", hash, false, &deactivated, ""))
	mock.ExpectExec("UPDATE users SET is_active = TRUE").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET refresh_token_id").
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "correct-horse"})
	require.NoError(t, err)
	assert.True(t, result.Reactivated)
	assert.True(t, result.User.IsActive)
}

func TestLoginRejectsPastReactivationWindow(t *testing.T) {
	svc, mock, _ := newTestService(t)
	hash, err := auth.NewPasswordHasher(10).Hash("correct-horse")
	require.NoError(t, err)

	deactivated := time.Now().Add(-40 * 24 * time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE lower\\(username\\)").
		WithArgs("alice").
		WillReturnRows(userRow(t, 1, "alice", hash, false, &deactivated, ""))

	_, err = svc.Login(context.Background(), LoginInput{Login: "alice", Password: "correct-horse"})
	requireStatus(t, err, 401)
}

func TestRefreshRotates(t *testing.T) {
	svc, mock, _ := newTestService(t)

	pair, err := svc.tokens.IssuePair(1)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(userRow(t, 1, "alice", "x", true, nil, pair.RefreshTokenID))
	mock.ExpectExec("UPDATE users SET refresh_token_id").
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	fresh, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshTokenID, fresh.RefreshTokenID)

	// The session record follows the rotation to the new jti.
	list, err := svc.sessions.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fresh.RefreshTokenID, list[0].ID)
}

func TestRefreshRejectsRevokedToken(t *testing.T) {
	svc, mock, _ := newTestService(t)

	pair, err := svc.tokens.IssuePair(1)
	require.NoError(t, err)

	// Stored jti differs: this token was superseded.
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(userRow(t, 1, "alice", "x", true, nil, "different-jti"))

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	requireStatus(t, err, 401)
}

func TestRefreshRejectsGarbage(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Refresh(context.Background(), "not-a-token")
	requireStatus(t, err, 401)
}
