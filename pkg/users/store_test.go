package users

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/gatherly/pkg/httputil"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestCreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Create(context.Background(), &User{Username: "alice", Email: "a@b.co"})
	svcErr, ok := httputil.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 409, svcErr.Status)
}

func TestUpdateProfileSparse(t *testing.T) {
	store, mock := newMockStore(t)

	bio := "new bio"
	mock.ExpectQuery(`UPDATE users SET bio = \$2, updated_at = now\(\) WHERE id = \$1 RETURNING`).
		WithArgs(int64(1), bio).
		WillReturnRows(userRow(t, 1, "alice", "x", true, nil, ""))

	u, err := store.UpdateProfile(context.Background(), 1, ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestUpdateProfileNoFields(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.UpdateProfile(context.Background(), 1, ProfileUpdate{})
	svcErr, ok := httputil.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 400, svcErr.Status)
}

func TestUpdateProfileUsernameConflict(t *testing.T) {
	store, mock := newMockStore(t)

	name := "taken"
	mock.ExpectQuery("UPDATE users SET username").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := store.UpdateProfile(context.Background(), 1, ProfileUpdate{Username: &name})
	svcErr, ok := httputil.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 409, svcErr.Status)
}

func TestUpdateProfileClearDOB(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE users SET date_of_birth = NULL, updated_at = now\(\)`).
		WithArgs(int64(1)).
		WillReturnRows(userRow(t, 1, "alice", "x", true, nil, ""))

	_, err := store.UpdateProfile(context.Background(), 1, ProfileUpdate{ClearDOB: true})
	require.NoError(t, err)
}

func TestUpdatePasswordClearsRefreshToken(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE users SET password_hash = \$2, refresh_token_id = ''`).
		WithArgs(int64(1), "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdatePassword(context.Background(), 1, "new-hash"))
}

func TestListSearchMatchesUsernameOrEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE lower\(username\) LIKE \$1 OR lower\(email\) LIKE \$1`).
		WithArgs("%ali%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM users WHERE lower\(username\) LIKE \$1 OR lower\(email\) LIKE \$1 ORDER BY id LIMIT \$2 OFFSET \$3`).
		WithArgs("%ali%", 20, 0).
		WillReturnRows(userRow(t, 1, "alice", "x", true, nil, ""))

	list, total, err := store.List(context.Background(), "Ali", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Username)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWithoutSearch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`FROM users ORDER BY id LIMIT \$1 OFFSET \$2`).
		WithArgs(20, 0).
		WillReturnRows(userRow(t, 1, "alice", "x", true, nil, ""))

	_, total, err := store.List(context.Background(), "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSetIdentityProvider(t *testing.T) {
	store, mock := newMockStore(t)

	pid := int64(3)
	mock.ExpectExec(`UPDATE users SET identity_provider_id = \$2`).
		WithArgs(int64(1), pid).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetIdentityProvider(context.Background(), 1, &pid))
}

func TestSetIdentityProviderClear(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE users SET identity_provider_id = \$2`).
		WithArgs(int64(1), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetIdentityProvider(context.Background(), 1, nil))
}

func TestGetByIDCarriesIdentityProvider(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "full_name", "date_of_birth", "bio",
		"location", "website", "avatar_url", "cover_url", "privacy", "notifications",
		"refresh_token_id", "identity_provider_id", "is_active", "deactivated_at", "deactivation_reason", "created_at", "updated_at",
	}).AddRow(int64(1), "alice", "a@b.co", "x", "", nil, "",
		"", "", "", "", []byte(`{}`), []byte(`{}`),
		"", int64(3), true, nil, "", now, now)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(rows)

	u, err := store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, u.IdentityProviderID)
	assert.Equal(t, int64(3), *u.IdentityProviderID)
}

func TestSetIdentityProviderUnknownProvider(t *testing.T) {
	store, mock := newMockStore(t)

	pid := int64(99)
	mock.ExpectExec(`UPDATE users SET identity_provider_id = \$2`).
		WillReturnError(&pq.Error{Code: "23503"})

	err := store.SetIdentityProvider(context.Background(), 1, &pid)
	svcErr, ok := httputil.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 404, svcErr.Status)
}

func TestDeactivateMissingUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET is_active = FALSE").
		WithArgs(int64(9), "done with it").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Deactivate(context.Background(), 9, "done with it")
	svcErr, ok := httputil.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 404, svcErr.Status)
}

func TestPurgeDeactivatedBefore(t *testing.T) {
	store, mock := newMockStore(t)

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec("DELETE FROM users WHERE NOT is_active AND deactivated_at").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.PurgeDeactivatedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
