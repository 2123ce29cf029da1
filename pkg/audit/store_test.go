package audit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/gatherly/pkg/observability"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, observability.NewLogger(observability.ErrorLevel, io.Discard)), mock
}

func TestRecord(t *testing.T) {
	store, mock := newTestStore(t)

	actor := int64(42)
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "user.login", "user:42", "success", "req-1", "10.0.0.1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Record(context.Background(), Event{
		ActorID:    &actor,
		Action:     "user.login",
		Resource:   "user:42",
		Outcome:    OutcomeSuccess,
		RequestID:  "req-1",
		RemoteAddr: "10.0.0.1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListWithFilters(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_logs WHERE actor_id = \\$1 AND action = \\$2").
		WithArgs(int64(42), "user.login").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "occurred_at", "actor_id", "action", "resource", "outcome", "request_id", "remote_addr", "detail"}).
		AddRow(int64(9), now, int64(42), "user.login", "user:42", "success", "req-1", "10.0.0.1", []byte(`{"method":"password"}`))
	mock.ExpectQuery("SELECT id, occurred_at, actor_id").
		WithArgs(int64(42), "user.login", 50, 0).
		WillReturnRows(rows)

	events, total, err := store.List(context.Background(), Filter{ActorID: 42, Action: "user.login"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, "user.login", events[0].Action)
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, int64(42), *events[0].ActorID)
	assert.Equal(t, "password", events[0].Detail["method"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListNoFilters(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT id, occurred_at, actor_id").
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at", "actor_id", "action", "resource", "outcome", "request_id", "remote_addr", "detail"}))

	events, total, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, events)
}

func TestPurgeOlderThan(t *testing.T) {
	store, mock := newTestStore(t)

	cutoff := time.Now().Add(-90 * 24 * time.Hour)
	mock.ExpectExec("DELETE FROM audit_logs WHERE occurred_at < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 17))

	n, err := store.PurgeOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)
}
