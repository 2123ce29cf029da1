package rbac

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/gatherly/pkg/observability"
)

type fakeSource struct {
	policies map[int64][]Policy
	roles    map[int64][]int64 // roleID -> userIDs
	loads    int
}

func (f *fakeSource) PoliciesForUser(_ context.Context, userID int64) ([]Policy, error) {
	f.loads++
	return f.policies[userID], nil
}

func (f *fakeSource) UsersWithRole(_ context.Context, roleID int64) ([]int64, error) {
	return f.roles[roleID], nil
}

func newTestChecker(t *testing.T, source *fakeSource) *Checker {
	t.Helper()
	checker, err := NewChecker(source, 128,
		observability.NewMetrics(nil),
		observability.NewLogger(observability.ErrorLevel, io.Discard))
	require.NoError(t, err)
	return checker
}

func TestCheckerCachesDecisions(t *testing.T) {
	source := &fakeSource{policies: map[int64][]Policy{1: {allowAll()}}}
	checker := newTestChecker(t, source)
	ctx := context.Background()

	allowed, err := checker.Allowed(ctx, 1, "group.read", "group:1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, source.loads)

	// Second identical check hits the cache.
	allowed, err = checker.Allowed(ctx, 1, "group.read", "group:1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, source.loads)

	// Different resource misses.
	_, err = checker.Allowed(ctx, 1, "group.read", "group:2")
	require.NoError(t, err)
	assert.Equal(t, 2, source.loads)
}

func TestCheckerPrunesIndexOnEviction(t *testing.T) {
	source := &fakeSource{policies: map[int64][]Policy{1: {allowAll()}}}
	checker, err := NewChecker(source, 4,
		observability.NewMetrics(nil),
		observability.NewLogger(observability.ErrorLevel, io.Discard))
	require.NoError(t, err)
	ctx := context.Background()

	// Churn far past the cache capacity.
	for i := 0; i < 100; i++ {
		_, err := checker.Allowed(ctx, 1, "group.read", fmt.Sprintf("group:%d", i))
		require.NoError(t, err)
	}

	checker.mu.Lock()
	indexed := len(checker.users[1])
	checker.mu.Unlock()
	assert.LessOrEqual(t, indexed, 4)

	// Evicted users disappear from the index entirely.
	_, err = checker.Allowed(ctx, 2, "x", "y")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := checker.Allowed(ctx, 3, "x", fmt.Sprintf("r:%d", i))
		require.NoError(t, err)
	}

	checker.mu.Lock()
	_, user2Indexed := checker.users[2]
	checker.mu.Unlock()
	assert.False(t, user2Indexed)
}

func TestCheckerDefaultDenyForUnknownUser(t *testing.T) {
	source := &fakeSource{policies: map[int64][]Policy{}}
	checker := newTestChecker(t, source)

	allowed, err := checker.Allowed(context.Background(), 99, "x", "y")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckerInvalidateUser(t *testing.T) {
	source := &fakeSource{policies: map[int64][]Policy{1: nil}}
	checker := newTestChecker(t, source)
	ctx := context.Background()

	allowed, err := checker.Allowed(ctx, 1, "x", "y")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Grant and invalidate: the next check must reload.
	source.policies[1] = []Policy{allowAll()}
	checker.InvalidateUser(1)

	allowed, err = checker.Allowed(ctx, 1, "x", "y")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, source.loads)
}

func TestCheckerInvalidateRole(t *testing.T) {
	source := &fakeSource{
		policies: map[int64][]Policy{1: {allowAll()}, 2: {allowAll()}},
		roles:    map[int64][]int64{10: {1}},
	}
	checker := newTestChecker(t, source)
	ctx := context.Background()

	_, err := checker.Allowed(ctx, 1, "x", "y")
	require.NoError(t, err)
	_, err = checker.Allowed(ctx, 2, "x", "y")
	require.NoError(t, err)
	require.Equal(t, 2, source.loads)

	checker.InvalidateRole(ctx, 10)

	// User 1 reloads, user 2 still cached.
	_, err = checker.Allowed(ctx, 1, "x", "y")
	require.NoError(t, err)
	_, err = checker.Allowed(ctx, 2, "x", "y")
	require.NoError(t, err)
	assert.Equal(t, 3, source.loads)
}
