package maintenance

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/gatherly/gatherly/pkg/config"
	"github.com/gatherly/gatherly/pkg/observability"
)

type fakeUsers struct {
	purged     int64
	purgeErr   error
	total      int64
	active     int64
	lastCutoff time.Time
}

func (f *fakeUsers) PurgeDeactivatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.lastCutoff = cutoff
	return f.purged, f.purgeErr
}

func (f *fakeUsers) Counts(context.Context) (int64, int64, error) {
	return f.total, f.active, nil
}

type fakeAudits struct {
	trimmed    int64
	lastCutoff time.Time
}

func (f *fakeAudits) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.lastCutoff = cutoff
	return f.trimmed, nil
}

type fakeGroups struct {
	count int64
	err   error
}

func (f *fakeGroups) Count(context.Context) (int64, error) { return f.count, f.err }

func newTestScheduler(users *fakeUsers, audits *fakeAudits, groups *fakeGroups) (*Scheduler, *observability.Metrics) {
	cfg := config.MaintenanceConfig{
		Enabled:             true,
		PurgeSchedule:       "@hourly",
		DeactivationWindow:  30 * 24 * time.Hour,
		AuditRetention:      90 * 24 * time.Hour,
		GaugeRefreshMinutes: 5,
	}
	metrics := observability.NewMetrics(nil)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewScheduler(cfg, users, audits, groups, nil, metrics, logger), metrics
}

func TestRunPurgeUsesConfiguredWindows(t *testing.T) {
	users := &fakeUsers{purged: 3}
	audits := &fakeAudits{trimmed: 7}
	s, _ := newTestScheduler(users, audits, &fakeGroups{})

	before := time.Now()
	s.RunPurge(context.Background())

	wantUserCutoff := before.Add(-30 * 24 * time.Hour)
	assert.WithinDuration(t, wantUserCutoff, users.lastCutoff, time.Minute)

	wantAuditCutoff := before.Add(-90 * 24 * time.Hour)
	assert.WithinDuration(t, wantAuditCutoff, audits.lastCutoff, time.Minute)
}

func TestRunPurgeSurvivesPurgeError(t *testing.T) {
	users := &fakeUsers{purgeErr: errors.New("db down")}
	audits := &fakeAudits{}
	s, _ := newTestScheduler(users, audits, &fakeGroups{})

	s.RunPurge(context.Background())

	// The audit purge still runs after a user-purge failure.
	assert.False(t, audits.lastCutoff.IsZero())
}

func TestRefreshGauges(t *testing.T) {
	users := &fakeUsers{total: 120, active: 100}
	groups := &fakeGroups{count: 14}
	s, metrics := newTestScheduler(users, &fakeAudits{}, groups)

	s.RefreshGauges(context.Background())

	assert.Equal(t, float64(120), testutil.ToFloat64(metrics.UsersTotal))
	assert.Equal(t, float64(100), testutil.ToFloat64(metrics.ActiveUsersTotal))
	assert.Equal(t, float64(14), testutil.ToFloat64(metrics.GroupsTotal))
}

func TestRefreshGaugesSkipsFailedCounter(t *testing.T) {
	users := &fakeUsers{total: 5, active: 5}
	groups := &fakeGroups{err: errors.New("db down")}
	s, metrics := newTestScheduler(users, &fakeAudits{}, groups)

	s.RefreshGauges(context.Background())

	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.UsersTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.GroupsTotal))
}
