// Package maintenance runs the scheduled background jobs: purging
// accounts whose reactivation window has lapsed, enforcing audit-log
// retention, and refreshing the business gauges.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gatherly/gatherly/pkg/config"
	"github.com/gatherly/gatherly/pkg/observability"
)

// UserPurger is the slice of the user store the scheduler needs.
type UserPurger interface {
	PurgeDeactivatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Counts(ctx context.Context) (total, active int64, err error)
}

// AuditPurger trims old audit records.
type AuditPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// GroupCounter reports the total group count for the gauge.
type GroupCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Scheduler owns the cron instance and the jobs it runs.
type Scheduler struct {
	cfg     config.MaintenanceConfig
	cron    *cron.Cron
	users   UserPurger
	audits  AuditPurger
	groups  GroupCounter
	db      *sql.DB
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewScheduler builds a scheduler; Start wires and starts the jobs.
func NewScheduler(cfg config.MaintenanceConfig, users UserPurger, audits AuditPurger, groups GroupCounter, db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		cron:    cron.New(),
		users:   users,
		audits:  audits,
		groups:  groups,
		db:      db,
		metrics: metrics,
		logger:  logger,
	}
}

// Start registers and starts the scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.PurgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.RunPurge(ctx)
	}); err != nil {
		return fmt.Errorf("schedule purge job: %w", err)
	}

	gaugeSchedule := fmt.Sprintf("@every %dm", s.cfg.GaugeRefreshMinutes)
	if _, err := s.cron.AddFunc(gaugeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.RefreshGauges(ctx)
	}); err != nil {
		return fmt.Errorf("schedule gauge refresh: %w", err)
	}

	s.cron.Start()
	s.logger.WithFields(map[string]interface{}{
		"purge_schedule": s.cfg.PurgeSchedule,
		"gauge_schedule": gaugeSchedule,
	}).Info("maintenance scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("maintenance scheduler stopped")
}

// RunPurge deletes users deactivated longer ago than the reactivation
// window and audit records past retention. Exposed so operators can
// trigger it outside the schedule.
func (s *Scheduler) RunPurge(ctx context.Context) {
	userCutoff := time.Now().Add(-s.cfg.DeactivationWindow)
	purged, err := s.users.PurgeDeactivatedBefore(ctx, userCutoff)
	if err != nil {
		s.logger.WithError(err).Error("purge deactivated users")
	} else if purged > 0 {
		s.logger.WithField("purged", purged).Info("purged deactivated users")
	}

	auditCutoff := time.Now().Add(-s.cfg.AuditRetention)
	trimmed, err := s.audits.PurgeOlderThan(ctx, auditCutoff)
	if err != nil {
		s.logger.WithError(err).Error("purge audit logs")
	} else if trimmed > 0 {
		s.logger.WithField("purged", trimmed).Info("trimmed audit logs")
	}
}

// RefreshGauges updates the business and connection-pool gauges.
func (s *Scheduler) RefreshGauges(ctx context.Context) {
	total, active, err := s.users.Counts(ctx)
	if err != nil {
		s.logger.WithError(err).Error("count users")
	} else {
		s.metrics.UsersTotal.Set(float64(total))
		s.metrics.ActiveUsersTotal.Set(float64(active))
	}

	groupCount, err := s.groups.Count(ctx)
	if err != nil {
		s.logger.WithError(err).Error("count groups")
	} else {
		s.metrics.GroupsTotal.Set(float64(groupCount))
	}

	if s.db != nil {
		stats := s.db.Stats()
		s.metrics.DBConnectionsActive.Set(float64(stats.InUse))
		s.metrics.DBConnectionsIdle.Set(float64(stats.Idle))
	}
}
