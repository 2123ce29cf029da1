package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gatherly/gatherly/pkg/observability"
)

// Store is the postgres-backed Recorder.
type Store struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewStore builds a Store.
func NewStore(db *sql.DB, logger *observability.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Record inserts one event. Failures are logged but also returned so
// callers can decide whether the operation itself should fail; most
// call sites log and continue.
func (s *Store) Record(ctx context.Context, ev Event) error {
	detail := ev.Detail
	if detail == nil {
		detail = map[string]interface{}{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	var actorID sql.NullInt64
	if ev.ActorID != nil {
		actorID = sql.NullInt64{Int64: *ev.ActorID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (occurred_at, actor_id, action, resource, outcome, request_id, remote_addr, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		occurredAt, actorID, ev.Action, ev.Resource, string(ev.Outcome), ev.RequestID, ev.RemoteAddr, raw)
	if err != nil {
		s.logger.WithError(err).WithField("action", ev.Action).Error("failed to record audit event")
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// List returns events matching the filter, newest first, plus the
// total match count for pagination.
func (s *Store) List(ctx context.Context, f Filter) ([]Event, int, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ActorID != 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Resource != "" {
		add("resource = $%d", f.Resource)
	}
	if f.Outcome != "" {
		add("outcome = $%d", string(f.Outcome))
	}
	if !f.Since.IsZero() {
		add("occurred_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("occurred_at < $%d", f.Until)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT id, occurred_at, actor_id, action, resource, outcome, request_id, remote_addr, detail
		FROM audit_logs%s
		ORDER BY occurred_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev      Event
			actorID sql.NullInt64
			outcome string
			raw     []byte
		)
		if err := rows.Scan(&ev.ID, &ev.OccurredAt, &actorID, &ev.Action, &ev.Resource, &outcome, &ev.RequestID, &ev.RemoteAddr, &raw); err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		if actorID.Valid {
			ev.ActorID = &actorID.Int64
		}
		ev.Outcome = Outcome(outcome)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ev.Detail); err != nil {
				return nil, 0, fmt.Errorf("unmarshal audit detail: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, total, nil
}

// PurgeOlderThan deletes events before the cutoff and returns the
// number removed. Called by the retention job.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit events: rows affected: %w", err)
	}
	return n, nil
}
