// Package audit records security-relevant events to postgres and
// serves them to administrators.
package audit

import (
	"context"
	"time"
)

// Outcome of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is one audit record. ActorID is nil for unauthenticated
// actions such as failed logins.
type Event struct {
	ID         int64                  `json:"id"`
	OccurredAt time.Time              `json:"occurredAt"`
	ActorID    *int64                 `json:"actorId,omitempty"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	Outcome    Outcome                `json:"outcome"`
	RequestID  string                 `json:"requestId,omitempty"`
	RemoteAddr string                 `json:"remoteAddr,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
}

// Filter narrows List queries. Zero values mean "no constraint".
type Filter struct {
	ActorID  int64
	Action   string
	Resource string
	Outcome  Outcome
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Recorder persists and queries audit events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
	List(ctx context.Context, f Filter) ([]Event, int, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
