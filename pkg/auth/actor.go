package auth

import (
	"context"
	"time"

	"github.com/gatherly/gatherly/pkg/contextkeys"
)

// Actor is the authenticated principal attached to request contexts by
// the auth middleware. It carries only what authorization decisions and
// audit records need.
type Actor struct {
	ID        int64
	Username  string
	Email     string
	Roles     []string
	SessionID string
	IssuedAt  time.Time
}

// ActorFromContext returns the actor attached by the auth middleware.
func ActorFromContext(ctx context.Context) (*Actor, bool) {
	actor, ok := ctx.Value(contextkeys.ActorKey).(*Actor)
	return actor, ok
}

// HasRole reports whether the actor carries the named role.
func (a *Actor) HasRole(name string) bool {
	for _, r := range a.Roles {
		if r == name {
			return true
		}
	}
	return false
}
