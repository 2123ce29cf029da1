// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorKey contains *auth.Actor
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: all protected API endpoints, RBAC middleware
	ActorKey Key = "actor"

	// RequestIDKey contains the request ID string
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// SessionIDKey contains the session ID (refresh token jti)
	// Set by: middleware.AuthMiddleware when the access token carries one
	SessionIDKey Key = "session_id"
)

// WithActor adds the authenticated actor to the context
func WithActor(ctx context.Context, actor interface{}) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID extracts the request ID from the context, or ""
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID adds the session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// SessionID extracts the session ID from the context, or ""
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(SessionIDKey).(string); ok {
		return v
	}
	return ""
}
