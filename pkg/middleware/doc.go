// Package middleware provides the HTTP middleware chain for the API
// server: request IDs, structured request logging, panic recovery,
// CORS, body-size limits, bearer-token authentication, and Redis-backed
// rate limiting for the credential endpoints.
//
// Ordering matters. The request-ID middleware must run first so every
// log line and audit record carries the ID, and the authentication
// middleware must run before anything that reads the actor from the
// request context.
package middleware
