// Package observability provides structured JSON logging, Prometheus
// metrics, and health checks for the Gatherly API server.
package observability
