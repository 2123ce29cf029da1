// Package postgres manages the PostgreSQL connection pool and schema
// migrations for Gatherly.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/gatherly/gatherly/pkg/config"
	"github.com/gatherly/gatherly/pkg/observability"
)

// ConnectionManager owns the database pool and exposes it to stores.
type ConnectionManager struct {
	db     *sql.DB
	logger *observability.Logger
}

// Connect opens the pool, applies pool limits from config, and pings
// the server before returning.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *observability.Logger) (*ConnectionManager, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}).Info("connected to postgres")

	return &ConnectionManager{db: db, logger: logger}, nil
}

// DB returns the underlying pool.
func (m *ConnectionManager) DB() *sql.DB {
	return m.db
}

// Close closes the pool.
func (m *ConnectionManager) Close() error {
	m.logger.Info("closing postgres connection pool")
	return m.db.Close()
}

// Stats reports pool statistics for metrics gauges.
func (m *ConnectionManager) Stats() sql.DBStats {
	return m.db.Stats()
}
