package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GATHERLY_DATABASE_URL", "postgres://localhost/gatherly?sslmode=disable")
	t.Setenv("GATHERLY_JWT_ACCESS_SECRET", "access-secret")
	t.Setenv("GATHERLY_JWT_REFRESH_SECRET", "refresh-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "0.0.0.0:8081", cfg.Server.HealthAddr())
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Database.MigrateOnStart)
	assert.Equal(t, "@hourly", cfg.Maintenance.PurgeSchedule)
	assert.Equal(t, 30*24*time.Hour, cfg.Maintenance.DeactivationWindow)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("GATHERLY_SERVER_PORT", "9000")
	t.Setenv("GATHERLY_JWT_ACCESS_TTL", "5m")
	t.Setenv("GATHERLY_CORS_ORIGINS", "https://app.gatherly.io, https://admin.gatherly.io")
	t.Setenv("GATHERLY_METRICS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, []string{"https://app.gatherly.io", "https://admin.gatherly.io"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("GATHERLY_JWT_ACCESS_SECRET", "access-secret")
	t.Setenv("GATHERLY_JWT_REFRESH_SECRET", "refresh-secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATHERLY_DATABASE_URL")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		setRequired(t)
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	t.Run("same secrets rejected", func(t *testing.T) {
		cfg := base()
		cfg.Auth.RefreshSecret = cfg.Auth.AccessSecret
		assert.Error(t, cfg.Validate())
	})

	t.Run("access TTL must be shorter", func(t *testing.T) {
		cfg := base()
		cfg.Auth.AccessTTL = cfg.Auth.RefreshTTL
		assert.Error(t, cfg.Validate())
	})

	t.Run("port collision rejected", func(t *testing.T) {
		cfg := base()
		cfg.Server.HealthPort = cfg.Server.Port
		assert.Error(t, cfg.Validate())
	})

	t.Run("idle conns capped by open conns", func(t *testing.T) {
		cfg := base()
		cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns + 1
		assert.Error(t, cfg.Validate())
	})

	t.Run("bcrypt cost bounds", func(t *testing.T) {
		cfg := base()
		cfg.Auth.BcryptCost = 4
		assert.Error(t, cfg.Validate())
	})
}
