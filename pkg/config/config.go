// Package config loads Gatherly's runtime configuration from the
// environment. All variables are prefixed GATHERLY_ and have sane
// defaults for local development except secrets, which must be set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the Gatherly server.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
	Maintenance   MaintenanceConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	HealthPort      int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// RedisConfig holds Redis connection settings for the session store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds token signing and password hashing settings.
type AuthConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	BcryptCost    int
	SecureCookies bool
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool
}

// MaintenanceConfig holds background job settings.
type MaintenanceConfig struct {
	Enabled             bool
	PurgeSchedule       string
	DeactivationWindow  time.Duration
	AuditRetention      time.Duration
	GaugeRefreshMinutes int
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GATHERLY_SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("GATHERLY_SERVER_PORT", 8080),
			HealthPort:      getEnvInt("GATHERLY_HEALTH_PORT", 8081),
			ReadTimeout:     getEnvDuration("GATHERLY_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GATHERLY_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("GATHERLY_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GATHERLY_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodyBytes:    int64(getEnvInt("GATHERLY_MAX_BODY_BYTES", 1<<20)),
		},
		Database: DatabaseConfig{
			URL:             getEnv("GATHERLY_DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("GATHERLY_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("GATHERLY_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("GATHERLY_DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrateOnStart:  getEnvBool("GATHERLY_DB_MIGRATE_ON_START", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("GATHERLY_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("GATHERLY_REDIS_PASSWORD", ""),
			DB:       getEnvInt("GATHERLY_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			AccessSecret:  getEnv("GATHERLY_JWT_ACCESS_SECRET", ""),
			RefreshSecret: getEnv("GATHERLY_JWT_REFRESH_SECRET", ""),
			AccessTTL:     getEnvDuration("GATHERLY_JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:    getEnvDuration("GATHERLY_JWT_REFRESH_TTL", 7*24*time.Hour),
			Issuer:        getEnv("GATHERLY_JWT_ISSUER", "gatherly"),
			BcryptCost:    getEnvInt("GATHERLY_BCRYPT_COST", 12),
			SecureCookies: getEnvBool("GATHERLY_SECURE_COOKIES", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("GATHERLY_CORS_ORIGINS", []string{"*"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("GATHERLY_LOG_LEVEL", "info"),
			MetricsEnabled: getEnvBool("GATHERLY_METRICS_ENABLED", true),
		},
		Maintenance: MaintenanceConfig{
			Enabled:             getEnvBool("GATHERLY_MAINTENANCE_ENABLED", true),
			PurgeSchedule:       getEnv("GATHERLY_PURGE_SCHEDULE", "@hourly"),
			DeactivationWindow:  getEnvDuration("GATHERLY_DEACTIVATION_WINDOW", 30*24*time.Hour),
			AuditRetention:      getEnvDuration("GATHERLY_AUDIT_RETENTION", 90*24*time.Hour),
			GaugeRefreshMinutes: getEnvInt("GATHERLY_GAUGE_REFRESH_MINUTES", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for fatal misconfiguration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.HealthPort <= 0 || c.Server.HealthPort > 65535 {
		return fmt.Errorf("invalid health port: %d", c.Server.HealthPort)
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must differ (both %d)", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("GATHERLY_DATABASE_URL is required")
	}
	if c.Auth.AccessSecret == "" {
		return fmt.Errorf("GATHERLY_JWT_ACCESS_SECRET is required")
	}
	if c.Auth.RefreshSecret == "" {
		return fmt.Errorf("GATHERLY_JWT_REFRESH_SECRET is required")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return fmt.Errorf("access and refresh token secrets must differ")
	}
	if c.Auth.AccessTTL >= c.Auth.RefreshTTL {
		return fmt.Errorf("access token TTL (%s) must be shorter than refresh token TTL (%s)",
			c.Auth.AccessTTL, c.Auth.RefreshTTL)
	}
	if c.Auth.BcryptCost < 10 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 10 and 31, got %d", c.Auth.BcryptCost)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("max idle conns (%d) cannot exceed max open conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	return nil
}

// Addr returns the host:port the API server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HealthAddr returns the host:port the health server listens on.
func (s ServerConfig) HealthAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HealthPort)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
