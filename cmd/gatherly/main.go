// Command gatherly runs the Gatherly API server: the social-networking
// backend with accounts, groups, RBAC, identity providers, and audit
// logging.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/gatherly/gatherly/pkg/account"
	"github.com/gatherly/gatherly/pkg/api"
	"github.com/gatherly/gatherly/pkg/audit"
	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/config"
	"github.com/gatherly/gatherly/pkg/groups"
	"github.com/gatherly/gatherly/pkg/idp"
	"github.com/gatherly/gatherly/pkg/maintenance"
	"github.com/gatherly/gatherly/pkg/middleware"
	"github.com/gatherly/gatherly/pkg/observability"
	"github.com/gatherly/gatherly/pkg/rbac"
	"github.com/gatherly/gatherly/pkg/sessions"
	"github.com/gatherly/gatherly/pkg/storage/postgres"
	"github.com/gatherly/gatherly/pkg/users"
)

const permissionCacheSize = 4096

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatherly: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)
	metrics := observability.NewMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres.
	pg, err := postgres.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	db := pg.DB()
	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// Redis, for sessions and the login rate limiter.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.WithField("addr", cfg.Redis.Addr).Info("connected to redis")

	// Stores.
	userStore := users.NewStore(db)
	rbacStore := rbac.NewStore(db)
	auditStore := audit.NewStore(db, logger)
	groupStore := groups.NewStore(db)
	idpStore := idp.NewStore(db)
	sessionStore := sessions.NewStore(redisClient, cfg.Auth.RefreshTTL)

	if err := rbacStore.EnsureBuiltins(ctx); err != nil {
		return fmt.Errorf("seed builtin roles: %w", err)
	}

	// Services.
	tokens := auth.NewTokenManager(cfg.Auth)
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	checker, err := rbac.NewChecker(rbacStore, permissionCacheSize, metrics, logger)
	if err != nil {
		return err
	}

	userService := users.NewService(userStore, rbacStore, hasher, tokens, sessionStore,
		auditStore, metrics, logger, cfg.Maintenance.DeactivationWindow)
	accountService := account.NewService(userStore, groupStore, hasher, sessionStore, auditStore, logger)
	groupService := groups.NewService(groupStore, auditStore, logger)
	idpService := idp.NewService(idpStore, auditStore, logger)

	// Background maintenance.
	if cfg.Maintenance.Enabled {
		scheduler := maintenance.NewScheduler(cfg.Maintenance, userStore, auditStore,
			groupStore, db, metrics, logger)
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start maintenance: %w", err)
		}
		defer scheduler.Stop()
		scheduler.RefreshGauges(ctx)
	}

	// HTTP surface.
	server := api.NewServer(api.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Metrics:       metrics,
		Health:        observability.NewHealthChecker(db, redisClient),
		Authenticator: middleware.NewAuthenticator(tokens, userStore, rbacStore, logger),
		LoginLimiter: middleware.NewRateLimiter(redisClient, middleware.LoginRateLimitConfig(),
			"login", logger),
		Users:   users.NewHandlers(userService, cfg.Auth, logger),
		Account: account.NewHandlers(accountService, logger),
		Groups:  groups.NewHandlers(groupService, logger),
		RBAC:    rbac.NewHandlers(rbacStore, checker, auditStore, logger),
		IDP:     idp.NewHandlers(idpService),
		Audit:   audit.NewHandlers(auditStore, logger),
	})

	logger.WithField("version", "dev").Info("gatherly starting")
	return server.Run(ctx)
}
