// Package api assembles the HTTP surface: the versioned application
// router with its middleware chain, and the separate health/metrics
// listener.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/gatherly/gatherly/pkg/account"
	"github.com/gatherly/gatherly/pkg/audit"
	"github.com/gatherly/gatherly/pkg/config"
	"github.com/gatherly/gatherly/pkg/groups"
	"github.com/gatherly/gatherly/pkg/idp"
	"github.com/gatherly/gatherly/pkg/middleware"
	"github.com/gatherly/gatherly/pkg/observability"
	"github.com/gatherly/gatherly/pkg/rbac"
	"github.com/gatherly/gatherly/pkg/users"
)

// Dependencies carries everything the server wires together.
type Dependencies struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Health  *observability.HealthChecker

	Authenticator *middleware.Authenticator
	LoginLimiter  *middleware.RateLimiter

	Users   *users.Handlers
	Account *account.Handlers
	Groups  *groups.Handlers
	RBAC    *rbac.Handlers
	IDP     *idp.Handlers
	Audit   *audit.Handlers
}

// Server is the API server plus its health listener.
type Server struct {
	cfg    *config.Config
	logger *observability.Logger
	router *mux.Router

	app    *http.Server
	health *http.Server
}

// NewServer builds the routers and the two HTTP servers.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		cfg:    deps.Config,
		logger: deps.Logger,
		router: mux.NewRouter(),
	}
	s.setupRoutes(deps)

	s.app = &http.Server{
		Addr:         deps.Config.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, deps.Health)
	if deps.Config.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", deps.Metrics.Handler())
	}
	s.health = &http.Server{
		Addr:    deps.Config.Server.HealthAddr(),
		Handler: healthMux,
	}
	return s
}

func (s *Server) setupRoutes(deps Dependencies) {
	s.router.Use(
		middleware.RequestID,
		middleware.Logging(deps.Logger),
		middleware.Recovery(deps.Logger),
		middleware.CORS(deps.Config.CORS.AllowedOrigins),
		middleware.MaxBytes(deps.Config.Server.MaxBodyBytes),
	)
	if deps.Metrics != nil {
		s.router.Use(routeMetrics(deps.Metrics))
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Credential endpoints: no auth, but rate limited per client IP.
	public := api.NewRoute().Subrouter()
	if deps.LoginLimiter != nil {
		public.Use(deps.LoginLimiter.Handler)
	}
	deps.Users.RegisterPublicRoutes(public)

	// Everything else requires a valid access token.
	protected := api.NewRoute().Subrouter()
	protected.Use(deps.Authenticator.Handler)
	deps.Users.RegisterProtectedRoutes(protected)
	deps.Account.RegisterRoutes(protected)
	deps.Groups.RegisterRoutes(protected)

	// Administration: RBAC, identity providers, audit logs, user
	// listing.
	admin := api.NewRoute().Subrouter()
	admin.Use(deps.Authenticator.Handler, rbac.RequireRole(rbac.RoleAdmin, rbac.RoleSuperadmin))
	deps.Users.RegisterAdminRoutes(admin)
	deps.RBAC.RegisterRoutes(admin)
	deps.IDP.RegisterRoutes(admin)
	deps.Audit.RegisterRoutes(admin)
}

// routeMetrics instruments requests with the matched route template so
// path cardinality stays bounded.
func routeMetrics(metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if template, err := route.GetPathTemplate(); err == nil {
					path = template
				}
			}
			metrics.InstrumentHandler(path, next).ServeHTTP(w, r)
		})
	}
}

// Router exposes the app router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Run serves until ctx is cancelled, then shuts both listeners down
// within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.WithField("addr", s.app.Addr).Info("api server listening")
		if err := s.app.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.logger.WithField("addr", s.health.Addr).Info("health server listening")
		if err := s.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("api server shutdown")
		}
		if err := s.health.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("health server shutdown")
		}
		return nil
	})

	return g.Wait()
}
