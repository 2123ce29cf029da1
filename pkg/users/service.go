package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gatherly/gatherly/pkg/audit"
	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
	"github.com/gatherly/gatherly/pkg/rbac"
	"github.com/gatherly/gatherly/pkg/sessions"
)

// RoleDirectory is the slice of the rbac store the user service needs:
// looking up a user's roles and granting the default role at signup.
type RoleDirectory interface {
	RolesForUser(ctx context.Context, userID int64) ([]string, error)
	GetRoleByName(ctx context.Context, name string) (*rbac.Role, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
}

// Service implements registration and authentication flows.
type Service struct {
	store    *Store
	roles    RoleDirectory
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenManager
	sessions *sessions.Store
	recorder audit.Recorder
	metrics  *observability.Metrics
	logger   *observability.Logger

	// reactivationWindow is how long a deactivated account can be
	// revived by logging in before the purge job removes it.
	reactivationWindow time.Duration
}

// NewService builds the user service.
func NewService(store *Store, roles RoleDirectory, hasher *auth.PasswordHasher,
	tokens *auth.TokenManager, sessionStore *sessions.Store, recorder audit.Recorder,
	metrics *observability.Metrics, logger *observability.Logger,
	reactivationWindow time.Duration) *Service {
	return &Service{
		store:              store,
		roles:              roles,
		hasher:             hasher,
		tokens:             tokens,
		sessions:           sessionStore,
		recorder:           recorder,
		metrics:            metrics,
		logger:             logger,
		reactivationWindow: reactivationWindow,
	}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

// Register creates an account with default settings and the member
// role.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)

	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, httputil.BadRequest("username, email, and password are required")
	}
	if !ValidUsername(in.Username) {
		return nil, httputil.BadRequest("username must be 3-30 characters and contain only letters, numbers, and underscores")
	}
	if !ValidEmail(in.Email) {
		return nil, httputil.BadRequest("invalid email format")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, httputil.BadRequest("password must be at least %d characters", MinPasswordLength)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username:      in.Username,
		Email:         in.Email,
		PasswordHash:  hash,
		FullName:      in.FullName,
		IsActive:      true,
		Privacy:       DefaultPrivacy(),
		Notifications: DefaultNotifications(),
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}

	if err := s.grantDefaultRole(ctx, user.ID); err != nil {
		// Account exists; a missing default role is an operator
		// problem, not the user's.
		s.logger.WithError(err).WithField("user_id", user.ID).Error("failed to grant default role")
	} else {
		user.Roles = []string{rbac.RoleMember}
	}

	s.audit(ctx, &user.ID, "user.register", userResource(user.ID), audit.OutcomeSuccess, nil)
	return user, nil
}

func (s *Service) grantDefaultRole(ctx context.Context, userID int64) error {
	role, err := s.roles.GetRoleByName(ctx, rbac.RoleMember)
	if err != nil {
		return fmt.Errorf("lookup member role: %w", err)
	}
	return s.roles.AssignRole(ctx, userID, role.ID)
}

// LoginInput authenticates by username or email.
type LoginInput struct {
	Login      string `json:"login"`
	Password   string `json:"password"`
	UserAgent  string `json:"-"`
	RemoteAddr string `json:"-"`
}

// LoginResult bundles the user, tokens, and the new session.
type LoginResult struct {
	User        *User
	Tokens      *auth.TokenPair
	Session     *sessions.Session
	Reactivated bool
}

// Login verifies credentials, reactivating an account deactivated
// within the reactivation window. Accounts past the window behave as
// deleted.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Login = strings.TrimSpace(in.Login)
	if in.Login == "" || in.Password == "" {
		s.metrics.LoginsTotal.WithLabelValues("failure").Inc()
		return nil, httputil.BadRequest("login and password are required")
	}

	user, err := s.store.GetByLogin(ctx, in.Login)
	if err != nil {
		s.metrics.LoginsTotal.WithLabelValues("failure").Inc()
		if _, ok := httputil.AsError(err); ok {
			// Do not reveal whether the account exists.
			return nil, httputil.Unauthorized("invalid credentials")
		}
		return nil, err
	}

	if err := s.hasher.Compare(user.PasswordHash, in.Password); err != nil {
		s.metrics.LoginsTotal.WithLabelValues("failure").Inc()
		s.audit(ctx, &user.ID, "user.login", userResource(user.ID), audit.OutcomeFailure, nil)
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, httputil.Unauthorized("invalid credentials")
		}
		return nil, err
	}

	reactivated := false
	if !user.IsActive {
		if user.DeactivatedAt == nil || time.Since(*user.DeactivatedAt) > s.reactivationWindow {
			s.metrics.LoginsTotal.WithLabelValues("failure").Inc()
			return nil, httputil.Unauthorized("invalid credentials")
		}
		if err := s.store.Reactivate(ctx, user.ID); err != nil {
			return nil, err
		}
		user.IsActive = true
		user.DeactivatedAt = nil
		reactivated = true
		s.audit(ctx, &user.ID, "user.reactivate", userResource(user.ID), audit.OutcomeSuccess, nil)
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetRefreshTokenID(ctx, user.ID, pair.RefreshTokenID); err != nil {
		return nil, err
	}

	// The session shares the refresh token's jti; the sid claim on the
	// issued tokens points back at this record.
	session, err := s.sessions.Create(ctx, pair.RefreshTokenID, user.ID, in.UserAgent, in.RemoteAddr)
	if err != nil {
		return nil, err
	}

	if user.Roles, err = s.roles.RolesForUser(ctx, user.ID); err != nil {
		return nil, err
	}

	s.metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.audit(ctx, &user.ID, "user.login", userResource(user.ID), audit.OutcomeSuccess, nil)
	return &LoginResult{User: user, Tokens: pair, Session: session, Reactivated: reactivated}, nil
}

// Refresh validates a refresh token, checks it is the one on record,
// and rotates the pair.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*auth.TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(rawToken)
	if err != nil {
		s.metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return nil, httputil.Unauthorized("invalid refresh token")
	}
	userID, err := claims.UserID()
	if err != nil {
		s.metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return nil, httputil.Unauthorized("invalid refresh token")
	}

	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		s.metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		if _, ok := httputil.AsError(err); ok {
			return nil, httputil.Unauthorized("invalid refresh token")
		}
		return nil, err
	}
	// Rotation: only the most recently issued refresh token is valid.
	if !user.IsActive || user.RefreshTokenID == "" || user.RefreshTokenID != claims.ID {
		s.metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		s.audit(ctx, &userID, "token.refresh", userResource(userID), audit.OutcomeDenied, nil)
		return nil, httputil.Unauthorized("refresh token is expired or revoked")
	}

	pair, err := s.tokens.IssuePair(userID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetRefreshTokenID(ctx, userID, pair.RefreshTokenID); err != nil {
		return nil, err
	}
	// Re-key the session record so the new pair's sid still resolves.
	if _, err := s.sessions.Rotate(ctx, userID, claims.ID, pair.RefreshTokenID); err != nil {
		return nil, err
	}

	s.metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	return pair, nil
}

// Logout clears the refresh token and revokes the session, if known.
func (s *Service) Logout(ctx context.Context, userID int64, sessionID string) error {
	if err := s.store.SetRefreshTokenID(ctx, userID, ""); err != nil {
		return err
	}
	if sessionID != "" {
		if err := s.sessions.Revoke(ctx, userID, sessionID); err != nil && !errors.Is(err, sessions.ErrNotFound) {
			return err
		}
	}
	s.audit(ctx, &userID, "user.logout", userResource(userID), audit.OutcomeSuccess, nil)
	return nil
}

// Get loads a user with roles.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Roles, err = s.roles.RolesForUser(ctx, id); err != nil {
		return nil, err
	}
	return user, nil
}

// List returns a page of users, optionally filtered by a username or
// email substring.
func (s *Service) List(ctx context.Context, search string, page httputil.Page) ([]User, int, error) {
	return s.store.List(ctx, strings.TrimSpace(search), page.Limit, page.Offset())
}

// SetIdentityProvider links or unlinks the external identity provider
// backing an account.
func (s *Service) SetIdentityProvider(ctx context.Context, actorID, userID int64, providerID *int64) error {
	if err := s.store.SetIdentityProvider(ctx, userID, providerID); err != nil {
		return err
	}
	detail := map[string]interface{}{"providerId": nil}
	if providerID != nil {
		detail["providerId"] = *providerID
	}
	s.audit(ctx, &actorID, "user.set_identity_provider", userResource(userID), audit.OutcomeSuccess, detail)
	return nil
}

func (s *Service) audit(ctx context.Context, actorID *int64, action, resource string, outcome audit.Outcome, detail map[string]interface{}) {
	err := s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   action,
		Resource: resource,
		Outcome:  outcome,
		Detail:   detail,
	})
	if err != nil {
		s.logger.WithError(err).WithField("action", action).Warn("audit record failed")
	}
}

func userResource(id int64) string {
	return fmt.Sprintf("user:%d", id)
}
