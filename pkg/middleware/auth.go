package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/contextkeys"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
	"github.com/gatherly/gatherly/pkg/users"
)

// UserSource loads users for authenticated requests.
type UserSource interface {
	GetByID(ctx context.Context, id int64) (*users.User, error)
}

// RoleSource loads role names for authenticated requests.
type RoleSource interface {
	RolesForUser(ctx context.Context, userID int64) ([]string, error)
}

// Authenticator verifies bearer access tokens and attaches the actor to
// the request context.
type Authenticator struct {
	tokens *auth.TokenManager
	users  UserSource
	roles  RoleSource
	logger *observability.Logger
}

// NewAuthenticator builds the authentication middleware.
func NewAuthenticator(tokens *auth.TokenManager, userSource UserSource, roleSource RoleSource, logger *observability.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, users: userSource, roles: roleSource, logger: logger}
}

// Handler rejects requests without a valid access token. Deactivated
// accounts are rejected even when their token has not yet expired.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.authenticate(r)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		ctx := contextkeys.WithActor(r.Context(), actor)
		ctx = contextkeys.WithSessionID(ctx, actor.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*auth.Actor, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := a.tokens.VerifyAccess(raw)
	if err != nil {
		return nil, httputil.Unauthorized("invalid or expired token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, httputil.Unauthorized("invalid or expired token")
	}

	user, err := a.users.GetByID(r.Context(), userID)
	if err != nil {
		// A token for a deleted user is just an invalid token.
		if svcErr, ok := httputil.AsError(err); ok && svcErr.Status == http.StatusNotFound {
			return nil, httputil.Unauthorized("invalid or expired token")
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, httputil.Unauthorized("account is deactivated")
	}

	roles, err := a.roles.RolesForUser(r.Context(), userID)
	if err != nil {
		a.logger.WithError(err).WithField("user_id", userID).Error("load roles")
		return nil, err
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	return &auth.Actor{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Roles:     roles,
		SessionID: claims.SessionID,
		IssuedAt:  issuedAt,
	}, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", httputil.Unauthorized("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", httputil.Unauthorized("invalid authorization header format")
	}
	return parts[1], nil
}
