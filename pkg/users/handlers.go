package users

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/config"
	"github.com/gatherly/gatherly/pkg/contextkeys"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
)

// Handlers serves registration, authentication, and user lookup.
type Handlers struct {
	service *Service
	authCfg config.AuthConfig
	logger  *observability.Logger
}

// NewHandlers builds user Handlers.
func NewHandlers(service *Service, authCfg config.AuthConfig, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, authCfg: authCfg, logger: logger}
}

// RegisterPublicRoutes mounts the endpoints that need no token.
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	router.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	router.HandleFunc("/auth/refresh", h.Refresh).Methods(http.MethodPost)
}

// RegisterProtectedRoutes mounts endpoints behind the auth middleware.
func (h *Handlers) RegisterProtectedRoutes(router *mux.Router) {
	router.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
	router.HandleFunc("/users/me", h.Me).Methods(http.MethodGet)
	router.HandleFunc("/users/{id:[0-9]+}", h.Get).Methods(http.MethodGet)
}

// RegisterAdminRoutes mounts endpoints behind the admin-role check.
func (h *Handlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.List).Methods(http.MethodGet)
	router.HandleFunc("/users/{id:[0-9]+}/identity-provider", h.SetIdentityProvider).Methods(http.MethodPut)
}

// Register creates an account.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	user, err := h.service.Register(r.Context(), in)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// Login authenticates and returns the token pair. The refresh token
// also travels in an HttpOnly cookie for browser clients.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	in.UserAgent = r.UserAgent()
	in.RemoteAddr = r.RemoteAddr

	result, err := h.service.Login(r.Context(), in)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	auth.SetRefreshCookie(w, result.Tokens.RefreshToken, h.authCfg.RefreshTTL, h.authCfg.SecureCookies)
	httputil.WriteSuccess(w, map[string]interface{}{
		"user":        result.User,
		"tokens":      result.Tokens,
		"sessionId":   result.Session.ID,
		"reactivated": result.Reactivated,
	})
}

// Refresh rotates the token pair. The refresh token comes from the
// cookie or the request body.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := ""
	if cookie, err := r.Cookie(auth.RefreshCookieName); err == nil {
		raw = cookie.Value
	}
	if raw == "" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := httputil.ParseJSON(r, &body); err == nil {
			raw = body.RefreshToken
		}
	}
	if raw == "" {
		httputil.WriteUnauthorized(w, "refresh token required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), raw)
	if err != nil {
		auth.ClearRefreshCookie(w, h.authCfg.SecureCookies)
		httputil.WriteServiceError(w, err)
		return
	}

	auth.SetRefreshCookie(w, pair.RefreshToken, h.authCfg.RefreshTTL, h.authCfg.SecureCookies)
	httputil.WriteSuccess(w, map[string]interface{}{"tokens": pair})
}

// Logout invalidates the refresh token and current session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if err := h.service.Logout(r.Context(), actor.ID, contextkeys.SessionID(r.Context())); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	auth.ClearRefreshCookie(w, h.authCfg.SecureCookies)
	httputil.WriteSuccessMessage(w, "logged out", nil)
}

// Me returns the authenticated user's own record.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	user, err := h.service.Get(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// Get returns a user by id. Non-public profiles show a reduced view to
// other members.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())

	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	if actor != nil && actor.ID == id {
		httputil.WriteSuccess(w, user)
		return
	}
	httputil.WriteSuccess(w, publicView(user))
}

// publicView strips fields the profile's privacy settings hide.
func publicView(u *User) map[string]interface{} {
	view := map[string]interface{}{
		"id":        u.ID,
		"username":  u.Username,
		"avatarUrl": u.AvatarURL,
	}
	if !u.Privacy.IsProfilePublic {
		return view
	}
	view["fullName"] = u.FullName
	view["bio"] = u.Bio
	view["location"] = u.Location
	view["website"] = u.Website
	view["coverUrl"] = u.CoverURL
	view["createdAt"] = u.CreatedAt
	if u.Privacy.ShowEmail {
		view["email"] = u.Email
	}
	if u.Privacy.ShowDateOfBirth && u.DateOfBirth != nil {
		view["dateOfBirth"] = u.DateOfBirth
	}
	return view
}

// List returns a page of all users, optionally matching ?search=
// against username or email. Admin only.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r, 20, 100)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	list, total, err := h.service.List(r.Context(), httputil.ParseQueryString(r, "search", ""), page)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"users":      list,
		"pagination": httputil.NewPagination(page, int64(total)),
	})
}

// SetIdentityProvider links a user to an external identity provider,
// or clears the link when providerId is null. Admin only.
func (h *Handlers) SetIdentityProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	var in struct {
		ProviderID *int64 `json:"providerId"`
	}
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := h.service.SetIdentityProvider(r.Context(), actor.ID, id, in.ProviderID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "identity provider updated", nil)
}
