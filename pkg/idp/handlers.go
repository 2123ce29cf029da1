package idp

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/httputil"
)

// Handlers serves identity-provider administration.
type Handlers struct {
	service *Service
}

// NewHandlers builds idp Handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the identity-provider endpoints. The caller
// applies the admin middleware to the subrouter.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/identity-providers", h.Create).Methods(http.MethodPost)
	router.HandleFunc("/identity-providers", h.List).Methods(http.MethodGet)
	router.HandleFunc("/identity-providers/{id:[0-9]+}", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/identity-providers/{id:[0-9]+}", h.Update).Methods(http.MethodPatch)
	router.HandleFunc("/identity-providers/{id:[0-9]+}", h.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/identity-providers/{id:[0-9]+}/verify", h.Verify).Methods(http.MethodPost)
	router.HandleFunc("/identity-providers/{id:[0-9]+}/authorize-url", h.AuthorizeURL).Methods(http.MethodGet)
}

func actorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, false
	}
	return actor.ID, true
}

// Create registers a new identity provider.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	provider, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, provider)
}

// List returns all identity providers.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	providers, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"identityProviders": providers})
}

// Get returns one identity provider.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	provider, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, provider)
}

// Update applies a sparse update to a provider.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var in UpdateInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	provider, err := h.service.Update(r.Context(), actor, id, in)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, provider)
}

// Delete removes a provider.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Verify runs OIDC discovery against the provider's issuer.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	verification, err := h.service.Verify(r.Context(), actor, id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, verification)
}

// AuthorizeURL generates an authorization redirect URL.
func (h *Handlers) AuthorizeURL(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	q := r.URL.Query()
	result, err := h.service.AuthorizeURL(r.Context(), id, q.Get("redirect_uri"), q.Get("state"))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
