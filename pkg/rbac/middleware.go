package rbac

import (
	"net/http"

	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/httputil"
)

// ResourceFunc derives the resource string for a permission check from
// the request, e.g. "group:42" from a path variable.
type ResourceFunc func(r *http.Request) string

// StaticResource returns a ResourceFunc that always yields the same
// resource string.
func StaticResource(resource string) ResourceFunc {
	return func(*http.Request) string { return resource }
}

// RequireRole rejects requests whose actor holds none of the named
// roles. It assumes the auth middleware already ran.
func RequireRole(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := auth.ActorFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			for _, name := range names {
				if actor.HasRole(name) {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteForbidden(w, "insufficient role")
		})
	}
}

// RequirePermission rejects requests the checker denies for the given
// action on the derived resource.
func RequirePermission(checker *Checker, action string, resource ResourceFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := auth.ActorFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			allowed, err := checker.Allowed(r.Context(), actor.ID, action, resource(r))
			if err != nil {
				httputil.WriteServiceError(w, err)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
