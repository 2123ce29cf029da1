package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/contextkeys"
)

func doRequest(t *testing.T, mw func(http.Handler) http.Handler, actor *auth.Actor) *httptest.ResponseRecorder {
	t.Helper()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if actor != nil {
		req = req.WithContext(contextkeys.WithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(RoleAdmin)

	t.Run("no actor", func(t *testing.T) {
		rec := doRequest(t, mw, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing role", func(t *testing.T) {
		rec := doRequest(t, mw, &auth.Actor{ID: 1, Roles: []string{RoleMember}})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("has role", func(t *testing.T) {
		rec := doRequest(t, mw, &auth.Actor{ID: 1, Roles: []string{RoleAdmin}})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("any of several", func(t *testing.T) {
		either := RequireRole(RoleAdmin, RoleSuperadmin)
		rec := doRequest(t, either, &auth.Actor{ID: 1, Roles: []string{RoleSuperadmin}})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequirePermission(t *testing.T) {
	source := &fakeSource{policies: map[int64][]Policy{1: {allowAll()}}}
	checker := newTestChecker(t, source)
	mw := RequirePermission(checker, "group.read", StaticResource("group:1"))

	t.Run("no actor", func(t *testing.T) {
		rec := doRequest(t, mw, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("denied", func(t *testing.T) {
		rec := doRequest(t, mw, &auth.Actor{ID: 2})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("allowed", func(t *testing.T) {
		rec := doRequest(t, mw, &auth.Actor{ID: 1})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
