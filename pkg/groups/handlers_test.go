package groups

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/contextkeys"
	"github.com/gatherly/gatherly/pkg/observability"
)

func TestListRejectsUnknownFilterBy(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandlers(svc, observability.NewLogger(observability.ErrorLevel, io.Discard))
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/groups?filterBy=bogus", nil)
	req = req.WithContext(contextkeys.WithActor(req.Context(), &auth.Actor{ID: 1}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
