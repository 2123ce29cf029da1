package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteServiceError_TypedError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, Conflict("email is already in use"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"email is already in use"}`, rec.Body.String())
}

func TestWriteServiceError_WrappedTypedError(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := errors.Join(errors.New("context"), NotFound("group not found"))
	WriteServiceError(rec, wrapped)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteServiceError_UntypedBecomes500(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestWriteJSONSetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	assert.NoError(t, WriteSuccess(rec, map[string]string{"ok": "yes"}))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusOK, rec.Code)
}
