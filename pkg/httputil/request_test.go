package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	var dest struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"gophers"}`))
	require.NoError(t, ParseJSON(req, &dest))
	assert.Equal(t, "gophers", dest.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{broken`))
	assert.Error(t, ParseJSON(req, &dest))
}

func TestParsePathInt64(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/groups/42", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "42"})

	val, err := ParsePathInt64(req, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), val)

	req = mux.SetURLVars(req, map[string]string{"id": "abc"})
	_, err = ParsePathInt64(req, "id")
	assert.Error(t, err)

	req = mux.SetURLVars(req, map[string]string{})
	_, err = ParsePathInt64(req, "id")
	assert.Error(t, err)
}

func TestParsePage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/groups?page=3&limit=20", nil)
	page, err := ParsePage(req, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Number)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, 40, page.Offset())

	req = httptest.NewRequest(http.MethodGet, "/groups", nil)
	page, err = ParsePage(req, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Number)
	assert.Equal(t, 10, page.Limit)

	req = httptest.NewRequest(http.MethodGet, "/groups?limit=500", nil)
	_, err = ParsePage(req, 10, 100)
	assert.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/groups?page=0", nil)
	_, err = ParsePage(req, 10, 100)
	assert.Error(t, err)
}

func TestParsePageErrorsAre400s(t *testing.T) {
	cases := []string{
		"/groups?limit=9999",
		"/groups?limit=abc",
		"/groups?page=-1",
		"/groups?page=abc",
	}
	for _, url := range cases {
		t.Run(url, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, url, nil)
			_, err := ParsePage(req, 10, 100)
			require.Error(t, err)

			svcErr, ok := AsError(err)
			require.True(t, ok, "expected a service error, got %v", err)
			assert.Equal(t, http.StatusBadRequest, svcErr.Status)
		})
	}
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(Page{Number: 2, Limit: 10}, 25)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, int64(25), p.Total)
	assert.Equal(t, 2, p.CurrentPage)

	p = NewPagination(Page{Number: 1, Limit: 10}, 0)
	assert.Equal(t, 0, p.TotalPages)
}
