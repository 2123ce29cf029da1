package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes an error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, str)
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes an error on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return val, true
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// ParseQueryInt extracts and parses an integer query parameter.
// Malformed values are the client's fault and surface as 400s.
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, BadRequest("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// Page represents validated pagination parameters
type Page struct {
	Number int
	Limit  int
}

// Offset returns the row offset for SQL queries
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// ParsePage extracts page/limit query parameters with bounds checking.
// Limits above maxLimit are rejected rather than clamped.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) (Page, error) {
	page, err := ParseQueryInt(r, "page", 1)
	if err != nil {
		return Page{}, err
	}
	limit, err := ParseQueryInt(r, "limit", defaultLimit)
	if err != nil {
		return Page{}, err
	}
	if page < 1 || limit < 1 || limit > maxLimit {
		return Page{}, BadRequest("invalid pagination parameters")
	}
	return Page{Number: page, Limit: limit}, nil
}

// Pagination is the pagination envelope returned by list endpoints
type Pagination struct {
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
	Total       int64 `json:"total"`
	Limit       int   `json:"limit"`
}

// NewPagination builds a Pagination envelope from a page and a total row count
func NewPagination(p Page, total int64) Pagination {
	totalPages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	return Pagination{
		CurrentPage: p.Number,
		TotalPages:  totalPages,
		Total:       total,
		Limit:       p.Limit,
	}
}
