package httputil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an error carrying an HTTP status. Services return *Error for
// failures that map to a client-visible status; anything else is coerced to
// a generic 500 by WriteServiceError.
type Error struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError creates an *Error with the given status and message
func NewError(status int, format string, args ...interface{}) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// BadRequest returns a 400 error
func BadRequest(format string, args ...interface{}) *Error {
	return NewError(http.StatusBadRequest, format, args...)
}

// Unauthorized returns a 401 error
func Unauthorized(format string, args ...interface{}) *Error {
	return NewError(http.StatusUnauthorized, format, args...)
}

// Forbidden returns a 403 error
func Forbidden(format string, args ...interface{}) *Error {
	return NewError(http.StatusForbidden, format, args...)
}

// NotFound returns a 404 error
func NotFound(format string, args ...interface{}) *Error {
	return NewError(http.StatusNotFound, format, args...)
}

// Conflict returns a 409 error
func Conflict(format string, args ...interface{}) *Error {
	return NewError(http.StatusConflict, format, args...)
}

// NotImplemented returns a 501 error
func NotImplemented(format string, args ...interface{}) *Error {
	return NewError(http.StatusNotImplemented, format, args...)
}

// AsError unwraps err into an *Error if possible
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
