// Package apperr defines the typed error taxonomy shared by every
// DarkAuth handler and service. Storage and domain code return *Error
// (or wrap one with fmt.Errorf("...: %w", err)); the HTTP layer is the
// only place a Code is translated into a status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the fixed error classes every handler response maps to.
type Code string

const (
	InvalidRequest Code = "invalid_request"
	Unauthorized   Code = "unauthorized"
	Forbidden      Code = "forbidden"
	NotFound       Code = "not_found"
	Conflict       Code = "conflict"
	Locked         Code = "locked"
	RateLimited    Code = "rate_limited"
	Internal       Code = "internal"
)

// Error is the typed error every service/storage layer returns.
type Error struct {
	Code    Code
	Message string
	Details any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// New builds an *Error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches a details payload (exposed in the response for
// every code except Internal).
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// As extracts an *Error from err, following the stdlib errors.As protocol.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Code to the HTTP status spec.md §7 assigns it.
func (c Code) HTTPStatus() int {
	switch c {
	case InvalidRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Locked:
		return http.StatusLocked
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
