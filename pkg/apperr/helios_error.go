// Package apperr defines the error kinds the Helios API distinguishes and
// their mapping onto HTTP responses. Services raise kinds; status codes and
// wire codes are derived from them in one place.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. The set mirrors what the API reports:
// validation, not_found, conflict, unauthorized, forbidden, rate_limited,
// upstream_unavailable, transient_db and internal.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindRateLimited  Kind = "rate_limited"
	KindUpstream     Kind = "upstream_unavailable"
	KindTransientDB  Kind = "transient_db"
	KindInternal     Kind = "internal"
)

// HTTPStatus maps the kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		// transient_db and internal both surface as 500
		return http.StatusInternalServerError
	}
}

// Code renders the kind as the wire error code.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_FAILED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindUpstream:
		return "UPSTREAM_UNAVAILABLE"
	case KindTransientDB:
		return "TRANSIENT_DB"
	default:
		return "INTERNAL_ERROR"
	}
}

// AppError is a kind-classified application error. Status and wire code are
// derived from the kind, never stored.
type AppError struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the response status for the error's kind.
func (e *AppError) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// Code returns the wire error code for the error's kind.
func (e *AppError) Code() string {
	return e.Kind.Code()
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// Constructors for the kinds the services raise.

func BadRequest(message string) *AppError {
	return New(KindValidation, message)
}

func InvalidInput(field, reason string) *AppError {
	return New(KindValidation, fmt.Sprintf("invalid input for '%s': %s", field, reason)).
		WithDetail("field", field)
}

func MissingField(field string) *AppError {
	return New(KindValidation, fmt.Sprintf("missing required field: %s", field)).
		WithDetail("field", field)
}

func NotFound(resource string) *AppError {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource))
}

func Conflict(message string) *AppError {
	return New(KindConflict, message)
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return New(KindUnauthorized, message)
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return New(KindForbidden, message)
}

func UpstreamError(service string, err error) *AppError {
	return Wrap(KindUpstream, fmt.Sprintf("upstream service error: %s", service), err).
		WithDetail("service", service)
}

func TransientDB(operation string, err error) *AppError {
	return Wrap(KindTransientDB, fmt.Sprintf("database error: %s", operation), err)
}

func ConfigError(message string) *AppError {
	return New(KindInternal, message)
}

func Internal(err error) *AppError {
	return Wrap(KindInternal, "internal server error", err)
}

// ErrRateLimited is returned by the rate-limit middleware.
var ErrRateLimited = New(KindRateLimited, "too many requests")

// GetHTTPStatus resolves the status for any error; non-kinded errors are 500.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}
