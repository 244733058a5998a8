// Package apperr defines the error kinds every service in pathwise reports.
// Callers branch on Kind rather than on message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindPermissionDenied  Kind = "permission_denied"
	KindConfiguration     Kind = "configuration"
	KindRateLimited       Kind = "rate_limited"
	KindUnavailable       Kind = "unavailable"
	KindResourceExhausted Kind = "resource_exhausted"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// Error is the typed error returned across package boundaries.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfter is set for KindRateLimited when the upstream reported it.
	RetryAfter time.Duration

	// Fields lists offending input fields for KindValidation.
	Fields []string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing entity, e.g. NotFound("attempt", id).
func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// Validation reports malformed input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationFields reports malformed input naming the offending fields.
func ValidationFields(message string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// PermissionDenied reports an actor lacking the capability for an operation.
func PermissionDenied(format string, args ...any) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// Configuration reports missing or inconsistent setup, such as a cyclic
// prerequisite graph or an absent question bank.
func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// RateLimited reports an upstream rate limit.
func RateLimited(retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, Message: "external service rate limited", RetryAfter: retryAfter, Err: err}
}

// Unavailable reports an unreachable upstream or one rejecting our credential.
func Unavailable(message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Err: err}
}

// ResourceExhausted reports that a bounded computation hit its limit.
func ResourceExhausted(format string, args ...any) *Error {
	return &Error{Kind: KindResourceExhausted, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a lost optimistic write.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// IsExternal reports whether err is an external-service failure, the kinds
// that trigger a deterministic fallback where one exists.
func IsExternal(err error) bool {
	k := KindOf(err)
	return err != nil && (k == KindRateLimited || k == KindUnavailable)
}

// HTTPStatus maps a kind to the status code the API responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindConfiguration:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindResourceExhausted:
		return http.StatusInsufficientStorage
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
