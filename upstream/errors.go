package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class reported to API clients.
type Code string

const (
	CodeSessionMissing     Code = "SESSION_MISSING"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeOffline            Code = "TOTVS_OFFLINE"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeUpstreamError      Code = "UPSTREAM_ERROR"
	CodeContextInvalid     Code = "CONTEXT_INVALID"
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeRateLimited        Code = "RATE_LIMITED"
)

// HTTPStatus returns the local API status that mirrors the code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeSessionMissing, CodeSessionExpired, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeOffline:
		return http.StatusServiceUnavailable
	case CodeUpstreamError:
		return http.StatusBadGateway
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ConnectionError reports that the upstream could not be reached at all:
// DNS, TCP, TLS, timeouts, or an open circuit breaker.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StatusError reports a non-success HTTP status from the upstream.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: status %d", e.Op, e.StatusCode)
}

// Error is the typed failure returned by every upstream operation. Status is
// the local HTTP status the API answers with.
type Error struct {
	Message string
	Status  int
	Code    Code
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, message string, cause error) *Error {
	return &Error{Message: message, Status: code.HTTPStatus(), Code: code, Err: cause}
}

// Offline builds a TOTVS_OFFLINE error around a connection failure.
func Offline(cause error) *Error {
	return newError(CodeOffline, "TOTVS system may be down", cause)
}

// SessionExpired builds a SESSION_EXPIRED error.
func SessionExpired(message string) *Error {
	return newError(CodeSessionExpired, message, nil)
}

// SessionMissing builds a SESSION_MISSING error.
func SessionMissing() *Error {
	return newError(CodeSessionMissing, "no session, log in again", nil)
}

// ContextInvalid builds a CONTEXT_INVALID error.
func ContextInvalid(message string) *Error {
	return newError(CodeContextInvalid, message, nil)
}

// ClassifyStatus maps a non-2xx upstream status to its typed error. op names
// the failed step and fallback is the message for unexpected statuses.
func ClassifyStatus(op string, status int, fallback string) *Error {
	cause := &StatusError{Op: op, StatusCode: status}
	switch {
	case status >= 500:
		return newError(CodeOffline, "TOTVS system may be down", cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(CodeSessionExpired, "upstream session expired", cause)
	default:
		return newError(CodeUpstreamError, fallback, cause)
	}
}

// ExternalAuthError builds the INVALID_CREDENTIALS error returned by Login.
func ExternalAuthError(message string, cause error) *Error {
	return newError(CodeInvalidCredentials, message, cause)
}

// AsError extracts an *Error from err, mapping anything else to
// INTERNAL_ERROR. Bare connection errors become TOTVS_OFFLINE.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return Offline(ce)
	}
	return newError(CodeInternal, "internal error", err)
}
