// Package apperr defines the typed service error contract used across the
// auth subsystem.
//
// Every failure that can reach a client is an *Error carrying an HTTP status
// and a stable machine-readable code. The HTTP layer owns the mapping to the
// response envelope; services never write HTTP themselves.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes surfaced in the response envelope.
const (
	CodeMissingToken  = "missing_token"
	CodeMissingEmail  = "missing_email"
	CodeMissingFields = "missing_fields"
	CodeInvalidID     = "invalid_id"

	CodeNoToken             = "no_token"
	CodeInvalidToken        = "invalid_token"
	CodeTokenExpired        = "token_expired"
	CodeTokenRevoked        = "token_revoked"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeInvalidRefreshToken = "invalid_refresh_token"
	CodeIncorrectPassword   = "incorrect_password"
	CodeUserNotFound        = "user_not_found"
	CodeAccountInactive     = "account_inactive"
	CodeEmailNotVerified    = "email_not_verified"
	CodeUnauthorized        = "unauthorized"

	CodeForbidden = "forbidden"

	CodeResourceExists = "resource_exists"

	CodeServerError = "server_error"
)

// Error is a typed service failure with a stable Status + Code contract.
// Msg is safe to show to clients; Err (if set) is the underlying cause and
// must only be logged, never serialized.
type Error struct {
	Status int
	Code   string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with an explicit status and code.
func New(status int, code, msg string) *Error {
	return &Error{Status: status, Code: code, Msg: msg}
}

// Wrap attaches an underlying cause to a typed error.
func Wrap(status int, code, msg string, err error) *Error {
	return &Error{Status: status, Code: code, Msg: msg, Err: err}
}

// BadRequest is a 400 with the given code.
func BadRequest(code, msg string) *Error {
	return New(http.StatusBadRequest, code, msg)
}

// Unauthorized is a 401 with the given code.
func Unauthorized(code, msg string) *Error {
	return New(http.StatusUnauthorized, code, msg)
}

// Forbidden is a 403.
func Forbidden(msg string) *Error {
	return New(http.StatusForbidden, CodeForbidden, msg)
}

// Conflict is a 409 resource_exists.
func Conflict(msg string) *Error {
	return New(http.StatusConflict, CodeResourceExists, msg)
}

// Internal is a 500 wrapping an unexpected cause. The cause is never exposed
// to clients.
func Internal(err error) *Error {
	return Wrap(http.StatusInternalServerError, CodeServerError, "internal error", err)
}

// From extracts the typed error from err, or wraps it as Internal.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// Is reports whether err is a typed error with the given code.
func Is(err error, code string) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}
