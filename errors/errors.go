// Package errors provides standardized error handling for the realtime core.
// It defines the error taxonomy used across the gateway, registries, and
// command bridge, plus helper functions for consistent wrapping and
// classification.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies the category of a realtime error. Codes are stable and
// safe to send to clients as the `error` field of a structured reply.
type Code string

const (
	// CodeNoToken indicates no auth token was presented on any channel.
	CodeNoToken Code = "NO_TOKEN"
	// CodeTokenMalformed indicates the token failed to parse or its
	// signature did not verify.
	CodeTokenMalformed Code = "TOKEN_MALFORMED"
	// CodeTokenExpired indicates the token parsed but is past expiry.
	CodeTokenExpired Code = "TOKEN_EXPIRED"
	// CodeServerMisconfigured indicates the server cannot verify tokens
	// at all (e.g. empty signing secret).
	CodeServerMisconfigured Code = "SERVER_MISCONFIGURED"
	// CodeAuthTimeout indicates an unauthenticated connection exceeded
	// the authentication grace period.
	CodeAuthTimeout Code = "AUTHENTICATION_TIMEOUT"
	// CodeForbidden indicates the authenticated role is not permitted
	// for the requested operation. The connection stays alive.
	CodeForbidden Code = "FORBIDDEN"
	// CodeValidation indicates a required payload field is missing or
	// invalid. The connection stays alive.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeRateLimited indicates the connection or event breached the
	// rate limit window.
	CodeRateLimited Code = "RATE_LIMITED"
	// CodeDeviceUnavailable indicates a command targeted a device that
	// is unknown or has no live connection.
	CodeDeviceUnavailable Code = "DEVICE_UNAVAILABLE"
	// CodeInternal indicates an unexpected server-side failure.
	CodeInternal Code = "INTERNAL_ERROR"
)

// StatusCode maps an error code to the HTTP-equivalent status carried in
// structured replies.
func (c Code) StatusCode() int {
	switch c {
	case CodeNoToken, CodeTokenMalformed, CodeTokenExpired, CodeAuthTimeout:
		return 401
	case CodeForbidden:
		return 403
	case CodeValidation:
		return 400
	case CodeRateLimited:
		return 429
	case CodeDeviceUnavailable:
		return 503
	case CodeServerMisconfigured, CodeInternal:
		return 500
	default:
		return 500
	}
}

// Terminal reports whether an error with this code terminates the
// connection attempt (as opposed to rejecting a single operation).
func (c Code) Terminal() bool {
	switch c {
	case CodeNoToken, CodeTokenMalformed, CodeTokenExpired,
		CodeServerMisconfigured, CodeAuthTimeout:
		return true
	default:
		return false
	}
}

// Standard error variables for common conditions
var (
	ErrNoToken             = &Error{Code: CodeNoToken, Message: "no authentication token provided"}
	ErrTokenMalformed      = &Error{Code: CodeTokenMalformed, Message: "malformed authentication token"}
	ErrTokenExpired        = &Error{Code: CodeTokenExpired, Message: "authentication token expired"}
	ErrServerMisconfigured = &Error{Code: CodeServerMisconfigured, Message: "token verification misconfigured"}
	ErrAuthTimeout         = &Error{Code: CodeAuthTimeout, Message: "authentication timeout"}
	ErrRateLimited         = &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
	ErrDeviceUnavailable   = &Error{Code: CodeDeviceUnavailable, Message: "device unknown or offline"}
)

// Error is a classified realtime error. It carries the taxonomy code, a
// human-readable message, and optionally the component/operation that
// produced it and a wrapped cause.
type Error struct {
	Code      Code
	Message   string
	Component string
	Operation string
	Err       error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Component != "" && e.Operation != "" {
		return fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two classified errors by code, so sentinel comparisons like
// errors.Is(err, ErrTokenExpired) work across wrapping.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// New creates a classified error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a standardized error with context following the pattern
// "component.operation: message". A nil err yields a nil result.
func Wrap(err error, code Code, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf("%s: %v", message, err),
		Component: component,
		Operation: operation,
		Err:       err,
	}
}

// Validation creates a validation error naming the offending field.
func Validation(field string) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf("missing or invalid field: %s", field)}
}

// CodeOf extracts the taxonomy code from an error chain, defaulting to
// CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsAuthentication reports whether the error belongs to the
// authentication family (always terminates the connection attempt).
func IsAuthentication(err error) bool {
	switch CodeOf(err) {
	case CodeNoToken, CodeTokenMalformed, CodeTokenExpired,
		CodeServerMisconfigured, CodeAuthTimeout:
		return true
	}
	return false
}
