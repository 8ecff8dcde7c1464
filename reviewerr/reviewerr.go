// Package reviewerr defines the error taxonomy shared by the review engine,
// the HTTP control plane, and the agent tool surface.
package reviewerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure so callers can map it to a transport-specific
// response (HTTP status, JSON-RPC error, tool result) without string matching.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindValidationError   Kind = "validation_error"
	KindInvalidTransition Kind = "invalid_transition"
	KindStoreError        Kind = "store_error"
	KindTimeout           Kind = "timeout"
	KindTransportError    Kind = "transport_error"
)

// Error is a kind-tagged error. Create one with New/Newf, or with Wrap to
// keep an underlying cause; callers recover the Kind via errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as the Cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NotFound, ValidationError, InvalidTransition, StoreError, Timeout, and
// TransportError are convenience constructors for the taxonomy's six kinds.

func NotFound(format string, args ...interface{}) *Error {
	return Newf(KindNotFound, format, args...)
}

func ValidationError(format string, args ...interface{}) *Error {
	return Newf(KindValidationError, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return Newf(KindInvalidTransition, format, args...)
}

func StoreError(message string, cause error) *Error {
	return Wrap(KindStoreError, message, cause)
}

func Timeout(format string, args ...interface{}) *Error {
	return Newf(KindTimeout, format, args...)
}

func TransportError(format string, args ...interface{}) *Error {
	return Newf(KindTransportError, format, args...)
}

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error. Returns ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
