// Package apperr defines the error kinds the matchmaking core surfaces to
// its callers (spec.md §7). Handlers map a Kind to an HTTP status; the
// match engine and its collaborators only need to pick the right Kind.
package apperr

import "errors"

// Kind classifies an error for the purpose of HTTP status mapping and
// logging policy.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindStoreUnavailable    Kind = "store_unavailable"
	KindDiscoveryUnavailable Kind = "discovery_unavailable"
	KindMaintenance         Kind = "maintenance"
	KindNotFound            Kind = "not_found"
	KindInconsistent        Kind = "inconsistent"
)

// Error wraps an underlying cause with a Kind used for response mapping.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given Kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or something it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
