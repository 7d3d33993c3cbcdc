// Package errors provides the structured error type used across the
// daemon. Every failure that reaches a client is one of a closed set of
// kinds, each with a deterministic JSON-RPC error code.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for surface behavior.
type Kind string

const (
	// KindValidation indicates malformed or missing parameters; no state touched.
	KindValidation Kind = "validation"
	// KindNotFound indicates the resource does not exist.
	KindNotFound Kind = "not_found"
	// KindAmbiguousPrefix indicates an id prefix matched multiple records.
	KindAmbiguousPrefix Kind = "ambiguous_prefix"
	// KindDatabase indicates a storage substrate failure.
	KindDatabase Kind = "database"
	// KindProvider indicates an embedding or LLM provider failure.
	KindProvider Kind = "provider"
	// KindRateLimited indicates the rate-limit wait budget was exceeded.
	KindRateLimited Kind = "rate_limited"
	// KindCoordination indicates a watcher lock is held by another live process.
	KindCoordination Kind = "coordination_conflict"
	// KindCancelled indicates the operation was aborted by shutdown or stop.
	KindCancelled Kind = "cancelled"
	// KindInternal indicates an invariant violation.
	KindInternal Kind = "internal"
)

// Error is the structured error for ccengram.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Field names the offending parameter for validation errors.
	Field string
	// Prefix and Count describe ambiguous-prefix failures.
	Prefix string
	Count  int

	// Retryable marks transient failures the caller may re-issue.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error-chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind so errors.Is works with sentinel values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error with the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: kind == KindProvider || kind == KindRateLimited}
}

// Newf creates an error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind to an existing error. Returns nil for nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	e := New(kind, message)
	e.Cause = cause
	return e
}

// Validation creates a parameter error naming the offending field.
func Validation(field, message string) *Error {
	e := New(KindValidation, message)
	e.Field = field
	return e
}

// NotFound creates a missing-resource error.
func NotFound(what, id string) *Error {
	return Newf(KindNotFound, "%s not found: %s", what, id)
}

// AmbiguousPrefix creates an error for a prefix that resolved to several records.
func AmbiguousPrefix(prefix string, count int) *Error {
	e := Newf(KindAmbiguousPrefix, "prefix %q matches %d records", prefix, count)
	e.Prefix = prefix
	e.Count = count
	return e
}

// Database wraps a substrate failure.
func Database(message string, cause error) *Error {
	return Wrap(KindDatabase, message, cause)
}

// Provider wraps an embedding/LLM failure.
func Provider(message string, cause error) *Error {
	e := &Error{Kind: KindProvider, Message: message, Cause: cause, Retryable: true}
	return e
}

// Internal wraps an invariant violation.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf extracts the kind from any error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the first *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetryable reports whether the error is safe to retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
