// Package errdefs defines the error kinds the platform emits and predicates
// for classifying them, in the style of the Docker client's errdefs helpers.
// Callers wrap causes with the constructors here; the API layer maps kinds to
// HTTP status codes and the queue maps kinds to retry decisions.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a platform error
type Kind string

const (
	// KindValidation marks bad input that never reaches the pipeline
	KindValidation Kind = "validation"
	// KindNotFound marks a missing referenced entity
	KindNotFound Kind = "not_found"
	// KindConflict marks duplicate subdomains, job ids, or hostnames
	KindConflict Kind = "conflict"
	// KindTimeout marks a clone, build, or health check over budget
	KindTimeout Kind = "timeout"
	// KindRuntimeUnavailable marks a non-404 container runtime failure
	KindRuntimeUnavailable Kind = "runtime_unavailable"
	// KindIntegrity marks a container that was expected to exist but was
	// gone at the runtime
	KindIntegrity Kind = "integrity"
	// KindCancelled marks a deployment cancelled while queued
	KindCancelled Kind = "cancelled"
)

type kindError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *kindError) Unwrap() error { return e.cause }

func newKind(kind Kind, msg string, cause error) error {
	return &kindError{kind: kind, msg: msg, cause: cause}
}

// Validation returns a validation error
func Validation(format string, args ...any) error {
	return newKind(KindValidation, fmt.Sprintf(format, args...), nil)
}

// NotFound returns a not-found error
func NotFound(format string, args ...any) error {
	return newKind(KindNotFound, fmt.Sprintf(format, args...), nil)
}

// Conflict returns a conflict error
func Conflict(format string, args ...any) error {
	return newKind(KindConflict, fmt.Sprintf(format, args...), nil)
}

// Timeout wraps err as a budget overrun
func Timeout(msg string, err error) error {
	return newKind(KindTimeout, msg, err)
}

// RuntimeUnavailable wraps a failed container runtime call
func RuntimeUnavailable(msg string, err error) error {
	return newKind(KindRuntimeUnavailable, msg, err)
}

// Integrity wraps a runtime 404 for a container the store believes exists
func Integrity(msg string, err error) error {
	return newKind(KindIntegrity, msg, err)
}

// Cancelled returns a cancellation error
func Cancelled(format string, args ...any) error {
	return newKind(KindCancelled, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the kind of err, or "" when err carries none
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return ""
}

func is(err error, kind Kind) bool { return KindOf(err) == kind }

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsTimeout reports whether err is a timeout error
func IsTimeout(err error) bool { return is(err, KindTimeout) }

// IsRuntimeUnavailable reports whether err is a runtime failure
func IsRuntimeUnavailable(err error) bool { return is(err, KindRuntimeUnavailable) }

// IsIntegrity reports whether err is an integrity error
func IsIntegrity(err error) bool { return is(err, KindIntegrity) }

// IsCancelled reports whether err is a cancellation
func IsCancelled(err error) bool { return is(err, KindCancelled) }
