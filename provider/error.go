package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure so callers can branch without
// inspecting message text.
type Kind int

const (
	// KindUnknown covers failures the implementation could not classify.
	KindUnknown Kind = iota

	// KindUnavailable means the provider could not be reached or answered
	// with a server-side failure. Retryable.
	KindUnavailable

	// KindInvalidRequest means the provider rejected the request as
	// malformed or semantically invalid. Not retryable.
	KindInvalidRequest

	// KindUnauthorized means credentials were rejected. Not retryable
	// without operator intervention.
	KindUnauthorized

	// KindNotFound means the referenced remote object does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindInvalidRequest:
		return "invalid_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the typed failure every Provider implementation returns.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "refund"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a later identical attempt could succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindUnknown
}

// IsRetryable reports whether err is a provider error worth retrying.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// KindOf extracts the Kind from err, or KindUnknown when err is not a
// provider error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
