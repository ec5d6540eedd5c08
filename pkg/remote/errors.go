package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a remote-store failure independent of protocol. Back-ends
// translate protocol-specific errors to one of these at the boundary.
type Kind int

const (
	// KindUnknown is the zero value; it should never be returned by a
	// back-end.
	KindUnknown Kind = iota
	KindNotFound
	KindAccessDenied
	KindAlreadyExists
	KindNotEmpty
	KindTimedOut
	KindUnavailable
	KindAuthenticationFailed
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindAccessDenied:
		return "access-denied"
	case KindAlreadyExists:
		return "already-exists"
	case KindNotEmpty:
		return "not-empty"
	case KindTimedOut:
		return "timed-out"
	case KindUnavailable:
		return "unavailable"
	case KindAuthenticationFailed:
		return "authentication-failed"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the error type every Store method returns on failure. Op and
// Path identify what was attempted; Kind classifies the failure; Err, when
// non-nil, carries the underlying cause for logging (never inspected by
// callers above the back-end boundary).
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a *Error, the only error shape back-ends are allowed
// to return.
func NewError(op, path string, kind Kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, else
// KindFatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// Retryable reports whether a Kind should be retried by a back-end's retry
// loop. Only transport-level failures retry; NotFound, AccessDenied,
// AlreadyExists, and NotEmpty never do.
func (k Kind) Retryable() bool {
	switch k {
	case KindUnavailable, KindTimedOut:
		return true
	default:
		return false
	}
}
