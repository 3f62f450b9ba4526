package deck

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork is returned when the backend cannot be reached or fails
	// to serve a request. Callers may retry.
	ErrNetwork = errors.New("backend unavailable")

	// ErrAuth is returned when the backend rejects the credential. The
	// session must be discarded.
	ErrAuth = errors.New("credential rejected")

	// ErrNotFound is returned when the requested record does not exist for
	// the current owner.
	ErrNotFound = errors.New("presentation not found")

	// ErrInvalidRequest is returned for requests rejected before they are
	// sent, or rejected by the backend as malformed.
	ErrInvalidRequest = errors.New("invalid request")
)

// StatusError describes a failed backend call. It unwraps to one of the
// sentinel errors above so callers can match with errors.Is.
type StatusError struct {
	// Op names the operation, e.g. "list presentations".
	Op string

	// StatusCode is the HTTP status, or zero on transport failure.
	StatusCode int

	// Detail is the backend supplied reason, if any.
	Detail string

	// Kind is the sentinel this failure maps to.
	Kind error

	// Cause is the underlying transport error, if any.
	Cause error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

// Unwrap exposes both the sentinel kind and the transport cause.
func (e *StatusError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}

	return []error{e.Kind}
}

// IsAuth reports whether err is a credential rejection.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsNotFound reports whether err reports an absent record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
