package caseflow

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the client and server halves.
var (
	// ErrNotFound means the case id does not exist or is outside the
	// caller's clinic scope.
	ErrNotFound = errors.New("case not found")

	// ErrUnauthorized means the caller's capability set does not permit the
	// operation, or the backend rejected the credential.
	ErrUnauthorized = errors.New("not authorized")

	// ErrCaseFinished means a vitals or report mutation was attempted
	// against a case in its terminal status.
	ErrCaseFinished = errors.New("case is finished and read-only")
)

// ValidationError is a local, pre-network rejection. It never reaches the
// repository.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransitionError reports a status advance to anything other than the
// single allowed next status. The dashboard raises it before any request is
// sent; the server raises it again as the final authority.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	if next, ok := e.From.Next(); ok {
		return fmt.Sprintf("invalid transition %s -> %s (only %s allowed)", e.From, e.To, next)
	}
	return fmt.Sprintf("invalid transition %s -> %s (%s is terminal)", e.From, e.To, e.From)
}

// NetworkError wraps a transport failure or a backend 5xx. The caller may
// retry the same action manually; nothing retries automatically because the
// writes are not guaranteed idempotent.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a local validation rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidTransition reports whether err is a rejected status advance.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
