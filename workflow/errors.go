package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind tags collection errors so callers branch on retryability and
// cause without string matching.
type ErrorKind int

const (
	// ErrKindValidation: bad input or missing configuration. Never retried.
	ErrKindValidation ErrorKind = iota
	// ErrKindNotFound: barber, config or collection does not exist.
	ErrKindNotFound
	// ErrKindConflict: the double-collection guard tripped.
	ErrKindConflict
	// ErrKindInvalidState: the operation is not legal from the record's
	// current status.
	ErrKindInvalidState
	// ErrKindRetryLimit: retries are exhausted; operator action required.
	ErrKindRetryLimit
	// ErrKindTransient: gateway/network trouble; retried on the backoff
	// schedule.
	ErrKindTransient
	// ErrKindInternal: unexpected storage or programming error.
	ErrKindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindValidation:
		return "validation"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConflict:
		return "conflict"
	case ErrKindInvalidState:
		return "invalid_state"
	case ErrKindRetryLimit:
		return "retry_limit_exceeded"
	case ErrKindTransient:
		return "transient"
	default:
		return "internal"
	}
}

type CollectionError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *CollectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *CollectionError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string) *CollectionError {
	return &CollectionError{Kind: kind, Msg: msg}
}

func wrapError(kind ErrorKind, msg string, err error) *CollectionError {
	return &CollectionError{Kind: kind, Msg: msg, Err: err}
}

// ErrorKindOf extracts the kind from an error chain; non-CollectionErrors
// report ErrKindInternal.
func ErrorKindOf(err error) ErrorKind {
	var cerr *CollectionError
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return ErrKindInternal
}
