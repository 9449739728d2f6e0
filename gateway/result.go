package gateway

import (
	"context"
	"errors"

	"verdantdo/domain"
	"verdantdo/storage"
)

// Kind classifies a failed mutation.
type Kind string

const (
	KindInvalid          Kind = "invalid"
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindUnavailable      Kind = "unavailable"
	KindUnknown          Kind = "unknown"
)

// Error is the failure variant of a Result.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Result holds either the value produced by a mutation or the error that
// stopped it. Exactly one of the two is set.
type Result[T any] struct {
	Value T
	Err   *Error
}

func (r Result[T]) OK() bool { return r.Err == nil }

func classify(err error) Kind {
	switch {
	case errors.Is(err, domain.ErrInvalid):
		return KindInvalid
	case errors.Is(err, storage.ErrNotFound):
		return KindNotFound
	case errors.Is(err, storage.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindUnavailable
	default:
		return KindUnknown
	}
}
