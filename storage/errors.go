package storage

import (
	"context"
	"errors"

	"xdao.co/drinkpoap/model"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalidCID  = errors.New("storage: invalid cid")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	ErrImmutable   = errors.New("storage: immutable object mismatch")
	ErrTooLarge    = errors.New("storage: block too large")

	// ErrUnavailable marks a backend that could not be reached. Callers may retry.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// KindOf maps a store error onto the service error taxonomy.
func KindOf(err error) model.Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return model.KindNotFound
	case errors.Is(err, ErrInvalidCID), errors.Is(err, ErrTooLarge):
		return model.KindInvalidInput
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return model.KindUpstreamUnavailable
	default:
		return model.KindInternal
	}
}
