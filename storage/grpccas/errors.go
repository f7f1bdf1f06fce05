package grpccas

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/drinkpoap/storage"
)

// codeFor is the status code the server returns for a store error.
func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, storage.ErrInvalidCID):
		return codes.InvalidArgument
	case errors.Is(err, storage.ErrCIDMismatch), errors.Is(err, storage.ErrImmutable):
		return codes.DataLoss
	case errors.Is(err, storage.ErrTooLarge):
		return codes.ResourceExhausted
	case errors.Is(err, storage.ErrUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(codeFor(err), err.Error())
}

// mapRPC turns a client-side status back into the store's sentinel errors.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return storage.ErrNotFound
	case codes.InvalidArgument:
		return storage.ErrInvalidCID
	case codes.DataLoss:
		return fmt.Errorf("%w: %s", storage.ErrCIDMismatch, st.Message())
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", storage.ErrTooLarge, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", storage.ErrUnavailable, st.Message())
	case codes.Canceled:
		return context.Canceled
	default:
		return err
	}
}
