package storage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ipfs/go-cid"
)

// MultiCAS reads through an ordered list of stores and writes to the first.
//
// A backend that fails with anything other than ErrNotFound is skipped on
// reads so a degraded replica does not hide content held by a healthy one.
// With Repair set, a block found on a later store is written back to the
// earlier stores that missed it.
type MultiCAS struct {
	Adapters []CAS
	Repair   bool
	Logger   *slog.Logger
}

var _ CAS = MultiCAS{}

func (m MultiCAS) Put(ctx context.Context, bytes []byte) (cid.Cid, error) {
	if len(m.Adapters) == 0 {
		return cid.Undef, errors.New("storage: MultiCAS has no adapters")
	}
	return m.Adapters[0].Put(ctx, bytes)
}

func (m MultiCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	var missed []int
	var failures []error
	for i, cas := range m.Adapters {
		b, err := cas.Get(ctx, id)
		if err == nil {
			if m.Repair {
				m.repair(ctx, id, b, missed)
			}
			return b, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrInvalidCID) {
			return nil, err
		}
		if IsNotFound(err) {
			missed = append(missed, i)
			continue
		}
		failures = append(failures, err)
	}
	if len(failures) > 0 {
		// Content may exist on a store that could not answer.
		return nil, errors.Join(append([]error{ErrUnavailable}, failures...)...)
	}
	return nil, ErrNotFound
}

func (m MultiCAS) Has(ctx context.Context, id cid.Cid) bool {
	for _, cas := range m.Adapters {
		if cas.Has(ctx, id) {
			return true
		}
	}
	return false
}

func (m MultiCAS) repair(ctx context.Context, id cid.Cid, b []byte, missed []int) {
	for _, i := range missed {
		if _, err := m.Adapters[i].Put(ctx, b); err != nil && m.Logger != nil {
			m.Logger.Warn("read repair failed", "operation", "read_repair", "cid", id.String(), "adapter", i, "error", err)
		}
	}
}
