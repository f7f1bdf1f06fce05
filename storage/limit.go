package storage

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// Limited rejects blocks larger than MaxBytes before they reach the wrapped store.
type Limited struct {
	CAS      CAS
	MaxBytes int
}

var _ CAS = Limited{}

func (l Limited) Put(ctx context.Context, b []byte) (cid.Cid, error) {
	if l.MaxBytes > 0 && len(b) > l.MaxBytes {
		return cid.Undef, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(b), l.MaxBytes)
	}
	return l.CAS.Put(ctx, b)
}

func (l Limited) Get(ctx context.Context, id cid.Cid) ([]byte, error) { return l.CAS.Get(ctx, id) }

func (l Limited) Has(ctx context.Context, id cid.Cid) bool { return l.CAS.Has(ctx, id) }
