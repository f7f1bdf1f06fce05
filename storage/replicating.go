package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/drinkpoap/cidutil"
)

// NamedCAS associates a CAS with a stable backend name.
type NamedCAS struct {
	Name string
	CAS  CAS
}

// ReplicatingCAS writes every block to all backends in parallel and reads
// from the first backend that has it.
//
// A Put succeeds only when every backend stored the block under the CID
// computed locally; a published document is never acknowledged while a
// replica is missing it.
type ReplicatingCAS struct {
	Backends []NamedCAS
}

var _ CAS = ReplicatingCAS{}

// PutAll writes bytes to all backends and returns the per-backend CIDs.
func (r ReplicatingCAS) PutAll(ctx context.Context, bytes []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := cidutil.CIDv1RawSHA256CID(bytes)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(r.Backends) == 0 {
		return cid.Undef, nil, errors.New("storage: ReplicatingCAS has no backends")
	}
	for _, b := range r.Backends {
		if b.CAS == nil {
			return cid.Undef, nil, fmt.Errorf("storage: nil CAS for backend %q", b.Name)
		}
	}

	type result struct {
		name string
		id   cid.Cid
		err  error
	}
	results := make([]result, len(r.Backends))
	var wg sync.WaitGroup
	for i, b := range r.Backends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := b.CAS.Put(ctx, bytes)
			results[i] = result{name: b.Name, id: id, err: err}
		}()
	}
	wg.Wait()

	out := make(map[string]cid.Cid, len(results))
	var errs []error
	for _, res := range results {
		switch {
		case res.err != nil:
			errs = append(errs, fmt.Errorf("storage: backend %q: %w", res.name, res.err))
		case res.id != want:
			errs = append(errs, fmt.Errorf("storage: backend %q: %w", res.name, ErrCIDMismatch))
		default:
			out[res.name] = res.id
		}
	}
	if len(errs) > 0 {
		return cid.Undef, out, errors.Join(errs...)
	}
	return want, out, nil
}

func (r ReplicatingCAS) Put(ctx context.Context, bytes []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, bytes)
	return id, err
}

func (r ReplicatingCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	adapters := make([]CAS, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS != nil {
			adapters = append(adapters, b.CAS)
		}
	}
	return MultiCAS{Adapters: adapters}.Get(ctx, id)
}

func (r ReplicatingCAS) Has(ctx context.Context, id cid.Cid) bool {
	for _, b := range r.Backends {
		if b.CAS != nil && b.CAS.Has(ctx, id) {
			return true
		}
	}
	return false
}
