// Package testkit holds the conformance suite every CAS adapter must pass.
package testkit

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/drinkpoap/cidutil"
	"xdao.co/drinkpoap/storage"
)

// NewCAS constructs a fresh, empty CAS instance for a test.
// The returned CAS MUST be isolated from other tests.
type NewCAS func(t *testing.T) storage.CAS

func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		want := []byte(`{"name":"DynamicDrinkPOAP"}`)

		id, err := cas.Put(ctx, want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := cidutil.CIDv1RawSHA256CID(want)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}
		if id != wantID {
			t.Fatalf("Put CID mismatch: got %s want %s", id, wantID)
		}

		got, err := cas.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("same bytes")

		id1, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("DistinctBytesDistinctCIDs", func(t *testing.T) {
		cas := newCAS(t)
		a, err := cas.Put(ctx, []byte("a"))
		if err != nil {
			t.Fatalf("Put(a) failed: %v", err)
		}
		b, err := cas.Put(ctx, []byte("b"))
		if err != nil {
			t.Fatalf("Put(b) failed: %v", err)
		}
		if a == b {
			t.Fatalf("distinct content produced identical CIDs")
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("missing")
		id, err := cidutil.CIDv1RawSHA256CID(b)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}

		if cas.Has(ctx, id) {
			t.Fatalf("Has returned true for missing CID")
		}
		_, err = cas.Get(ctx, id)
		if !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}

		if _, err := cas.Put(ctx, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !cas.Has(ctx, id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		cas := newCAS(t)
		var undef cid.Cid
		if cas.Has(ctx, undef) {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := cas.Get(ctx, undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
	})

	t.Run("ConcurrentIdenticalPuts", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte(`{"drinks":[{"name":"Pliny the Elder"}]}`)
		want, err := cidutil.CIDv1RawSHA256CID(b)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}

		const writers = 8
		errs := make([]error, writers)
		ids := make([]cid.Cid, writers)
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ids[i], errs[i] = cas.Put(ctx, b)
			}()
		}
		wg.Wait()
		for i := range writers {
			if errs[i] != nil {
				t.Fatalf("Put(%d) failed: %v", i, errs[i])
			}
			if ids[i] != want {
				t.Fatalf("Put(%d) CID = %s want %s", i, ids[i], want)
			}
		}
		got, err := cas.Get(ctx, want)
		if err != nil || !bytes.Equal(got, b) {
			t.Fatalf("Get after concurrent puts: %v", err)
		}
	})

	t.Run("ImageSizedBlock", func(t *testing.T) {
		cas := newCAS(t)
		b := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 256<<10)
		id, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := cas.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, b) {
			t.Fatalf("Get bytes mismatch for %d-byte block", len(b))
		}
	})
}
