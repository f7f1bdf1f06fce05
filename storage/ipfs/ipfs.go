// Package ipfs stores blocks in IPFS, either through the local Kubo CLI or
// through a Kubo-compatible HTTP RPC endpoint such as a hosted pinning API.
package ipfs

import (
	"context"
	"net/http"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/drinkpoap/cidutil"
	"xdao.co/drinkpoap/storage"
)

// CAS is a content-addressable store backed by IPFS.
//
// Blocks are written as raw sha2-256 CIDv1, so the CID returned by IPFS is
// the one cidutil computes locally and the "ipfs://<cid>" pointer recorded on
// the ledger resolves through any public gateway.
type CAS struct {
	t transport
}

var _ storage.CAS = (*CAS)(nil)

type Options struct {
	// API is the base URL of a Kubo RPC endpoint (e.g. http://127.0.0.1:5001).
	// When empty the local CLI is used.
	API string
	// Username and Password are sent as HTTP basic auth to API when set.
	Username string
	Password string
	// HTTPClient overrides the client used for API. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string
	// Env optionally overrides the command environment (e.g. to set IPFS_PATH).
	Env []string

	// Pin keeps written blocks from being garbage collected.
	Pin bool
}

// transport is one way of speaking the Kubo block API.
type transport interface {
	put(ctx context.Context, data []byte) (cid.Cid, error)
	get(ctx context.Context, id cid.Cid) ([]byte, error)
	stat(ctx context.Context, id cid.Cid) error
}

// New returns a CAS using the RPC endpoint when opts.API is set and the
// local CLI otherwise.
func New(opts Options) (*CAS, error) {
	if opts.API != "" {
		t, err := newRPCTransport(opts)
		if err != nil {
			return nil, err
		}
		return &CAS{t: t}, nil
	}
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &CAS{t: &cliTransport{bin: bin, env: opts.Env, pinned: opts.Pin}}, nil
}

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	got, err := c.t.put(ctx, data)
	if err != nil {
		return cid.Undef, err
	}
	if !got.Equals(id) {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	out, err := c.t.get(ctx, id)
	if err != nil {
		return nil, err
	}
	got, err := cidutil.CIDv1RawSHA256CID(out)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, storage.ErrCIDMismatch
	}
	return out, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	return c.t.stat(ctx, id) == nil
}

func isLikelyNotFound(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find")
}
