package ipfs

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/kubo/client/rpc"
	"github.com/ipfs/kubo/core/coreiface/options"
	"github.com/multiformats/go-multihash"

	"xdao.co/drinkpoap/storage"
)

// rpcTransport talks to a Kubo RPC endpoint (/api/v0) through the Kubo client.
type rpcTransport struct {
	api    *rpc.HttpApi
	pinned bool
}

func newRPCTransport(opts Options) (*rpcTransport, error) {
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	api, err := rpc.NewURLApiWithClient(strings.TrimRight(opts.API, "/"), hc)
	if err != nil {
		return nil, fmt.Errorf("ipfs: rpc endpoint %q: %w", opts.API, err)
	}
	if opts.Username != "" || opts.Password != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		api.Headers.Set("Authorization", "Basic "+creds)
	}
	return &rpcTransport{api: api, pinned: opts.Pin}, nil
}

func (r *rpcTransport) put(ctx context.Context, data []byte) (cid.Cid, error) {
	st, err := r.api.Block().Put(ctx, bytes.NewReader(data),
		options.Block.CidCodec("raw"),
		options.Block.Hash(multihash.SHA2_256, 32),
		options.Block.Pin(r.pinned),
	)
	if err != nil {
		return cid.Undef, mapRPCErr(ctx, "block/put", err)
	}
	return st.Path().RootCid(), nil
}

func (r *rpcTransport) get(ctx context.Context, id cid.Cid) ([]byte, error) {
	rd, err := r.api.Block().Get(ctx, path.FromCid(id))
	if err != nil {
		return nil, mapRPCErr(ctx, "block/get", err)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return nil, mapRPCErr(ctx, "block/get", err)
	}
	return b, nil
}

func (r *rpcTransport) stat(ctx context.Context, id cid.Cid) error {
	_, err := r.api.Block().Stat(ctx, path.FromCid(id))
	return mapRPCErr(ctx, "block/stat", err)
}

// mapRPCErr separates answers from the node (not found, rejected) from
// failures to reach it.
func mapRPCErr(ctx context.Context, method string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var re *rpc.Error
	if errors.As(err, &re) {
		if isLikelyNotFound(re.Message) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("ipfs %s: %s", method, re.Message)
	}
	return fmt.Errorf("%w: ipfs %s: %v", storage.ErrUnavailable, method, err)
}
