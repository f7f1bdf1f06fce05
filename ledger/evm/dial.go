package evm

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"xdao.co/drinkpoap/model"
)

// DialOptions configures Dial.
type DialOptions struct {
	RPCURL   string
	Contract string
	// ChainID is queried from the node when zero.
	ChainID int64
	Signers []*ecdsa.PrivateKey
	Config  Config
	Logger  *slog.Logger
}

// Dial connects to an RPC endpoint and returns a gateway plus its close func.
func Dial(ctx context.Context, opts DialOptions) (*Gateway, func(), error) {
	if opts.RPCURL == "" {
		return nil, nil, model.NewError(model.KindConfiguration, "evm: rpc url is required")
	}
	if !common.IsHexAddress(opts.Contract) {
		return nil, nil, model.Errorf(model.KindConfiguration, "evm: invalid contract address %q", opts.Contract)
	}
	client, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, nil, model.WrapError(model.KindConfiguration, "evm: dial rpc", err)
	}
	chainID := big.NewInt(opts.ChainID)
	if opts.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, nil, model.WrapError(model.KindLedger, "evm: chain id", err)
		}
	}
	cfg := opts.Config
	cfg.Contract = common.HexToAddress(opts.Contract)
	cfg.ChainID = chainID
	cfg.Signers = append(cfg.Signers, opts.Signers...)

	g, err := New(client, cfg, opts.Logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return g, client.Close, nil
}
