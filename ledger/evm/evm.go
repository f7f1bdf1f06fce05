// Package evm drives the record contract on an EVM chain through go-ethereum.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"xdao.co/drinkpoap/ledger"
	"xdao.co/drinkpoap/model"
)

// Backend is the subset of *ethclient.Client the gateway uses.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

const (
	DefaultPollInterval = 2 * time.Second
	gasAdjustment       = 1.2
)

type Config struct {
	Contract common.Address
	ChainID  *big.Int
	// Signers holds the keys the gateway may send from.
	Signers []*ecdsa.PrivateKey
	// PollInterval is the receipt polling period.
	PollInterval time.Duration
	// FromBlock bounds event scans used by RecordOf.
	FromBlock uint64
}

// Gateway implements ledger.Gateway and ledger.RecordLookup.
type Gateway struct {
	backend  Backend
	contract common.Address
	chainID  *big.Int
	signer   types.Signer
	keys     map[common.Address]*ecdsa.PrivateKey
	abi      abi.ABI
	poll     time.Duration
	from     uint64
	logger   *slog.Logger

	// sendMu serializes nonce allocation per gateway.
	sendMu sync.Mutex
}

var (
	_ ledger.Gateway      = (*Gateway)(nil)
	_ ledger.RecordLookup = (*Gateway)(nil)
)

func New(backend Backend, cfg Config, logger *slog.Logger) (*Gateway, error) {
	if backend == nil {
		return nil, model.NewError(model.KindConfiguration, "evm: backend is required")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, model.NewError(model.KindConfiguration, "evm: contract address is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, model.NewError(model.KindConfiguration, "evm: chain id is required")
	}
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "evm: parse contract abi", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	keys := make(map[common.Address]*ecdsa.PrivateKey, len(cfg.Signers))
	for _, k := range cfg.Signers {
		if k != nil {
			keys[crypto.PubkeyToAddress(k.PublicKey)] = k
		}
	}
	return &Gateway{
		backend:  backend,
		contract: cfg.Contract,
		chainID:  new(big.Int).Set(cfg.ChainID),
		signer:   types.LatestSignerForChainID(cfg.ChainID),
		keys:     keys,
		abi:      parsed,
		poll:     cfg.PollInterval,
		from:     cfg.FromBlock,
		logger:   logger.With("module", "ledger.evm"),
	}, nil
}

// ParseSignerHex parses a hex-encoded secp256k1 private key.
func ParseSignerHex(s string) (*ecdsa.PrivateKey, error) {
	k, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, model.WrapError(model.KindConfiguration, "evm: invalid signer key", err)
	}
	return k, nil
}

func toAddress(who model.Identity) (common.Address, error) {
	s := strings.TrimSpace(who.String())
	if !common.IsHexAddress(s) {
		return common.Address{}, model.Errorf(model.KindInvalidInput, "%q is not an account address", s)
	}
	return common.HexToAddress(s), nil
}

func identity(a common.Address) model.Identity {
	return model.Identity(a.Hex()).Normalize()
}

func (g *Gateway) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "evm: pack "+method, err)
	}
	to := g.contract
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := g.abi.Unpack(method, out)
	if err != nil {
		return nil, model.WrapError(model.KindLedger, "evm: unpack "+method, err)
	}
	if len(vals) == 0 {
		return nil, model.Errorf(model.KindLedger, "evm: %s returned nothing", method)
	}
	return vals, nil
}

func (g *Gateway) HasClaimed(ctx context.Context, who model.Identity) (bool, error) {
	addr, err := toAddress(who)
	if err != nil {
		return false, err
	}
	vals, err := g.call(ctx, "hasClaimed", addr)
	if err != nil {
		return false, model.WrapError(model.KindLedger, "evm: hasClaimed", err)
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, model.NewError(model.KindLedger, "evm: hasClaimed returned a non-bool")
	}
	return b, nil
}

func (g *Gateway) OwnerOf(ctx context.Context, id model.RecordID) (model.Identity, error) {
	vals, err := g.call(ctx, "ownerOf", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return "", g.readError("ownerOf", id, err)
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return "", model.NewError(model.KindLedger, "evm: ownerOf returned a non-address")
	}
	return identity(addr), nil
}

func (g *Gateway) CurrentPointer(ctx context.Context, id model.RecordID) (model.Pointer, error) {
	vals, err := g.call(ctx, "tokenURI", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return model.Pointer{}, g.readError("tokenURI", id, err)
	}
	uri, ok := vals[0].(string)
	if !ok {
		return model.Pointer{}, model.NewError(model.KindLedger, "evm: tokenURI returned a non-string")
	}
	return model.ParsePointer(uri)
}

func (g *Gateway) PrivilegedRole(ctx context.Context) (model.Identity, error) {
	vals, err := g.call(ctx, "owner")
	if err != nil {
		return "", model.WrapError(model.KindLedger, "evm: owner", err)
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return "", model.NewError(model.KindLedger, "evm: owner returned a non-address")
	}
	return identity(addr), nil
}

// RecordOf scans Minted events for the identity and returns the latest record id.
func (g *Gateway) RecordOf(ctx context.Context, who model.Identity) (model.RecordID, bool, error) {
	addr, err := toAddress(who)
	if err != nil {
		return 0, false, err
	}
	minted := g.abi.Events["POAPMinted"]
	logs, err := g.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(g.from),
		Addresses: []common.Address{g.contract},
		Topics:    [][]common.Hash{{minted.ID}, {common.BytesToHash(addr.Bytes())}},
	})
	if err != nil {
		return 0, false, model.WrapError(model.KindLedger, "evm: filter minted events", err)
	}
	for i := len(logs) - 1; i >= 0; i-- {
		if ev, ok := g.decodeLog(logs[i]); ok && ev.Kind == ledger.EventMinted {
			return ev.RecordID, true, nil
		}
	}
	return 0, false, nil
}

// Submit signs and broadcasts call. Calls the chain would reject are
// reported here when gas estimation already reverts.
func (g *Gateway) Submit(ctx context.Context, call ledger.Call) (ledger.Pending, error) {
	from, err := toAddress(call.From)
	if err != nil {
		return nil, err
	}
	key, ok := g.keys[from]
	if !ok {
		return nil, model.Errorf(model.KindNotAuthorized, "no signing key for %s", call.From)
	}
	if !call.Pointer.Defined() {
		return nil, model.NewError(model.KindInvalidInput, "call has no pointer")
	}

	var data []byte
	switch call.Kind {
	case ledger.CallMint:
		data, err = g.abi.Pack("mintPOAP", call.Pointer.String())
	case ledger.CallUpdate:
		data, err = g.abi.Pack("updatePOAP", new(big.Int).SetUint64(uint64(call.RecordID)), call.Pointer.String())
	default:
		return nil, model.Errorf(model.KindInvalidInput, "unsupported call kind %s", call.Kind)
	}
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "evm: pack call", err)
	}

	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	to := g.contract
	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, classifyRevert(err)
	}
	gas = uint64(float64(gas) * gasAdjustment)

	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, model.WrapError(model.KindLedger, "evm: nonce", err)
	}
	tip, err := g.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, model.WrapError(model.KindLedger, "evm: gas tip", err)
	}
	head, err := g.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, model.WrapError(model.KindLedger, "evm: head", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   g.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := types.SignTx(tx, g.signer, key)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "evm: sign tx", err)
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classifyRevert(err)
	}
	g.logger.Info("transaction submitted",
		"operation", call.Kind.String(), "outcome", "submitted", "tx", signed.Hash().Hex(), "from", from.Hex())
	return &pending{g: g, hash: signed.Hash()}, nil
}

func (g *Gateway) readError(method string, id model.RecordID, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "nonexistent") || strings.Contains(msg, "invalid token") {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownRecord, id)
	}
	return model.WrapError(model.KindLedger, "evm: "+method, err)
}

// classifyRevert maps revert reasons onto ledger sentinels.
func classifyRevert(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already claimed"):
		return fmt.Errorf("%w: %v", ledger.ErrAlreadyClaimed, err)
	case strings.Contains(msg, "not the owner"), strings.Contains(msg, "ownableunauthorizedaccount"), strings.Contains(msg, "only owner"):
		return fmt.Errorf("%w: %v", ledger.ErrNotAuthorized, err)
	case strings.Contains(msg, "nonexistent"):
		return fmt.Errorf("%w: %v", ledger.ErrUnknownRecord, err)
	case strings.Contains(msg, "revert"):
		return fmt.Errorf("%w: %v", ledger.ErrReverted, err)
	default:
		return model.WrapError(model.KindLedger, "evm: submit", err)
	}
}

func (g *Gateway) decodeLog(l types.Log) (ledger.Event, bool) {
	if l.Address != g.contract || len(l.Topics) == 0 {
		return ledger.Event{}, false
	}
	minted := g.abi.Events["POAPMinted"]
	updated := g.abi.Events["POAPUpdated"]
	switch l.Topics[0] {
	case minted.ID:
		if len(l.Topics) < 2 {
			return ledger.Event{}, false
		}
		vals, err := minted.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(vals) != 2 {
			return ledger.Event{}, false
		}
		id, ok1 := vals[0].(*big.Int)
		uri, ok2 := vals[1].(string)
		if !ok1 || !ok2 || !id.IsUint64() {
			return ledger.Event{}, false
		}
		return ledger.Event{
			Kind:     ledger.EventMinted,
			Owner:    identity(common.BytesToAddress(l.Topics[1].Bytes())),
			RecordID: model.RecordID(id.Uint64()),
			URI:      uri,
		}, true
	case updated.ID:
		vals, err := updated.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(vals) != 2 {
			return ledger.Event{}, false
		}
		id, ok1 := vals[0].(*big.Int)
		uri, ok2 := vals[1].(string)
		if !ok1 || !ok2 || !id.IsUint64() {
			return ledger.Event{}, false
		}
		return ledger.Event{Kind: ledger.EventUpdated, RecordID: model.RecordID(id.Uint64()), URI: uri}, true
	default:
		return ledger.Event{}, false
	}
}

type pending struct {
	g    *Gateway
	hash common.Hash
}

func (p *pending) TxRef() string { return p.hash.Hex() }

// Wait polls for the receipt until it appears or ctx is done.
func (p *pending) Wait(ctx context.Context) (ledger.Receipt, error) {
	t := time.NewTicker(p.g.poll)
	defer t.Stop()
	for {
		rcpt, err := p.g.backend.TransactionReceipt(ctx, p.hash)
		switch {
		case err == nil && rcpt != nil:
			return p.receipt(rcpt)
		case err != nil && !errors.Is(err, ethereum.NotFound):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ledger.Receipt{}, ctxErr
			}
			return ledger.Receipt{}, model.WrapError(model.KindLedger, "evm: receipt", err)
		}
		select {
		case <-ctx.Done():
			return ledger.Receipt{}, ctx.Err()
		case <-t.C:
		}
	}
}

func (p *pending) receipt(r *types.Receipt) (ledger.Receipt, error) {
	if r.Status != types.ReceiptStatusSuccessful {
		return ledger.Receipt{}, fmt.Errorf("%w: tx %s", ledger.ErrReverted, p.hash.Hex())
	}
	out := ledger.Receipt{TxRef: p.hash.Hex()}
	if r.BlockNumber != nil {
		out.Block = r.BlockNumber.Uint64()
	}
	for _, l := range r.Logs {
		if l == nil {
			continue
		}
		if ev, ok := p.g.decodeLog(*l); ok {
			out.Events = append(out.Events, ev)
		}
	}
	return out, nil
}
