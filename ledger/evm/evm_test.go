package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"xdao.co/drinkpoap/cidutil"
	"xdao.co/drinkpoap/claim"
	"xdao.co/drinkpoap/ledger"
	"xdao.co/drinkpoap/model"
)

var testChainID = big.NewInt(31337)

// fakeChain executes the record contract in memory.
type fakeChain struct {
	t        *testing.T
	abi      abi.ABI
	contract common.Address

	mu       sync.Mutex
	owner    common.Address
	claimed  map[common.Address]bool
	holders  map[uint64]common.Address
	uris     map[uint64]string
	next     uint64
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log
	block    uint64
	// hold keeps receipts back so Wait blocks.
	hold bool
	// estimateAll admits every call at estimation, as when two claims are
	// estimated before either is mined.
	estimateAll bool
}

func newFakeChain(t *testing.T, owner common.Address) *fakeChain {
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	require.NoError(t, err)
	return &fakeChain{
		t:        t,
		abi:      parsed,
		contract: common.HexToAddress("0x00000000000000000000000000000000000c0ffe"),
		owner:    owner,
		claimed:  map[common.Address]bool{},
		holders:  map[uint64]common.Address{},
		uris:     map[uint64]string{},
		nonces:   map[common.Address]uint64{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (f *fakeChain) method(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("short calldata")
	}
	m, err := f.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	return m, args, err
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m, args, err := f.method(call.Data)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m.Name {
	case "hasClaimed":
		return m.Outputs.Pack(f.claimed[args[0].(common.Address)])
	case "owner":
		return m.Outputs.Pack(f.owner)
	case "ownerOf":
		id := args[0].(*big.Int).Uint64()
		h, ok := f.holders[id]
		if !ok {
			return nil, errors.New("execution reverted: ERC721: invalid token ID")
		}
		return m.Outputs.Pack(h)
	case "tokenURI":
		id := args[0].(*big.Int).Uint64()
		uri, ok := f.uris[id]
		if !ok {
			return nil, errors.New("execution reverted: URI query for nonexistent token")
		}
		return m.Outputs.Pack(uri)
	}
	return nil, fmt.Errorf("unexpected call %s", m.Name)
}

func (f *fakeChain) check(from common.Address, m *abi.Method, args []any) error {
	switch m.Name {
	case "mintPOAP":
		if f.claimed[from] {
			return errors.New("execution reverted: Already claimed")
		}
	case "updatePOAP":
		if from != f.owner {
			return errors.New("execution reverted: Ownable: caller is not the owner")
		}
		if _, ok := f.holders[args[0].(*big.Int).Uint64()]; !ok {
			return errors.New("execution reverted: nonexistent token")
		}
	}
	return nil
}

func (f *fakeChain) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	m, args, err := f.method(call.Data)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.estimateAll {
		return 90_000, nil
	}
	if err := f.check(call.From, m, args); err != nil {
		return 0, err
	}
	return 90_000, nil
}

func (f *fakeChain) PendingNonceAt(_ context.Context, a common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[a], nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Header{Number: big.NewInt(int64(f.block)), BaseFee: big.NewInt(7)}, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(testChainID), tx)
	if err != nil {
		return err
	}
	m, args, err := f.method(tx.Data())
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx.Nonce() != f.nonces[from] {
		return fmt.Errorf("nonce too low: have %d want %d", tx.Nonce(), f.nonces[from])
	}
	f.nonces[from]++
	f.block++

	rcpt := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: new(big.Int).SetUint64(f.block), TxHash: tx.Hash()}
	if err := f.check(from, m, args); err != nil {
		rcpt.Status = types.ReceiptStatusFailed
	} else {
		switch m.Name {
		case "mintPOAP":
			id := f.next
			f.next++
			f.claimed[from] = true
			f.holders[id] = from
			f.uris[id] = args[0].(string)
			ev := f.abi.Events["POAPMinted"]
			data, err := ev.Inputs.NonIndexed().Pack(new(big.Int).SetUint64(id), args[0].(string))
			require.NoError(f.t, err)
			rcpt.Logs = append(rcpt.Logs, &types.Log{
				Address: f.contract,
				Topics:  []common.Hash{ev.ID, common.BytesToHash(from.Bytes())},
				Data:    data,
			})
		case "updatePOAP":
			id := args[0].(*big.Int)
			f.uris[id.Uint64()] = args[1].(string)
			ev := f.abi.Events["POAPUpdated"]
			data, err := ev.Inputs.NonIndexed().Pack(id, args[1].(string))
			require.NoError(f.t, err)
			rcpt.Logs = append(rcpt.Logs, &types.Log{Address: f.contract, Topics: []common.Hash{ev.ID}, Data: data})
		}
	}
	for _, l := range rcpt.Logs {
		f.logs = append(f.logs, *l)
	}
	f.receipts[tx.Hash()] = rcpt
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[h]
	if !ok || f.hold {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	for _, l := range f.logs {
		if matchTopics(l.Topics, q.Topics) {
			out = append(out, l)
		}
	}
	return out, nil
}

func matchTopics(have []common.Hash, want [][]common.Hash) bool {
	for i, alts := range want {
		if len(alts) == 0 {
			continue
		}
		if i >= len(have) {
			return false
		}
		hit := false
		for _, a := range alts {
			if have[i] == a {
				hit = true
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func testPointer(t *testing.T, s string) model.Pointer {
	t.Helper()
	id, err := cidutil.CIDv1RawSHA256CID([]byte(s))
	require.NoError(t, err)
	return model.NewPointer(id)
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, model.Identity) {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return k, model.Identity(crypto.PubkeyToAddress(k.PublicKey).Hex())
}

func newGateway(t *testing.T, chain *fakeChain, signers ...*ecdsa.PrivateKey) *Gateway {
	t.Helper()
	g, err := New(chain, Config{
		Contract:     chain.contract,
		ChainID:      testChainID,
		Signers:      signers,
		PollInterval: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return g
}

func TestGateway_MintAndRead(t *testing.T) {
	ownerKey, owner := newKey(t)
	userKey, user := newKey(t)
	chain := newFakeChain(t, crypto.PubkeyToAddress(ownerKey.PublicKey))
	g := newGateway(t, chain, ownerKey, userKey)
	ctx := context.Background()

	claimed, err := g.HasClaimed(ctx, user)
	require.NoError(t, err)
	require.False(t, claimed)

	p := testPointer(t, "doc-1")
	pending, err := g.Submit(ctx, ledger.Mint(user, p))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(pending.TxRef(), "0x"))

	rcpt, err := pending.Wait(ctx)
	require.NoError(t, err)
	ev, ok := rcpt.Minted()
	require.True(t, ok)
	require.Equal(t, model.RecordID(0), ev.RecordID)
	require.True(t, ev.Owner.Equal(user))
	require.Equal(t, p.String(), ev.URI)

	claimed, err = g.HasClaimed(ctx, user)
	require.NoError(t, err)
	require.True(t, claimed)

	holder, err := g.OwnerOf(ctx, 0)
	require.NoError(t, err)
	require.True(t, holder.Equal(user))

	cur, err := g.CurrentPointer(ctx, 0)
	require.NoError(t, err)
	require.True(t, cur.Equal(p))

	priv, err := g.PrivilegedRole(ctx)
	require.NoError(t, err)
	require.True(t, priv.Equal(owner))

	id, found, err := g.RecordOf(ctx, user)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, model.RecordID(0), id)

	_, found, err = g.RecordOf(ctx, owner)
	require.NoError(t, err)
	require.False(t, found)
}

func TestGateway_SecondClaimIsRejected(t *testing.T) {
	ownerKey, _ := newKey(t)
	userKey, user := newKey(t)
	chain := newFakeChain(t, crypto.PubkeyToAddress(ownerKey.PublicKey))
	g := newGateway(t, chain, userKey)
	ctx := context.Background()

	pending, err := g.Submit(ctx, ledger.Mint(user, testPointer(t, "a")))
	require.NoError(t, err)
	_, err = pending.Wait(ctx)
	require.NoError(t, err)

	_, err = g.Submit(ctx, ledger.Mint(user, testPointer(t, "b")))
	require.ErrorIs(t, err, ledger.ErrAlreadyClaimed)
}

func TestGateway_UpdateRequiresOwner(t *testing.T) {
	ownerKey, owner := newKey(t)
	userKey, user := newKey(t)
	chain := newFakeChain(t, crypto.PubkeyToAddress(ownerKey.PublicKey))
	g := newGateway(t, chain, ownerKey, userKey)
	ctx := context.Background()

	pending, err := g.Submit(ctx, ledger.Mint(user, testPointer(t, "a")))
	require.NoError(t, err)
	_, err = pending.Wait(ctx)
	require.NoError(t, err)

	next := testPointer(t, "b")
	_, err = g.Submit(ctx, ledger.Update(user, 0, next))
	require.ErrorIs(t, err, ledger.ErrNotAuthorized)

	_, err = g.Submit(ctx, ledger.Update(owner, 9, next))
	require.ErrorIs(t, err, ledger.ErrUnknownRecord)

	pending, err = g.Submit(ctx, ledger.Update(owner, 0, next))
	require.NoError(t, err)
	rcpt, err := pending.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, rcpt.Events, 1)
	require.Equal(t, ledger.EventUpdated, rcpt.Events[0].Kind)

	cur, err := g.CurrentPointer(ctx, 0)
	require.NoError(t, err)
	require.True(t, cur.Equal(next))

	_, err = g.CurrentPointer(ctx, 5)
	require.ErrorIs(t, err, ledger.ErrUnknownRecord)
}

func TestGateway_MissingSignerIsNotAuthorized(t *testing.T) {
	ownerKey, _ := newKey(t)
	_, stranger := newKey(t)
	chain := newFakeChain(t, crypto.PubkeyToAddress(ownerKey.PublicKey))
	g := newGateway(t, chain, ownerKey)

	_, err := g.Submit(context.Background(), ledger.Mint(stranger, testPointer(t, "a")))
	require.True(t, model.IsKind(err, model.KindNotAuthorized), "got %v", err)
}

func TestGateway_InvalidIdentity(t *testing.T) {
	ownerKey, _ := newKey(t)
	chain := newFakeChain(t, crypto.PubkeyToAddress(ownerKey.PublicKey))
	g := newGateway(t, chain, ownerKey)

	_, err := g.HasClaimed(context.Background(), "not-an-address")
	require.True(t, model.IsKind(err, model.KindInvalidInput), "got %v", err)
}

func TestPending_WaitHonoursContext(t *testing.T) {
	ownerKey, _ := newKey(t)
	userKey, user := newKey(t)
	chain := newFakeChain(t, crypto.PubkeyToAddress(ownerKey.PublicKey))
	chain.hold = true
	g := newGateway(t, chain, userKey)

	pending, err := g.Submit(context.Background(), ledger.Mint(user, testPointer(t, "a")))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pending.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_Validation(t *testing.T) {
	chain := newFakeChain(t, common.Address{})
	_, err := New(nil, Config{}, nil)
	require.True(t, model.IsKind(err, model.KindConfiguration))
	_, err = New(chain, Config{ChainID: testChainID}, nil)
	require.True(t, model.IsKind(err, model.KindConfiguration))
	_, err = New(chain, Config{Contract: chain.contract}, nil)
	require.True(t, model.IsKind(err, model.KindConfiguration))
}

func TestParseSignerHex(t *testing.T) {
	k, _ := newKey(t)
	hex := fmt.Sprintf("0x%x", crypto.FromECDSA(k))
	parsed, err := ParseSignerHex(hex)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(k.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))

	_, err = ParseSignerHex("zz")
	require.True(t, model.IsKind(err, model.KindConfiguration))
}

// staleClaims answers HasClaimed from a view that predates the other mint.
type staleClaims struct {
	*Gateway
	mu    sync.Mutex
	stale int
}

func (s *staleClaims) HasClaimed(ctx context.Context, who model.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale > 0 {
		s.stale--
		return false, nil
	}
	return s.Gateway.HasClaimed(ctx, who)
}

func TestClaim_MinedRevertAfterRaceIsAlreadyClaimed(t *testing.T) {
	ownerKey, _ := newKey(t)
	userKey, user := newKey(t)
	chain := newFakeChain(t, crypto.PubkeyToAddress(ownerKey.PublicKey))
	chain.estimateAll = true
	g := newGateway(t, chain, ownerKey, userKey)
	ctx := context.Background()

	first, err := claim.New(g, nil, nil).Claim(ctx, claim.Request{Identity: user, Pointer: testPointer(t, "doc-1")})
	require.NoError(t, err)
	require.Equal(t, claim.StateConfirmed, first.State)

	gw := &staleClaims{Gateway: g, stale: 2}
	out, err := claim.New(gw, nil, nil).Claim(ctx, claim.Request{Identity: user, Pointer: testPointer(t, "doc-2")})
	require.NoError(t, err)
	require.Equal(t, claim.StateRejected, out.State)
	require.Equal(t, claim.ReasonAlreadyClaimed, out.Reason)
	require.NotEmpty(t, out.TxRef)
	require.True(t, out.RecordIDKnown)
	require.Equal(t, first.RecordID, out.RecordID)

	rcpt := chain.receipts[common.HexToHash(out.TxRef)]
	require.NotNil(t, rcpt)
	require.Equal(t, types.ReceiptStatusFailed, rcpt.Status)
}
