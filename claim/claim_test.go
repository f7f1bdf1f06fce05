package claim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xdao.co/drinkpoap/catalog"
	"xdao.co/drinkpoap/ledger"
	"xdao.co/drinkpoap/ledger/memledger"
	"xdao.co/drinkpoap/metadata"
	"xdao.co/drinkpoap/model"
	"xdao.co/drinkpoap/storage/memcas"
	"xdao.co/drinkpoap/token"
)

const (
	owner = model.Identity("0x00000000000000000000000000000000000000aa")
	alice = model.Identity("0xABC0000000000000000000000000000000000001")
)

func fixedClock() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

func newComposer() *metadata.Composer {
	return metadata.NewComposer(memcas.New(), metadata.DefaultBase(), metadata.WithClock(fixedClock))
}

func entries() []metadata.Entry {
	return []metadata.Entry{
		{ID: "1", Name: "Hazy IPA", AddedAt: fixedClock()},
		{ID: "2", Name: "Dry Stout", AddedAt: fixedClock()},
	}
}

type failingPublisher struct{}

func (failingPublisher) ComposeAndPublish(context.Context, []metadata.Entry) (metadata.Document, model.Pointer, error) {
	return metadata.Document{}, model.Pointer{}, model.NewError(model.KindPublishFailed, "store offline")
}

type brokenReads struct {
	*memledger.Ledger
}

func (brokenReads) HasClaimed(context.Context, model.Identity) (bool, error) {
	return false, errors.New("rpc unavailable")
}

// bareReverts hides the ledger's claim state from the first reads and
// reports rejected mints only as reverted, as a mined EVM transaction does.
type bareReverts struct {
	*memledger.Ledger
	mu         sync.Mutex
	staleReads int
}

func (b *bareReverts) HasClaimed(ctx context.Context, who model.Identity) (bool, error) {
	b.mu.Lock()
	stale := b.staleReads > 0
	if stale {
		b.staleReads--
	}
	b.mu.Unlock()
	if stale {
		return false, nil
	}
	return b.Ledger.HasClaimed(ctx, who)
}

func (b *bareReverts) Submit(ctx context.Context, call ledger.Call) (ledger.Pending, error) {
	p, err := b.Ledger.Submit(ctx, call)
	if err != nil {
		return nil, err
	}
	return revertedPending{p}, nil
}

type revertedPending struct{ ledger.Pending }

func (p revertedPending) Wait(ctx context.Context) (ledger.Receipt, error) {
	r, err := p.Pending.Wait(ctx)
	if errors.Is(err, ledger.ErrAlreadyClaimed) {
		return ledger.Receipt{}, fmt.Errorf("%w: tx %s", ledger.ErrReverted, p.TxRef())
	}
	return r, err
}

func TestClaim_RevertedMintAfterRaceIsAlreadyClaimed(t *testing.T) {
	led := memledger.New(owner)
	ctx := context.Background()
	first, err := New(led, newComposer(), nil).Claim(ctx, Request{Identity: alice, Entries: entries()})
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, first.State)

	gw := &bareReverts{Ledger: led, staleReads: 2}
	out, err := New(gw, newComposer(), nil).Claim(ctx, Request{Identity: alice, Entries: entries()})
	require.NoError(t, err)
	require.Equal(t, StateRejected, out.State)
	require.Equal(t, ReasonAlreadyClaimed, out.Reason)
	require.NotEmpty(t, out.TxRef)
	require.True(t, out.RecordIDKnown)
	require.Equal(t, first.RecordID, out.RecordID)
}

func TestClaim_RevertedMintWithoutClaimIsLedgerFailure(t *testing.T) {
	led := memledger.New(owner)
	led.FailMints(alice, nil)
	out, err := New(led, newComposer(), nil).Claim(context.Background(), Request{Identity: alice, Entries: entries()})
	require.NoError(t, err)
	require.Equal(t, StateRejected, out.State)
	require.Equal(t, ReasonLedgerFailed, out.Reason)
}

func TestClaim_ConfirmsAndRejectsRepeat(t *testing.T) {
	led := memledger.New(owner)
	o := New(led, newComposer(), nil)
	ctx := context.Background()

	out, err := o.Claim(ctx, Request{Identity: alice, Entries: entries()})
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, out.State)
	require.True(t, out.RecordIDKnown)
	require.Equal(t, model.RecordID(0), out.RecordID)
	require.True(t, out.Pointer.Defined())
	require.NotEmpty(t, out.TxRef)

	again, err := o.Claim(ctx, Request{Identity: alice, Entries: entries()})
	require.NoError(t, err)
	require.Equal(t, StateRejected, again.State)
	require.Equal(t, ReasonAlreadyClaimed, again.Reason)
	require.True(t, again.RecordIDKnown)
	require.Equal(t, out.RecordID, again.RecordID)
	require.Len(t, led.Submitted(), 1)
}

func TestClaim_ConcurrentSameIdentity(t *testing.T) {
	led := memledger.New(owner)
	o := New(led, newComposer(), nil)

	const n = 8
	outs := make([]Outcome, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = o.Claim(context.Background(), Request{Identity: alice, Entries: entries()})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	confirmed := 0
	for _, out := range outs {
		switch out.State {
		case StateConfirmed:
			confirmed++
		case StateRejected:
			require.Equal(t, ReasonAlreadyClaimed, out.Reason)
		}
	}
	require.Equal(t, 1, confirmed)
}

func TestClaim_PublishFailure(t *testing.T) {
	led := memledger.New(owner)
	o := New(led, failingPublisher{}, nil)

	out, err := o.Claim(context.Background(), Request{Identity: alice})
	require.NoError(t, err)
	require.Equal(t, StateRejected, out.State)
	require.Equal(t, ReasonPublishFailed, out.Reason)
	require.Empty(t, led.Submitted())
}

func TestClaim_PrePublishedPointerSkipsPublishing(t *testing.T) {
	c := newComposer()
	_, p, err := c.ComposeAndPublish(context.Background(), entries())
	require.NoError(t, err)

	led := memledger.New(owner)
	o := New(led, failingPublisher{}, nil)
	out, err := o.Claim(context.Background(), Request{Identity: alice, Pointer: p})
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, out.State)
	require.True(t, out.Pointer.Equal(p))
}

func TestClaim_MissingMintedEvent(t *testing.T) {
	o := New(memledger.New(owner, memledger.WithoutMintedEvents()), newComposer(), nil)

	out, err := o.Claim(context.Background(), Request{Identity: alice, Entries: entries()})
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, out.State)
	require.False(t, out.RecordIDKnown)
}

func TestClaim_AbandonedConfirmationIsIndeterminate(t *testing.T) {
	gate := make(chan struct{})
	led := memledger.New(owner, memledger.WithConfirmationGate(gate))
	o := New(led, newComposer(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Claim(ctx, Request{Identity: alice, Entries: entries()})
	require.Error(t, err)
	require.True(t, model.IsKind(err, model.KindIndeterminate), "got %v", err)

	var ind *IndeterminateError
	require.ErrorAs(t, err, &ind)
	require.Equal(t, "memtx-1", ind.TxRef)
	require.True(t, ind.Pointer.Defined())

	// The mint landed even though the caller stopped waiting.
	claimed, err := led.HasClaimed(context.Background(), alice)
	require.NoError(t, err)
	require.True(t, claimed)
	close(gate)
}

func TestClaim_LedgerReadFailure(t *testing.T) {
	led := memledger.New(owner)
	o := New(brokenReads{led}, newComposer(), nil)

	out, err := o.Claim(context.Background(), Request{Identity: alice, Entries: entries()})
	require.NoError(t, err)
	require.Equal(t, StateRejected, out.State)
	require.Equal(t, ReasonLedgerFailed, out.Reason)
	require.Empty(t, led.Submitted())
}

func TestClaim_InvalidInput(t *testing.T) {
	o := New(memledger.New(owner), newComposer(), nil)

	_, err := o.Claim(context.Background(), Request{})
	require.True(t, model.IsKind(err, model.KindInvalidInput))

	_, err = o.Claim(context.Background(), Request{Identity: alice, Entries: []metadata.Entry{{ID: "", Name: "x"}}})
	require.True(t, model.IsKind(err, model.KindInvalidInput))
}

func TestEndToEnd_TokenCatalogComposeClaim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/V2/Venues/sjc/Beers" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"BeverageName":"Hazy IPA","ProducerName":"Brewhouse","BeverageStyle":"IPA","Abv":6.8,"Ibu":55,"Srm":6},
			{"BeverageName":"Dry Stout","ProducerName":"Brewhouse","BeverageStyle":"Stout","Abv":4.2,"Ibu":35,"Srm":40}
		]`))
	}))
	defer upstream.Close()

	tokens, err := token.NewHMAC([]byte("test-secret"))
	require.NoError(t, err)
	tok, err := tokens.Issue("sjc", token.PurposeMint)
	require.NoError(t, err)

	gw, err := catalog.NewGateway(catalog.Config{BaseURL: upstream.URL}, tokens)
	require.NoError(t, err)
	snap, err := gw.Fetch(context.Background(), tok.Raw)
	require.NoError(t, err)
	require.Equal(t, catalog.SourceUpstream, snap.Source)
	require.Len(t, snap.Items, 2)

	var picked []metadata.Entry
	for _, it := range snap.Items {
		picked = append(picked, metadata.NewEntry(it.Name, it.Category, model.Pointer{}, fixedClock()))
	}
	composer := newComposer()
	_, p1, err := composer.ComposeAndPublish(context.Background(), picked)
	require.NoError(t, err)

	led := memledger.New(owner)
	o := New(led, composer, nil)
	out, err := o.Claim(context.Background(), Request{Identity: "0xABC", Pointer: p1})
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, out.State)
	require.True(t, out.RecordIDKnown)

	cur, err := led.CurrentPointer(context.Background(), out.RecordID)
	require.NoError(t, err)
	require.True(t, cur.Equal(p1))

	again, err := o.Claim(context.Background(), Request{Identity: "0xabc", Pointer: p1})
	require.NoError(t, err)
	require.Equal(t, StateRejected, again.State)
	require.Equal(t, ReasonAlreadyClaimed, again.Reason)
}

var _ ledger.Gateway = brokenReads{}
