// Package memledger is an in-process record contract with claim-once
// semantics, used for development and tests.
package memledger

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"xdao.co/drinkpoap/ledger"
	"xdao.co/drinkpoap/model"
)

// Ledger mirrors the on-chain contract: one record per identity, pointer
// updates restricted to the owner role.
type Ledger struct {
	mu sync.Mutex

	owner    model.Identity
	nextID   model.RecordID
	claimed  map[model.Identity]model.RecordID
	holders  map[model.RecordID]model.Identity
	pointers map[model.RecordID]string

	failUpdates map[model.RecordID]error
	failMints   map[model.Identity]error
	omitMinted  bool
	gate        <-chan struct{}

	txSeq     int
	submitted []ledger.Call

	watchers map[int]func(model.Identity)
	watchSeq int
}

var (
	_ ledger.Gateway        = (*Ledger)(nil)
	_ ledger.RecordLookup   = (*Ledger)(nil)
	_ ledger.AccountWatcher = (*Ledger)(nil)
)

type Option func(*Ledger)

// WithFirstRecordID sets the id assigned to the first mint (default 0).
func WithFirstRecordID(id model.RecordID) Option {
	return func(l *Ledger) { l.nextID = id }
}

// WithConfirmationGate makes every Wait block until gate is closed.
func WithConfirmationGate(gate <-chan struct{}) Option {
	return func(l *Ledger) { l.gate = gate }
}

// WithoutMintedEvents drops Minted events from receipts.
func WithoutMintedEvents() Option {
	return func(l *Ledger) { l.omitMinted = true }
}

func New(owner model.Identity, opts ...Option) *Ledger {
	l := &Ledger{
		owner:       owner.Normalize(),
		claimed:     map[model.Identity]model.RecordID{},
		holders:     map[model.RecordID]model.Identity{},
		pointers:    map[model.RecordID]string{},
		failUpdates: map[model.RecordID]error{},
		failMints:   map[model.Identity]error{},
		watchers:    map[int]func(model.Identity){},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FailUpdates makes updates of id revert with err (ledger.ErrReverted if nil).
func (l *Ledger) FailUpdates(id model.RecordID, err error) {
	if err == nil {
		err = ledger.ErrReverted
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failUpdates[id] = err
}

// FailMints makes mints by who revert with err (ledger.ErrReverted if nil).
func (l *Ledger) FailMints(who model.Identity, err error) {
	if err == nil {
		err = ledger.ErrReverted
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failMints[who.Normalize()] = err
}

// Submitted returns every call handed to Submit, in order.
func (l *Ledger) Submitted() []ledger.Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Call(nil), l.submitted...)
}

func (l *Ledger) HasClaimed(ctx context.Context, who model.Identity) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.claimed[who.Normalize()]
	return ok, nil
}

func (l *Ledger) RecordOf(ctx context.Context, who model.Identity) (model.RecordID, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.claimed[who.Normalize()]
	return id, ok, nil
}

func (l *Ledger) OwnerOf(ctx context.Context, id model.RecordID) (model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	who, ok := l.holders[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ledger.ErrUnknownRecord, id)
	}
	return who, nil
}

func (l *Ledger) CurrentPointer(ctx context.Context, id model.RecordID) (model.Pointer, error) {
	if err := ctx.Err(); err != nil {
		return model.Pointer{}, err
	}
	l.mu.Lock()
	uri, ok := l.pointers[id]
	l.mu.Unlock()
	if !ok {
		return model.Pointer{}, fmt.Errorf("%w: %s", ledger.ErrUnknownRecord, id)
	}
	return model.ParsePointer(uri)
}

func (l *Ledger) PrivilegedRole(ctx context.Context) (model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return l.owner, nil
}

// Submit executes call atomically; the outcome is delivered by Wait.
func (l *Ledger) Submit(ctx context.Context, call ledger.Call) (ledger.Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call.From.IsZero() {
		return nil, model.NewError(model.KindInvalidInput, "call has no sender")
	}
	if !call.Pointer.Defined() {
		return nil, model.NewError(model.KindInvalidInput, "call has no pointer")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.txSeq++
	l.submitted = append(l.submitted, call)
	p := &pending{ref: "memtx-" + strconv.Itoa(l.txSeq), gate: l.gate}
	p.receipt.TxRef = p.ref
	p.receipt.Block = uint64(l.txSeq)

	from := call.From.Normalize()
	uri := call.Pointer.String()
	switch call.Kind {
	case ledger.CallMint:
		if _, ok := l.claimed[from]; ok {
			p.err = fmt.Errorf("%w: %s", ledger.ErrAlreadyClaimed, from)
			return p, nil
		}
		if err := l.failMints[from]; err != nil {
			p.err = fmt.Errorf("mint by %s: %w", from, err)
			return p, nil
		}
		id := l.nextID
		l.nextID++
		l.claimed[from] = id
		l.holders[id] = from
		l.pointers[id] = uri
		if !l.omitMinted {
			p.receipt.Events = append(p.receipt.Events, ledger.Event{Kind: ledger.EventMinted, Owner: from, RecordID: id, URI: uri})
		}
	case ledger.CallUpdate:
		if !from.Equal(l.owner) {
			p.err = fmt.Errorf("%w: %s is not the owner", ledger.ErrNotAuthorized, from)
			return p, nil
		}
		if _, ok := l.holders[call.RecordID]; !ok {
			p.err = fmt.Errorf("%w: %s", ledger.ErrUnknownRecord, call.RecordID)
			return p, nil
		}
		if err := l.failUpdates[call.RecordID]; err != nil {
			p.err = fmt.Errorf("update %s: %w", call.RecordID, err)
			return p, nil
		}
		l.pointers[call.RecordID] = uri
		p.receipt.Events = append(p.receipt.Events, ledger.Event{Kind: ledger.EventUpdated, RecordID: call.RecordID, URI: uri})
	default:
		return nil, model.Errorf(model.KindInvalidInput, "unsupported call kind %s", call.Kind)
	}
	return p, nil
}

// SetActiveAccount notifies account watchers.
func (l *Ledger) SetActiveAccount(who model.Identity) {
	l.mu.Lock()
	fns := make([]func(model.Identity), 0, len(l.watchers))
	for _, fn := range l.watchers {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(who)
	}
}

func (l *Ledger) WatchAccounts(_ context.Context, fn func(model.Identity)) (func(), error) {
	if fn == nil {
		return nil, model.NewError(model.KindInvalidInput, "nil account callback")
	}
	l.mu.Lock()
	l.watchSeq++
	key := l.watchSeq
	l.watchers[key] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.watchers, key)
			l.mu.Unlock()
		})
	}, nil
}

type pending struct {
	ref     string
	gate    <-chan struct{}
	receipt ledger.Receipt
	err     error
}

func (p *pending) TxRef() string { return p.ref }

func (p *pending) Wait(ctx context.Context) (ledger.Receipt, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ledger.Receipt{}, ctx.Err()
		}
	}
	if p.err != nil {
		return ledger.Receipt{}, p.err
	}
	return p.receipt, nil
}
