// Package ledger describes the record contract the orchestrators drive.
//
// Reads are plain queries. The only mutation is Submit, which hands a call
// to the ledger and returns a Pending handle; the outcome is known only once
// Pending.Wait returns a Receipt.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"xdao.co/drinkpoap/model"
)

var (
	// ErrAlreadyClaimed is the ledger's rejection of a second claim by one identity.
	ErrAlreadyClaimed = errors.New("ledger: identity already claimed")
	// ErrUnknownRecord is returned for record ids the ledger never issued.
	ErrUnknownRecord = errors.New("ledger: unknown record")
	// ErrNotAuthorized is the ledger's rejection of a call the sender may not make.
	ErrNotAuthorized = errors.New("ledger: caller not authorized")
	// ErrReverted marks a submitted call that was included but failed.
	ErrReverted = errors.New("ledger: call reverted")
)

type CallKind int

const (
	CallMint CallKind = iota + 1
	CallUpdate
)

func (k CallKind) String() string {
	switch k {
	case CallMint:
		return "mint"
	case CallUpdate:
		return "update"
	default:
		return fmt.Sprintf("CallKind(%d)", int(k))
	}
}

// Call is one state-changing request.
type Call struct {
	Kind CallKind
	// From is the sending identity.
	From model.Identity
	// RecordID is set for CallUpdate.
	RecordID model.RecordID
	Pointer  model.Pointer
}

func Mint(from model.Identity, p model.Pointer) Call {
	return Call{Kind: CallMint, From: from, Pointer: p}
}

func Update(from model.Identity, id model.RecordID, p model.Pointer) Call {
	return Call{Kind: CallUpdate, From: from, RecordID: id, Pointer: p}
}

type EventKind int

const (
	EventMinted EventKind = iota + 1
	EventUpdated
)

// Event is a decoded ledger event.
type Event struct {
	Kind     EventKind
	Owner    model.Identity
	RecordID model.RecordID
	URI      string
}

// Receipt is the confirmed result of a submitted call.
type Receipt struct {
	TxRef  string
	Block  uint64
	Events []Event
}

// Minted returns the first Minted event, if the receipt carries one.
func (r Receipt) Minted() (Event, bool) {
	for _, e := range r.Events {
		if e.Kind == EventMinted {
			return e, true
		}
	}
	return Event{}, false
}

// Pending is a submitted call awaiting confirmation.
type Pending interface {
	// TxRef identifies the submission for later re-query.
	TxRef() string
	// Wait blocks until the call is confirmed or ctx is done. A reverted
	// call returns an error wrapping ErrReverted or a more specific sentinel.
	Wait(ctx context.Context) (Receipt, error)
}

// Gateway is the ledger as the orchestrators see it.
type Gateway interface {
	HasClaimed(ctx context.Context, who model.Identity) (bool, error)
	OwnerOf(ctx context.Context, id model.RecordID) (model.Identity, error)
	CurrentPointer(ctx context.Context, id model.RecordID) (model.Pointer, error)
	PrivilegedRole(ctx context.Context) (model.Identity, error)
	Submit(ctx context.Context, call Call) (Pending, error)
}

// RecordLookup is implemented by gateways that can find the record an identity owns.
type RecordLookup interface {
	RecordOf(ctx context.Context, who model.Identity) (model.RecordID, bool, error)
}

// AccountWatcher reports changes of the active account. The returned
// function stops the subscription.
type AccountWatcher interface {
	WatchAccounts(ctx context.Context, fn func(model.Identity)) (cancel func(), err error)
}
