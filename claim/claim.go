// Package claim drives a single identity from unclaimed to holding a record.
//
// A claim publishes the composed document, then submits a mint pointing at
// it and waits for confirmation. The ledger enforces one record per
// identity; the orchestrator only narrows the race window and reports
// outcomes. Nothing is retried automatically.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"xdao.co/drinkpoap/ledger"
	"xdao.co/drinkpoap/metadata"
	"xdao.co/drinkpoap/model"
)

type State string

const (
	StateConfirmed State = "Confirmed"
	StateRejected  State = "Rejected"
)

// Reason qualifies a Rejected outcome.
type Reason string

const (
	ReasonAlreadyClaimed Reason = "AlreadyClaimed"
	ReasonPublishFailed  Reason = "PublishFailed"
	ReasonLedgerFailed   Reason = "LedgerFailed"
)

// Publisher composes and stores a document. *metadata.Composer implements it.
type Publisher interface {
	ComposeAndPublish(ctx context.Context, entries []metadata.Entry) (metadata.Document, model.Pointer, error)
}

type Request struct {
	Identity model.Identity
	Entries  []metadata.Entry
	// Pointer, when set, is used as-is and no document is published.
	Pointer model.Pointer
}

// Outcome is the terminal result of a claim.
type Outcome struct {
	State         State          `json:"state"`
	Reason        Reason         `json:"reason,omitempty"`
	RecordID      model.RecordID `json:"record_id"`
	RecordIDKnown bool           `json:"record_id_known"`
	TxRef         string         `json:"tx_ref,omitempty"`
	Pointer       model.Pointer  `json:"pointer"`
	Message       string         `json:"message"`
}

// IndeterminateError reports a submitted mint whose confirmation was
// abandoned. The claim may or may not have landed; re-query by TxRef or
// HasClaimed instead of resubmitting.
type IndeterminateError struct {
	TxRef   string
	Pointer model.Pointer
	err     error
}

func (e *IndeterminateError) Error() string { return e.err.Error() }

func (e *IndeterminateError) Unwrap() error { return e.err }

type Orchestrator struct {
	ledger    ledger.Gateway
	publisher Publisher
	logger    *slog.Logger
}

func New(gw ledger.Gateway, pub Publisher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{ledger: gw, publisher: pub, logger: logger.With("module", "claim")}
}

// Claim runs one claim to a terminal outcome.
//
// Rejections are outcomes, not errors. Errors are returned for invalid
// input, cancellation before submission, and abandonment after submission
// (an *IndeterminateError of kind Indeterminate).
func (o *Orchestrator) Claim(ctx context.Context, req Request) (Outcome, error) {
	who := req.Identity.Normalize()
	if who.IsZero() {
		return Outcome{}, model.NewError(model.KindInvalidInput, "identity is required")
	}
	log := o.logger.With("operation", "claim", "identity", who.String())

	if out, done, err := o.checkClaimed(ctx, who, log); done || err != nil {
		return out, err
	}

	ptr := req.Pointer
	if !ptr.Defined() {
		if o.publisher == nil {
			return Outcome{}, model.NewError(model.KindConfiguration, "claim: no publisher configured")
		}
		var err error
		_, ptr, err = o.publisher.ComposeAndPublish(ctx, req.Entries)
		if err != nil {
			if model.IsKind(err, model.KindInvalidInput) {
				return Outcome{}, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{}, ctxErr
			}
			log.Warn("claim rejected", "outcome", ReasonPublishFailed, "error", err)
			return rejected(ReasonPublishFailed, model.Pointer{}, "", "publishing the document failed: "+err.Error()), nil
		}
	}
	log = log.With("pointer", ptr.String())

	// The ledger arbitrates; this only shrinks the window.
	if out, done, err := o.checkClaimed(ctx, who, log); done || err != nil {
		out.Pointer = ptr
		return out, err
	}

	pending, err := o.ledger.Submit(ctx, ledger.Mint(who, ptr))
	if err != nil {
		return o.ledgerRejection(ctx, who, err, ptr, "", log)
	}
	ref := pending.TxRef()
	log = log.With("tx", ref)
	log.Info("mint submitted", "outcome", "submitted")

	rcpt, err := pending.Wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			log.Warn("claim confirmation abandoned", "outcome", "indeterminate", "error", err)
			return Outcome{}, &IndeterminateError{
				TxRef:   ref,
				Pointer: ptr,
				err:     model.WrapError(model.KindIndeterminate, fmt.Sprintf("mint %s submitted but not confirmed", ref), err),
			}
		}
		return o.ledgerRejection(ctx, who, err, ptr, ref, log)
	}

	out := Outcome{State: StateConfirmed, TxRef: rcpt.TxRef, Pointer: ptr}
	if out.TxRef == "" {
		out.TxRef = ref
	}
	if ev, ok := mintedFor(rcpt, who); ok {
		out.RecordID = ev.RecordID
		out.RecordIDKnown = true
		out.Message = fmt.Sprintf("claimed record %s", ev.RecordID)
	} else {
		out.Message = "claim confirmed; record id not reported by the ledger"
	}
	log.Info("claim confirmed", "outcome", out.State, "record_id", out.RecordID, "record_id_known", out.RecordIDKnown)
	return out, nil
}

func (o *Orchestrator) checkClaimed(ctx context.Context, who model.Identity, log *slog.Logger) (Outcome, bool, error) {
	claimed, err := o.ledger.HasClaimed(ctx, who)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, true, ctxErr
		}
		if model.IsKind(err, model.KindInvalidInput) {
			return Outcome{}, true, err
		}
		log.Warn("claim rejected", "outcome", ReasonLedgerFailed, "error", err)
		return rejected(ReasonLedgerFailed, model.Pointer{}, "", "checking claim state failed: "+err.Error()), true, nil
	}
	if !claimed {
		return Outcome{}, false, nil
	}
	log.Info("claim rejected", "outcome", ReasonAlreadyClaimed)
	return o.alreadyClaimed(ctx, who, model.Pointer{}, ""), true, nil
}

func (o *Orchestrator) alreadyClaimed(ctx context.Context, who model.Identity, ptr model.Pointer, ref string) Outcome {
	out := rejected(ReasonAlreadyClaimed, ptr, ref, "this identity has already claimed")
	if lookup, ok := o.ledger.(ledger.RecordLookup); ok {
		if id, found, err := lookup.RecordOf(ctx, who); err == nil && found {
			out.RecordID = id
			out.RecordIDKnown = true
			out.Message = fmt.Sprintf("this identity already holds record %s", id)
		}
	}
	return out
}

func (o *Orchestrator) ledgerRejection(ctx context.Context, who model.Identity, err error, ptr model.Pointer, ref string, log *slog.Logger) (Outcome, error) {
	if errors.Is(err, ledger.ErrAlreadyClaimed) {
		log.Info("claim rejected by ledger", "outcome", ReasonAlreadyClaimed)
		return o.alreadyClaimed(ctx, who, ptr, ref), nil
	}
	// A bare revert carries no reason; a claim that landed meanwhile explains it.
	if errors.Is(err, ledger.ErrReverted) {
		if claimed, cerr := o.ledger.HasClaimed(ctx, who); cerr == nil && claimed {
			log.Info("claim rejected by ledger", "outcome", ReasonAlreadyClaimed, "error", err)
			return o.alreadyClaimed(ctx, who, ptr, ref), nil
		}
	}
	if ref == "" {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		if model.IsKind(err, model.KindInvalidInput) {
			return Outcome{}, err
		}
	}
	log.Warn("claim rejected", "outcome", ReasonLedgerFailed, "error", err)
	return rejected(ReasonLedgerFailed, ptr, ref, "ledger rejected the mint: "+err.Error()), nil
}

func rejected(r Reason, ptr model.Pointer, ref, msg string) Outcome {
	return Outcome{State: StateRejected, Reason: r, Pointer: ptr, TxRef: ref, Message: msg}
}

func mintedFor(r ledger.Receipt, who model.Identity) (ledger.Event, bool) {
	for _, ev := range r.Events {
		if ev.Kind == ledger.EventMinted && (ev.Owner.IsZero() || ev.Owner.Equal(who)) {
			return ev, true
		}
	}
	return ledger.Event{}, false
}
