// Package batch rewrites the pointer of several records to one new document.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"xdao.co/drinkpoap/ledger"
	"xdao.co/drinkpoap/metadata"
	"xdao.co/drinkpoap/model"
)

// Publisher composes, stores and loads documents. *metadata.Composer implements it.
type Publisher interface {
	ComposeAndPublish(ctx context.Context, entries []metadata.Entry) (metadata.Document, model.Pointer, error)
	Load(ctx context.Context, p model.Pointer) (metadata.Document, error)
	Base() metadata.Base
}

type Request struct {
	Caller    model.Identity
	RecordIDs []model.RecordID
	Entries   []metadata.Entry
	// SkipIfUnchanged leaves alone every record whose current document
	// already carries the configured base and Entries. The rest are updated.
	SkipIfUnchanged bool
}

// Failure is one record whose update did not succeed.
type Failure struct {
	RecordID model.RecordID `json:"record_id"`
	Kind     model.Kind     `json:"kind"`
	Reason   string         `json:"reason"`
	TxRef    string         `json:"tx_ref,omitempty"`
}

// Result partitions the requested ids. Every deduplicated id appears in
// exactly one of Succeeded, Failed, NotAttempted or Skipped.
type Result struct {
	Pointer      model.Pointer    `json:"pointer"`
	Succeeded    []model.RecordID `json:"succeeded"`
	Failed       []Failure        `json:"failed"`
	NotAttempted []model.RecordID `json:"not_attempted"`
	Skipped      []model.RecordID `json:"skipped,omitempty"`
}

func newResult() Result {
	return Result{
		Succeeded:    []model.RecordID{},
		Failed:       []Failure{},
		NotAttempted: []model.RecordID{},
	}
}

type Orchestrator struct {
	ledger    ledger.Gateway
	publisher Publisher
	logger    *slog.Logger
}

func New(gw ledger.Gateway, pub Publisher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{ledger: gw, publisher: pub, logger: logger.With("module", "batch")}
}

// Update publishes one document for req.Entries and points every record at
// it, one confirmed update at a time.
//
// Authorization and input failures return an error before anything is
// written. A publish failure returns a PublishFailed error together with a
// Result listing every id as not attempted. Per-record failures are
// isolated in Result.Failed; cancellation leaves the remaining ids in
// Result.NotAttempted.
func (o *Orchestrator) Update(ctx context.Context, req Request) (Result, error) {
	caller := req.Caller.Normalize()
	if caller.IsZero() {
		return Result{}, model.NewError(model.KindInvalidInput, "caller is required")
	}
	ids := Dedupe(req.RecordIDs)
	if len(ids) == 0 {
		return Result{}, model.NewError(model.KindInvalidInput, "no record ids given")
	}
	log := o.logger.With("operation", "batch_update", "caller", caller.String(), "records", len(ids))

	privileged, err := o.ledger.PrivilegedRole(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, model.WrapError(model.KindLedger, "read privileged role", err)
	}
	if !caller.Equal(privileged) {
		log.Warn("batch update refused", "outcome", "not_authorized")
		return Result{}, model.Errorf(model.KindNotAuthorized, "%s may not update records", caller)
	}

	res := newResult()
	if req.SkipIfUnchanged {
		var current model.Pointer
		ids, current = o.changed(ctx, ids, req.Entries, &res, log)
		if len(ids) == 0 {
			res.Pointer = current
			log.Info("batch update skipped", "outcome", "unchanged", "pointer", current.String())
			return res, nil
		}
	}

	_, ptr, err := o.publisher.ComposeAndPublish(ctx, req.Entries)
	if err != nil {
		if model.IsKind(err, model.KindInvalidInput) {
			return Result{}, err
		}
		res.NotAttempted = append(res.NotAttempted, ids...)
		log.Warn("batch publish failed", "outcome", "publish_failed", "error", err)
		if !model.IsKind(err, model.KindPublishFailed) {
			err = model.WrapError(model.KindPublishFailed, "publish document", err)
		}
		return res, err
	}
	res.Pointer = ptr
	log = log.With("pointer", ptr.String())

	for i, id := range ids {
		if ctx.Err() != nil {
			res.NotAttempted = append(res.NotAttempted, ids[i:]...)
			break
		}
		if f, ok := o.updateOne(ctx, caller, id, ptr); !ok {
			res.Failed = append(res.Failed, f)
			log.Warn("record update failed", "record_id", id, "outcome", f.Kind, "error", f.Reason)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}

	log.Info("batch update finished", "outcome", "done",
		"succeeded", len(res.Succeeded), "failed", len(res.Failed), "not_attempted", len(res.NotAttempted))
	return res, nil
}

func (o *Orchestrator) updateOne(ctx context.Context, caller model.Identity, id model.RecordID, ptr model.Pointer) (Failure, bool) {
	pending, err := o.ledger.Submit(ctx, ledger.Update(caller, id, ptr))
	if err != nil {
		return Failure{RecordID: id, Kind: classify(err), Reason: err.Error()}, false
	}
	if _, err := pending.Wait(ctx); err != nil {
		f := Failure{RecordID: id, Kind: classify(err), Reason: err.Error(), TxRef: pending.TxRef()}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			f.Kind = model.KindIndeterminate
			f.Reason = fmt.Sprintf("update %s submitted but not confirmed", pending.TxRef())
		}
		return f, false
	}
	return Failure{}, true
}

// changed moves every id whose current document already matches into
// res.Skipped and returns the ids that still need an update, plus the pointer
// of the first skipped record. Ids whose document cannot be read are kept
// so the update reports their failure.
func (o *Orchestrator) changed(ctx context.Context, ids []model.RecordID, entries []metadata.Entry, res *Result, log *slog.Logger) ([]model.RecordID, model.Pointer) {
	base := o.publisher.Base()
	matches := map[string]bool{}
	var first model.Pointer
	todo := make([]model.RecordID, 0, len(ids))
	for _, id := range ids {
		cur, err := o.ledger.CurrentPointer(ctx, id)
		if err != nil {
			log.Debug("current pointer unavailable", "record_id", id, "error", err)
			todo = append(todo, id)
			continue
		}
		same, seen := matches[cur.String()]
		if !seen {
			doc, err := o.publisher.Load(ctx, cur)
			if err != nil {
				log.Debug("current document unavailable", "record_id", id, "error", err)
				todo = append(todo, id)
				continue
			}
			same = doc.Describes(base, entries)
			matches[cur.String()] = same
		}
		if !same {
			todo = append(todo, id)
			continue
		}
		if !first.Defined() {
			first = cur
		}
		res.Skipped = append(res.Skipped, id)
	}
	return todo, first
}

func classify(err error) model.Kind {
	switch {
	case errors.Is(err, ledger.ErrNotAuthorized):
		return model.KindNotAuthorized
	case errors.Is(err, ledger.ErrUnknownRecord):
		return model.KindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return model.KindIndeterminate
	}
	var me *model.Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return model.KindLedger
}

// Dedupe drops repeated ids, keeping first occurrences in order.
func Dedupe(ids []model.RecordID) []model.RecordID {
	seen := make(map[model.RecordID]struct{}, len(ids))
	out := make([]model.RecordID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ParseRecordIDs parses a comma or whitespace separated id list such as "0, 1, 2".
func ParseRecordIDs(s string) ([]model.RecordID, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	if len(fields) == 0 {
		return nil, model.NewError(model.KindInvalidInput, "no record ids given")
	}
	ids := make([]model.RecordID, 0, len(fields))
	for _, f := range fields {
		id, err := model.ParseRecordID(f)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
