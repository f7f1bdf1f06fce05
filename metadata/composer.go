package metadata

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"xdao.co/drinkpoap/model"
	"xdao.co/drinkpoap/storage"
)

// MaxImageBytes bounds UploadImage.
const MaxImageBytes = 10 << 20

// Composer assembles documents and publishes them to a content store.
// It holds no mutable state and is safe for concurrent use.
type Composer struct {
	store  storage.CAS
	base   Base
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Composer)

// WithClock overrides the time source used for Last Updated.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewComposer(store storage.CAS, base Base, opts ...Option) *Composer {
	c := &Composer{
		store:  store,
		base:   base,
		now:    time.Now,
		logger: slog.Default().With("module", "metadata"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Base returns the configured base fields.
func (c *Composer) Base() Base {
	b := c.base
	b.Attributes = append([]Attribute(nil), c.base.Attributes...)
	return b
}

// Compose builds the document for base and entries.
//
// The result depends only on its inputs and the clock: the Last Updated
// attribute is always the clock's current unix second, so composing the same
// entries at different times yields different documents.
func (c *Composer) Compose(base Base, entries []Entry) (Document, error) {
	drinks := make([]Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.ID) == "" {
			return Document{}, model.Errorf(model.KindInvalidInput, "entry %d has no id", i)
		}
		if strings.TrimSpace(e.Name) == "" {
			return Document{}, model.Errorf(model.KindInvalidInput, "entry %q has no name", e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return Document{}, model.Errorf(model.KindInvalidInput, "duplicate entry id %q", e.ID)
		}
		seen[e.ID] = struct{}{}
		e.AddedAt = e.AddedAt.UTC().Truncate(time.Millisecond)
		drinks = append(drinks, e)
	}

	attrs := make([]Attribute, 0, len(base.Attributes)+1)
	for _, a := range base.Attributes {
		if a.TraitType == TraitLastUpdated {
			continue
		}
		attrs = append(attrs, a)
	}
	attrs = append(attrs, Attribute{
		DisplayType: "date",
		TraitType:   TraitLastUpdated,
		Value:       NumberValue(c.now().Unix()),
	})

	return Document{
		Name:        base.Title,
		Description: base.Description,
		Image:       base.Cover,
		ExternalURL: base.ExternalURL,
		Attributes:  attrs,
		Drinks:      drinks,
	}, nil
}

// Publish stores the canonical encoding of doc and returns its pointer.
func (c *Composer) Publish(ctx context.Context, doc Document) (model.Pointer, error) {
	b, err := Encode(doc)
	if err != nil {
		return model.Pointer{}, err
	}
	id, err := c.store.Put(ctx, b)
	if err != nil {
		c.logger.Warn("publish document failed", "operation", "publish", "outcome", "failed", "error", err)
		return model.Pointer{}, model.WrapError(model.KindPublishFailed, "publish document", err)
	}
	p := model.NewPointer(id)
	c.logger.Debug("document published", "operation", "publish", "outcome", "ok", "pointer", p.String(), "drinks", len(doc.Drinks))
	return p, nil
}

// ComposeAndPublish composes the configured base with entries and publishes it.
func (c *Composer) ComposeAndPublish(ctx context.Context, entries []Entry) (Document, model.Pointer, error) {
	doc, err := c.Compose(c.base, entries)
	if err != nil {
		return Document{}, model.Pointer{}, err
	}
	p, err := c.Publish(ctx, doc)
	if err != nil {
		return Document{}, model.Pointer{}, err
	}
	return doc, p, nil
}

// Raw fetches the stored bytes behind p.
func (c *Composer) Raw(ctx context.Context, p model.Pointer) ([]byte, error) {
	if !p.Defined() {
		return nil, model.NewError(model.KindInvalidInput, "pointer is not set")
	}
	b, err := c.store.Get(ctx, p.CID())
	if err != nil {
		switch kind := storage.KindOf(err); kind {
		case model.KindNotFound:
			return nil, model.Errorf(model.KindNotFound, "no content at %s", p)
		case model.KindInvalidInput:
			return nil, model.WrapError(kind, "invalid pointer", err)
		default:
			c.logger.Warn("read content failed", "operation", "load_document", "outcome", "failed", "pointer", p.String(), "error", err)
			return nil, model.WrapError(kind, "read content", err)
		}
	}
	return b, nil
}

// Load fetches and decodes the document behind p.
func (c *Composer) Load(ctx context.Context, p model.Pointer) (Document, error) {
	b, err := c.Raw(ctx, p)
	if err != nil {
		return Document{}, err
	}
	return Decode(b)
}

// UploadImage stores raw image bytes and returns their pointer.
func (c *Composer) UploadImage(ctx context.Context, data []byte) (model.Pointer, error) {
	if len(data) == 0 {
		return model.Pointer{}, model.NewError(model.KindInvalidInput, "image is empty")
	}
	if len(data) > MaxImageBytes {
		return model.Pointer{}, model.Errorf(model.KindInvalidInput, "image exceeds %d bytes", MaxImageBytes)
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		return model.Pointer{}, model.Errorf(model.KindInvalidInput, "content type %s is not an image", ct)
	}
	id, err := c.store.Put(ctx, data)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return model.Pointer{}, model.WrapError(model.KindInvalidInput, "upload image", err)
		}
		return model.Pointer{}, model.WrapError(model.KindPublishFailed, "upload image", err)
	}
	return model.NewPointer(id), nil
}

// NewEntry returns an entry with a ULID id timestamped at now.
func NewEntry(name, description string, image model.Pointer, now time.Time) Entry {
	now = now.UTC().Truncate(time.Millisecond)
	return Entry{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Image:       image,
		AddedAt:     now,
	}
}
