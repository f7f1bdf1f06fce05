// Package metadata builds the content document a dynamic token points at
// and publishes it to the content store.
package metadata

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"xdao.co/drinkpoap/model"
)

const (
	DefaultTitle       = "DynamicDrinkPOAP 2025"
	DefaultDescription = "A dynamic proof of attendance token that updates with new drink entries."

	// TraitLastUpdated is the date attribute Compose always appends.
	TraitLastUpdated = "Last Updated"
)

// Entry is one drink on the document. Entry order is significant.
type Entry struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Image       model.Pointer `json:"imageUrl"`
	AddedAt     time.Time     `json:"addedAt"`
}

// Equal compares all fields; AddedAt compares as an instant.
func (e Entry) Equal(o Entry) bool {
	return e.ID == o.ID &&
		e.Name == o.Name &&
		e.Description == o.Description &&
		e.Image.Equal(o.Image) &&
		e.AddedAt.Equal(o.AddedAt)
}

// EntriesEqual reports whether a and b hold the same entries in the same order.
func EntriesEqual(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Describes reports whether d was composed from base and entries. The Last
// Updated attribute is ignored.
func (d Document) Describes(base Base, entries []Entry) bool {
	if d.Name != base.Title || d.Description != base.Description ||
		!d.Image.Equal(base.Cover) || d.ExternalURL != base.ExternalURL {
		return false
	}
	if !attributesEqual(withoutLastUpdated(d.Attributes), withoutLastUpdated(base.Attributes)) {
		return false
	}
	want := make([]Entry, len(entries))
	for i, e := range entries {
		e.AddedAt = e.AddedAt.UTC().Truncate(time.Millisecond)
		want[i] = e
	}
	return EntriesEqual(d.Drinks, want)
}

func withoutLastUpdated(attrs []Attribute) []Attribute {
	out := make([]Attribute, 0, len(attrs))
	for _, a := range attrs {
		if a.TraitType != TraitLastUpdated {
			out = append(out, a)
		}
	}
	return out
}

func attributesEqual(a, b []Attribute) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Attribute is a display trait. Value is either a string or an integer.
type Attribute struct {
	DisplayType string         `json:"display_type,omitempty"`
	TraitType   string         `json:"trait_type"`
	Value       AttributeValue `json:"value"`
}

// AttributeValue holds a string or an integer JSON value.
type AttributeValue struct {
	s     string
	n     int64
	isNum bool
}

func StringValue(s string) AttributeValue { return AttributeValue{s: s} }

func NumberValue(n int64) AttributeValue { return AttributeValue{n: n, isNum: true} }

// Int returns the numeric value, if any.
func (v AttributeValue) Int() (int64, bool) { return v.n, v.isNum }

func (v AttributeValue) String() string {
	if v.isNum {
		return strconv.FormatInt(v.n, 10)
	}
	return v.s
}

func (v AttributeValue) MarshalJSON() ([]byte, error) {
	if v.isNum {
		return []byte(strconv.FormatInt(v.n, 10)), nil
	}
	return marshalNoEscape(v.s)
}

func (v *AttributeValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return model.Errorf(model.KindInvalidInput, "attribute value %s is neither a string nor an integer", b)
	}
	*v = NumberValue(n)
	return nil
}

// Base holds the document fields that do not depend on the entries.
type Base struct {
	Title       string
	Description string
	Cover       model.Pointer
	ExternalURL string
	Attributes  []Attribute
}

// DefaultBase returns the event's base fields without a cover image.
func DefaultBase() Base {
	return Base{
		Title:       DefaultTitle,
		Description: DefaultDescription,
		ExternalURL: "https://drinkpoap.example.com",
		Attributes: []Attribute{
			{TraitType: "Event", Value: StringValue("DynamicDrinkPOAP")},
			{TraitType: "Year", Value: StringValue("2025")},
		},
	}
}

// Document is the published content. Field order here is the wire order.
type Document struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Image       model.Pointer `json:"image"`
	ExternalURL string        `json:"external_url,omitempty"`
	Attributes  []Attribute   `json:"attributes"`
	Drinks      []Entry       `json:"drinks"`
}

// LastUpdated returns the value of the Last Updated attribute.
func (d Document) LastUpdated() (time.Time, bool) {
	for _, a := range d.Attributes {
		if a.TraitType != TraitLastUpdated {
			continue
		}
		if n, ok := a.Value.Int(); ok {
			return time.Unix(n, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// Encode renders doc canonically: fixed field order, no HTML escaping,
// one trailing newline.
func Encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, model.WrapError(model.KindInternal, "encode document", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a published document.
func Decode(b []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, model.WrapError(model.KindInvalidInput, "decode document", err)
	}
	if doc.Drinks == nil {
		doc.Drinks = []Entry{}
	}
	return doc, nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
