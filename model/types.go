package model

import (
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/drinkpoap/cidutil"
)

// Identity is a ledger account address (for EVM ledgers, a 0x-prefixed hex string).
//
// Comparisons are case-insensitive; checksummed and lower-case spellings of
// the same address are the same identity.
type Identity string

// Normalize trims whitespace and lower-cases the address.
func (i Identity) Normalize() Identity {
	return Identity(strings.ToLower(strings.TrimSpace(string(i))))
}

// Equal reports whether i and o name the same account.
func (i Identity) Equal(o Identity) bool {
	return i.Normalize() == o.Normalize()
}

func (i Identity) IsZero() bool { return strings.TrimSpace(string(i)) == "" }

func (i Identity) String() string { return string(i) }

// RecordID identifies a dynamic token on the ledger.
type RecordID uint64

func (r RecordID) String() string { return strconv.FormatUint(uint64(r), 10) }

// ParseRecordID parses a base-10 record id.
func ParseRecordID(s string) (RecordID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, Errorf(KindInvalidInput, "invalid record id %q", s)
	}
	return RecordID(n), nil
}

// Pointer is the content address a record currently points at.
//
// Its text form is "ipfs://<cid>"; that is the form written to the ledger
// and embedded in published documents.
type Pointer struct {
	id cid.Cid
}

// NewPointer wraps a content address.
func NewPointer(id cid.Cid) Pointer { return Pointer{id: id} }

// ParsePointer accepts "ipfs://<cid>", "/ipfs/<cid>" or a bare CID.
func ParsePointer(s string) (Pointer, error) {
	id, err := cidutil.ParseURI(s)
	if err != nil {
		return Pointer{}, WrapError(KindInvalidInput, "invalid pointer", err)
	}
	return Pointer{id: id}, nil
}

func (p Pointer) CID() cid.Cid { return p.id }

func (p Pointer) Defined() bool { return p.id.Defined() }

func (p Pointer) String() string { return cidutil.URI(p.id) }

func (p Pointer) Equal(o Pointer) bool { return p.id.Equals(o.id) }

func (p Pointer) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Pointer) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = Pointer{}
		return nil
	}
	parsed, err := ParsePointer(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
