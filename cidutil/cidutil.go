// Package cidutil derives content addresses and formats them as ipfs:// pointers.
//
// Every address produced by this module is a CIDv1 using the "raw" multicodec
// and a sha2-256 multihash, so identical bytes always map to the same address
// regardless of which storage backend holds them.
package cidutil

import (
	"errors"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// URIScheme prefixes content addresses stored on the ledger and inside documents.
const URIScheme = "ipfs://"

// DefaultGateway is the public HTTP gateway used to render pointers for browsers.
const DefaultGateway = "https://ipfs.io/ipfs/"

var errEmptyPointer = errors.New("cidutil: empty pointer")

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	id, err := CIDv1RawSHA256CID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// URI renders id as "ipfs://<cid>".
func URI(id cid.Cid) string {
	if !id.Defined() {
		return ""
	}
	return URIScheme + id.String()
}

// ParseURI accepts "ipfs://<cid>", "/ipfs/<cid>" or a bare CID string.
func ParseURI(s string) (cid.Cid, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, URIScheme):
		s = strings.TrimPrefix(s, URIScheme)
	case strings.HasPrefix(s, "/ipfs/"):
		s = strings.TrimPrefix(s, "/ipfs/")
	}
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return cid.Undef, errEmptyPointer
	}
	return cid.Decode(s)
}

// GatewayURL rewrites a pointer for an HTTP gateway. An empty gateway selects DefaultGateway.
func GatewayURL(gateway string, id cid.Cid) string {
	if gateway == "" {
		gateway = DefaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return gateway + id.String()
}
