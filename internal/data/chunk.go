package data

import (
	"github.com/dreamware/saferoute/internal/clienterrors"
	"github.com/dreamware/saferoute/internal/xorname"
)

// Chunk is immutable, content-addressed data: the client derives its
// address from its bytes rather than choosing one (spec.md §3 "Chunk:
// immutable opaque bytes, address = content hash").
type Chunk struct {
	Bytes []byte
}

// Address returns the Chunk's content address.
func (c Chunk) Address() Address {
	return Address{Kind: KindChunk, Name: xorname.FromContent(c.Bytes)}
}

// NewChunk wraps raw bytes as a Chunk. There is nothing to validate at
// construction time — any byte slice is a valid Chunk — so this never
// errors; it exists for symmetry with NewRegister/NewSpentbookQuery and
// to make the content-addressing step explicit at call sites.
func NewChunk(b []byte) Chunk {
	return Chunk{Bytes: b}
}

// Verify reports whether want is the address this Chunk was fetched
// under, catching a replica that returned the wrong bytes for a
// requested address (spec.md §8 property 6: "a Chunk read must verify
// against its requested address before being returned to the caller").
func (c Chunk) Verify(want xorname.XorName) error {
	got := c.Address().Name
	if got != want {
		return clienterrors.New(clienterrors.InvalidResponse, "chunk bytes do not hash to the requested address").
			WithField("requested", want.String()).
			WithField("computed", got.String())
	}
	return nil
}
