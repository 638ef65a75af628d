// Package xorname implements the 256-bit addressing space the client routes
// over: XorName identifiers, XOR distance, and the Prefix type used to
// partition the address space across sections.
package xorname

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Len is the fixed width, in bytes, of a XorName (256 bits).
const Len = 32

// XorName is a fixed-width opaque identifier. Distance between two names is
// their bitwise XOR, ordered lexicographically on the big-endian byte
// representation (spec.md §3).
type XorName [Len]byte

// FromContent derives the content address for a chunk of bytes: the address
// a reader must present to fetch back exactly this content (spec.md §3,
// "Chunk: immutable opaque bytes"; self-encryption itself is external, but
// the client still needs a deterministic bytes->XorName mapping to verify
// round-trip fetches against, see spec.md §8 property 4 and 6).
func FromContent(b []byte) XorName {
	sum := blake2b.Sum256(b)
	var n XorName
	copy(n[:], sum[:])
	return n
}

// Random returns a uniformly random XorName, used for msg_id-adjacent
// identifiers and test fixtures.
func Random() XorName {
	var n XorName
	// crypto/rand never errors for a fixed-size read into a stack buffer.
	_, _ = rand.Read(n[:])
	return n
}

// String renders the full name as lowercase hex (64 characters).
func (n XorName) String() string {
	return hex.EncodeToString(n[:])
}

// Cmp orders two names lexicographically on their big-endian bytes. It is
// used both for tie-breaking equal distances and for ordering raw names.
func (n XorName) Cmp(other XorName) int {
	return bytes.Compare(n[:], other[:])
}

// Xor returns the bitwise XOR of n and other: their distance as a XorName.
func (n XorName) Xor(other XorName) XorName {
	var out XorName
	for i := range n {
		out[i] = n[i] ^ other[i]
	}
	return out
}

// CloserTo reports whether n is strictly closer to target than other is,
// breaking distance ties lexicographically on the raw name (spec.md §4.4:
// "Ties broken lexicographically on node_id").
func (n XorName) CloserTo(other, target XorName) bool {
	dn := n.Xor(target)
	do := other.Xor(target)
	switch bytes.Compare(dn[:], do[:]) {
	case -1:
		return true
	case 1:
		return false
	default:
		return n.Cmp(other) < 0
	}
}

// SortByDistance orders names by ascending XOR distance to target, breaking
// ties on the name itself. It is the primitive the Request Router uses to
// produce a deterministic elder ordering (spec.md §4.4).
func SortByDistance(names []XorName, target XorName) {
	sort.Slice(names, func(i, j int) bool {
		return names[i].CloserTo(names[j], target)
	})
}
