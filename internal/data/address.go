// Package data implements the three ReplicatedDataAddress kinds the
// client reads and writes: Chunk (immutable, content-addressed bytes),
// Register (an op-based CRDT append log), and Spentbook (DBC spend
// records recovered from a threshold of elder shares) — spec.md §3
// "ReplicatedDataAddress", §4.6 "Query Pipeline" cases 1-5.
package data

import "github.com/dreamware/saferoute/internal/xorname"

// Kind distinguishes the three ReplicatedDataAddress variants.
type Kind uint8

const (
	KindChunk Kind = iota
	KindRegister
	KindSpentbook
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "Chunk"
	case KindRegister:
		return "Register"
	case KindSpentbook:
		return "Spentbook"
	default:
		return "Unknown"
	}
}

// Address identifies a piece of replicated data: its Kind plus the
// XorName it's addressed by (content hash for a Chunk, the register's
// or spentbook's own identifier otherwise).
type Address struct {
	Kind Kind
	Name xorname.XorName
}

func (a Address) String() string {
	return a.Kind.String() + "(" + a.Name.String() + ")"
}
