package data

import (
	"sort"

	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/clienterrors"
	"github.com/dreamware/saferoute/internal/xorname"
)

// OpID deterministically identifies a RegisterOp: the hash of its
// address, kind, parents, removes, entry, and author, so two clients
// that construct the "same" op independently (same causal position,
// same bytes, same author) agree on its identity without coordination
// (spec.md §3 "Register": "op identity is derived, not assigned").
type OpID = xorname.XorName

// OpKind distinguishes an append from a removal. spec.md §3 defines
// Register as "a conflict-free, signed, append-or-remove set of
// entries"; §4.6 step 4 notes "a shorter log may dominate a longer one
// via a remove op" — a rule that needs a real remove op to be
// representable at all.
type OpKind uint8

const (
	// OpAppend adds Entry to the Register.
	OpAppend OpKind = iota
	// OpRemove tombstones the ops named in Removes. It carries no Entry
	// of its own.
	OpRemove
)

// RegisterOp is one op in a Register's causal history: an append or a
// removal, carrying its causal parents (the op IDs it was applied
// after) and the author's signature over everything but the signature
// itself.
type RegisterOp struct {
	ID        OpID
	Kind      OpKind
	Parents   []OpID
	Removes   []OpID // only set when Kind == OpRemove: the tips being tombstoned
	Entry     []byte
	Author    blskeys.PublicKey
	Signature []byte
}

// deriveOpID computes the deterministic identity of an op from its
// content-addressed fields.
func deriveOpID(address xorname.XorName, kind OpKind, parents, removes []OpID, entry []byte, author blskeys.PublicKey) (OpID, error) {
	sortedParents := append([]OpID(nil), parents...)
	sort.Slice(sortedParents, func(i, j int) bool { return sortedParents[i].Cmp(sortedParents[j]) < 0 })
	sortedRemoves := append([]OpID(nil), removes...)
	sort.Slice(sortedRemoves, func(i, j int) bool { return sortedRemoves[i].Cmp(sortedRemoves[j]) < 0 })

	authorBytes, err := blskeys.EncodePublicKey(author)
	if err != nil {
		return OpID{}, err
	}

	buf := append([]byte(nil), address[:]...)
	buf = append(buf, byte(kind))
	for _, p := range sortedParents {
		buf = append(buf, p[:]...)
	}
	for _, r := range sortedRemoves {
		buf = append(buf, r[:]...)
	}
	buf = append(buf, entry...)
	buf = append(buf, authorBytes...)
	return xorname.FromContent(buf), nil
}

// Register is an op-based CRDT append-or-remove log: every op names the
// tips it was applied after, and concurrent ops from different authors
// form separate, equally-valid branches rather than one overwriting the
// other (spec.md §3 "Register": "concurrent appends are both retained;
// Read returns every entry at a current tip"). A remove op tombstones
// the tip(s) it names without itself contributing an entry, so a
// shorter log can legitimately supersede a longer one (spec.md §4.6
// step 4).
type Register struct {
	address  xorname.XorName
	ops      map[OpID]RegisterOp
	hasChild map[OpID]bool
	removed  map[OpID]bool
}

// NewRegister creates an empty Register at address.
func NewRegister(address xorname.XorName) *Register {
	return &Register{
		address:  address,
		ops:      make(map[OpID]RegisterOp),
		hasChild: make(map[OpID]bool),
		removed:  make(map[OpID]bool),
	}
}

// Address returns the Register's address.
func (r *Register) Address() Address {
	return Address{Kind: KindRegister, Name: r.address}
}

// Tips returns the current causal frontier: every op with no recorded
// child that hasn't itself been tombstoned by a remove op. A fresh
// Register has no tips.
func (r *Register) Tips() []OpID {
	tips := make([]OpID, 0, len(r.ops))
	for id := range r.ops {
		if !r.hasChild[id] && !r.removed[id] {
			tips = append(tips, id)
		}
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].Cmp(tips[j]) < 0 })
	return tips
}

// Append signs and applies a new op whose parents are the Register's
// current tips, then returns it so the caller can send it to elders via
// the Cmd Pipeline (spec.md §4.2 "append").
func (r *Register) Append(entry []byte, author blskeys.Keypair) (RegisterOp, error) {
	parents := r.Tips()
	id, err := deriveOpID(r.address, OpAppend, parents, nil, entry, author.Public)
	if err != nil {
		return RegisterOp{}, clienterrors.Wrap(clienterrors.InvalidResponse, err, "derive register op id")
	}
	sig, err := author.Sign(id[:])
	if err != nil {
		return RegisterOp{}, clienterrors.Wrap(clienterrors.InvalidResponse, err, "sign register op")
	}
	op := RegisterOp{ID: id, Kind: OpAppend, Parents: parents, Entry: entry, Author: author.Public, Signature: sig}
	if err := r.apply(op); err != nil {
		return RegisterOp{}, err
	}
	return op, nil
}

// Remove signs and applies a tombstone op naming targets — normally the
// Register's current tips — as removed, without contributing an entry
// of its own (spec.md §3 "append-or-remove set of entries"). Like
// Append, its causal parents are the Register's current tips, so a
// remove is always placed after everything the caller has seen.
func (r *Register) Remove(targets []OpID, author blskeys.Keypair) (RegisterOp, error) {
	parents := r.Tips()
	id, err := deriveOpID(r.address, OpRemove, parents, targets, nil, author.Public)
	if err != nil {
		return RegisterOp{}, clienterrors.Wrap(clienterrors.InvalidResponse, err, "derive register op id")
	}
	sig, err := author.Sign(id[:])
	if err != nil {
		return RegisterOp{}, clienterrors.Wrap(clienterrors.InvalidResponse, err, "sign register op")
	}
	op := RegisterOp{ID: id, Kind: OpRemove, Parents: parents, Removes: targets, Author: author.Public, Signature: sig}
	if err := r.apply(op); err != nil {
		return RegisterOp{}, err
	}
	return op, nil
}

// Merge folds a remote op into the Register, the operation elders and
// peer clients exchange to converge (spec.md §4.2 "merge"). It is
// idempotent: merging an op already held is a no-op, not an error.
func (r *Register) Merge(op RegisterOp) error {
	if _, ok := r.ops[op.ID]; ok {
		return nil
	}
	wantID, err := deriveOpID(r.address, op.Kind, op.Parents, op.Removes, op.Entry, op.Author)
	if err != nil {
		return clienterrors.Wrap(clienterrors.InvalidResponse, err, "derive register op id during merge")
	}
	if wantID != op.ID {
		return clienterrors.New(clienterrors.InvalidResponse, "register op id does not match its derived content").
			WithField("claimed", op.ID.String()).
			WithField("derived", wantID.String())
	}
	if err := blskeys.Verify(op.Author, op.ID[:], op.Signature); err != nil {
		return clienterrors.Wrap(clienterrors.InvalidResponse, err, "register op signature invalid")
	}
	return r.apply(op)
}

// apply records op, updates which of its parents are no longer tips,
// and — for a remove op — tombstones the ops it names. Out-of-order
// merges (a child or a remove arriving before its target) are
// tolerated: hasChild/removed are keyed by ID regardless of whether
// that op has been seen yet, so a later-arriving op correctly finds
// itself already superseded.
func (r *Register) apply(op RegisterOp) error {
	r.ops[op.ID] = op
	for _, parent := range op.Parents {
		r.hasChild[parent] = true
	}
	for _, target := range op.Removes {
		r.removed[target] = true
	}
	return nil
}

// Read returns the entries at every current tip — possibly more than
// one, when concurrent appends have not yet been reconciled by the
// application (spec.md §3: "Register never resolves concurrent appends
// on the client's behalf"). A remove op that is itself a current tip
// contributes nothing, since it carries no entry.
func (r *Register) Read() [][]byte {
	tips := r.Tips()
	out := make([][]byte, 0, len(tips))
	for _, id := range tips {
		if op := r.ops[id]; op.Kind == OpAppend {
			out = append(out, op.Entry)
		}
	}
	return out
}

// Len returns the total number of ops held, merged or appended.
func (r *Register) Len() int {
	return len(r.ops)
}
