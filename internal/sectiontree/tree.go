// Package sectiontree implements the client's verifiable view of the
// network: a partition of XorName prefixes to current Section Authority
// Providers, plus the signed DAG of section keys each SAP is reachable
// from (spec.md §3 "Section Tree", §4.1).
//
// The tree is copy-on-write: ApplyUpdate returns a brand-new *Tree, which
// networkknowledge.Cache publishes under an atomic pointer (spec.md §5 "a
// copy-on-write snapshot under an atomic pointer"), so readers holding an
// old *Tree never observe a torn
// update. The shape is adapted from the teacher's ShardRegistry (a
// read-mostly map behind an RWMutex) generalized to hold a whole
// replaceable snapshot rather than mutating one map in place, since
// Section Tree updates must replace several entries atomically (a split
// or merge touches more than one prefix at once).
package sectiontree

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/xorname"
)

// Elder is one member of a SAP's elder set (spec.md §3 "SAP").
type Elder struct {
	NodeID  xorname.XorName
	Address string
	Age     uint8
}

// SAP (Section Authority Provider) describes a section at a point in its
// history: prefix, section key, and elders, signed by the section's
// previous key or by a threshold of the current elders (spec.md §3).
type SAP struct {
	Prefix     xorname.Prefix
	SectionKey blskeys.PublicKey
	Elders     []Elder
	// Signature is produced over EncodeSAPBody(Prefix, SectionKey, Elders)
	// by the last key of the proof chain presented in the ApplyUpdate call
	// that introduced this SAP.
	Signature []byte
}

// EncodeSAPBody returns the canonical bytes a SAP's Signature is computed
// over: everything except the signature itself, so a verifier can
// reproduce exactly what the signer signed.
func EncodeSAPBody(prefix xorname.Prefix, sectionKey blskeys.PublicKey, elders []Elder) ([]byte, error) {
	keyBytes, err := blskeys.EncodePublicKey(sectionKey)
	if err != nil {
		return nil, err
	}
	out := append([]byte(prefix.String()), keyBytes...)
	for _, e := range elders {
		out = append(out, e.NodeID[:]...)
		out = append(out, e.Address...)
		out = append(out, e.Age)
	}
	return out, nil
}

// ProofChain is a sequence of section keys where Keys[0] must already be
// trusted by the tree and each Sigs[i] is Keys[i]'s signature over
// Keys[i+1]'s encoded bytes (spec.md §4.1 step 1-3).
type ProofChain struct {
	Keys []blskeys.PublicKey
	Sigs [][]byte // len(Sigs) == len(Keys)-1
}

// LastKey returns the chain's terminal key, the one that must have signed
// the SAP being applied.
func (c ProofChain) LastKey() blskeys.PublicKey {
	if len(c.Keys) == 0 {
		return nil
	}
	return c.Keys[len(c.Keys)-1]
}

// UpdateResult is the outcome of ApplyUpdate (spec.md §4.1).
type UpdateResult int

const (
	// Applied: the update was verified and the tree now reflects it.
	Applied UpdateResult = iota
	// AlreadyKnown: a SAP with the same prefix and section key is already held.
	AlreadyKnown
	// Rejected: verification or the partition invariant failed.
	Rejected
)

func (r UpdateResult) String() string {
	switch r {
	case Applied:
		return "Applied"
	case AlreadyKnown:
		return "AlreadyKnown"
	default:
		return "Rejected"
	}
}

// ErrNotFound is returned by GetSAPByPrefix when no entry matches exactly.
var ErrNotFound = errors.New("sectiontree: no SAP for that prefix")

// Tree is an immutable snapshot: a partition of prefixes to SAPs plus the
// set of section keys trusted so far. Callers obtain one from Cache.Read
// (networkknowledge package) or directly from Genesis/FromSnapshot.
type Tree struct {
	genesis xorname.XorName // placeholder identity of the genesis key's owner, for logging only
	entries map[string]SAP // keyed by Prefix.String()
	trusted map[string]bool // keyed by encoded public key bytes
}

// Genesis returns a tree containing only the genesis key, trusted but with
// no SAP entries yet (spec.md §3 "Section Tree is created empty with only
// the genesis key").
func Genesis(genesisKey blskeys.PublicKey) (*Tree, error) {
	keyBytes, err := blskeys.EncodePublicKey(genesisKey)
	if err != nil {
		return nil, fmt.Errorf("sectiontree: encode genesis key: %w", err)
	}
	return &Tree{
		entries: make(map[string]SAP),
		trusted: map[string]bool{string(keyBytes): true},
	}, nil
}

// clone returns a shallow copy of t's maps, the basis for every
// copy-on-write mutation in ApplyUpdate.
func (t *Tree) clone() *Tree {
	entries := make(map[string]SAP, len(t.entries)+2)
	for k, v := range t.entries {
		entries[k] = v
	}
	trusted := make(map[string]bool, len(t.trusted)+4)
	for k, v := range t.trusted {
		trusted[k] = v
	}
	return &Tree{genesis: t.genesis, entries: entries, trusted: trusted}
}

// GetSAPByPrefix returns the SAP currently held for an exact prefix match,
// or ErrNotFound.
func (t *Tree) GetSAPByPrefix(p xorname.Prefix) (SAP, error) {
	sap, ok := t.entries[p.String()]
	if !ok {
		return SAP{}, ErrNotFound
	}
	return sap, nil
}

// GetSAP returns the unique SAP whose prefix matches name (spec.md §4.1
// "get_sap"). Per the partition invariant this always succeeds once the
// tree holds any SAP covering name's region; it returns ErrNotFound only
// while the tree still holds nothing but genesis.
func (t *Tree) GetSAP(name xorname.XorName) (SAP, error) {
	var best *SAP
	for _, sap := range t.entries {
		if !sap.Prefix.Matches(name) {
			continue
		}
		if best == nil || sap.Prefix.BitLen() > best.Prefix.BitLen() {
			s := sap
			best = &s
		}
	}
	if best == nil {
		return SAP{}, ErrNotFound
	}
	return *best, nil
}

// AllSAPs returns every current entry, in no particular order. Used by
// administrative tooling and by tests asserting partition invariants.
func (t *Tree) AllSAPs() []SAP {
	out := make([]SAP, 0, len(t.entries))
	for _, sap := range t.entries {
		out = append(out, sap)
	}
	return out
}

// IsTrusted reports whether a key is already part of the tree's trusted
// set (genesis, or reached by a previously-applied proof chain).
func (t *Tree) IsTrusted(key blskeys.PublicKey) bool {
	b, err := blskeys.EncodePublicKey(key)
	if err != nil {
		return false
	}
	return t.trusted[string(b)]
}

// ClosestKeys returns up to k trusted section keys ordered by XOR distance
// of their owning SAP's prefix-anchor to name (spec.md §4.1
// "closest_keys"). Keys belonging to SAPs closer to name sort first;
// remaining trusted keys with no live SAP (e.g. keys superseded by a
// split or merge) are appended in no particular order, which can differ
// between calls.
func (t *Tree) ClosestKeys(name xorname.XorName, k int) []blskeys.PublicKey {
	type candidate struct {
		anchor xorname.XorName
		key    blskeys.PublicKey
	}
	seen := make(map[string]bool, len(t.trusted))
	candidates := make([]candidate, 0, len(t.entries))
	for _, sap := range t.entries {
		b, err := blskeys.EncodePublicKey(sap.SectionKey)
		if err != nil {
			continue
		}
		seen[string(b)] = true
		candidates = append(candidates, candidate{anchor: sap.Prefix.Name(), key: sap.SectionKey})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].anchor.CloserTo(candidates[j].anchor, name)
	})

	out := make([]blskeys.PublicKey, 0, k)
	for _, c := range candidates {
		if len(out) >= k {
			break
		}
		out = append(out, c.key)
	}
	if len(out) >= k {
		return out
	}
	for encoded := range t.trusted {
		if seen[encoded] {
			continue
		}
		key, err := blskeys.DecodePublicKey([]byte(encoded))
		if err != nil {
			continue
		}
		out = append(out, key)
		if len(out) >= k {
			break
		}
	}
	return out
}

// ApplyUpdate verifies and, if valid, applies an AE-Update's proof chain
// and new SAP, returning a fresh *Tree reflecting the change (spec.md
// §4.1 "apply_update", the 5-step algorithm):
//
//  1. every link of the proof chain is internally consistent: Keys[i]
//     signs Keys[i+1];
//  2. Keys[0] is already trusted;
//  3. newSAP is signed by the chain's last key;
//  4. the resulting prefix set is computed, handling the split and merge
//     cases so the partition invariant is preserved;
//  5. the result (including the newly-trusted keys) is published as one
//     atomic snapshot — t itself is never mutated, so any caller still
//     holding it keeps observing the pre-update view.
func (t *Tree) ApplyUpdate(chain ProofChain, newSAP SAP) (*Tree, UpdateResult, error) {
	if len(chain.Keys) == 0 {
		return t, Rejected, errors.New("sectiontree: empty proof chain")
	}
	if len(chain.Sigs) != len(chain.Keys)-1 {
		return t, Rejected, fmt.Errorf("sectiontree: proof chain has %d keys but %d signatures", len(chain.Keys), len(chain.Sigs))
	}

	// Step 1: internal consistency of the chain.
	for i := 0; i < len(chain.Sigs); i++ {
		keyBytes, err := blskeys.EncodePublicKey(chain.Keys[i+1])
		if err != nil {
			return t, Rejected, fmt.Errorf("sectiontree: encode chain key %d: %w", i+1, err)
		}
		if err := blskeys.Verify(chain.Keys[i], keyBytes, chain.Sigs[i]); err != nil {
			return t, Rejected, fmt.Errorf("sectiontree: proof chain link %d->%d: %w", i, i+1, err)
		}
	}

	// Step 2: the chain must root in a key we already trust.
	if !t.IsTrusted(chain.Keys[0]) {
		return t, Rejected, fmt.Errorf("sectiontree: proof chain root key is not trusted")
	}

	// Step 3: the new SAP must be signed by the chain's terminal key.
	body, err := EncodeSAPBody(newSAP.Prefix, newSAP.SectionKey, newSAP.Elders)
	if err != nil {
		return t, Rejected, fmt.Errorf("sectiontree: encode new SAP body: %w", err)
	}
	if err := blskeys.Verify(chain.LastKey(), body, newSAP.Signature); err != nil {
		return t, Rejected, fmt.Errorf("sectiontree: new SAP not signed by chain's last key: %w", err)
	}

	if existing, err := t.GetSAPByPrefix(newSAP.Prefix); err == nil && blskeys.EqualPublicKeys(existing.SectionKey, newSAP.SectionKey) {
		return t, AlreadyKnown, nil
	}

	// Step 4: compute the resulting partition.
	next := t.clone()
	for _, k := range chain.Keys {
		b, err := blskeys.EncodePublicKey(k)
		if err != nil {
			continue
		}
		next.trusted[string(b)] = true
	}

	if err := next.resolvePartition(newSAP); err != nil {
		return t, Rejected, err
	}

	// Step 5: publish. next is a fresh value; the caller swaps it into the
	// atomic pointer that backs networkknowledge.Cache, so t is untouched.
	return next, Applied, nil
}

// resolvePartition inserts newSAP into the tree's entries in place,
// evicting whatever entries the prefix invariant requires: an exact
// ancestor (split), the two sibling children (merge), or nothing at all
// when the tree doesn't yet hold any overlapping entry.
func (t *Tree) resolvePartition(newSAP SAP) error {
	p := newSAP.Prefix

	if _, ok := t.entries[p.String()]; ok {
		// Same prefix, new section key: a churn update, not a split or merge.
		t.entries[p.String()] = newSAP
		return nil
	}

	var ancestor *SAP
	descendants := make([]SAP, 0, 2)
	for key, e := range t.entries {
		switch {
		case p.IsExtensionOf(e.Prefix):
			a := t.entries[key]
			if ancestor != nil {
				return fmt.Errorf("sectiontree: multiple ancestors cover prefix %s, partition already invalid", p)
			}
			ancestor = &a
		case e.Prefix.IsExtensionOf(p):
			descendants = append(descendants, e)
		}
	}

	switch {
	case ancestor != nil && len(descendants) == 0:
		// Split: the new, finer SAP replaces a single coarser ancestor.
		// Sibling splits of the same ancestor arrive in later, independent
		// ApplyUpdate calls, so the tree is briefly incomplete — acceptable
		// per spec.md §3 invariant 1 ("valid partition over the live part
		// of the address space").
		delete(t.entries, ancestor.Prefix.String())
		t.entries[p.String()] = newSAP
		return nil

	case ancestor == nil && len(descendants) > 0:
		// Merge: the new, coarser SAP must exactly replace both direct
		// children, never a partial or deeper set.
		if len(descendants) != 2 {
			return fmt.Errorf("sectiontree: merge into %s expects exactly 2 children, found %d", p, len(descendants))
		}
		for _, d := range descendants {
			if d.Prefix.BitLen() != p.BitLen()+1 {
				return fmt.Errorf("sectiontree: merge into %s found non-direct child %s", p, d.Prefix)
			}
		}
		if !descendants[0].Prefix.IsSiblingOf(descendants[1].Prefix) {
			return fmt.Errorf("sectiontree: merge into %s found non-sibling children", p)
		}
		delete(t.entries, descendants[0].Prefix.String())
		delete(t.entries, descendants[1].Prefix.String())
		t.entries[p.String()] = newSAP
		return nil

	case ancestor == nil && len(descendants) == 0:
		// Disjoint from everything held so far: a brand-new region, e.g.
		// the first SAP ever learned after Genesis.
		t.entries[p.String()] = newSAP
		return nil

	default:
		return fmt.Errorf("sectiontree: prefix %s overlaps both an ancestor and descendants, partition invariant broken", p)
	}
}
