package sectiontree

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// elderDTO is the CBOR wire shape of an Elder: xorname.XorName and
// blskeys.PublicKey aren't themselves CBOR-friendly (a fixed array and an
// interface respectively), so persistence goes through this DTO instead
// of tagging the live types directly.
type elderDTO struct {
	NodeID  []byte `cbor:"node_id"`
	Address string `cbor:"address"`
	Age     uint8  `cbor:"age"`
}

type sapDTO struct {
	PrefixBits  int        `cbor:"prefix_bits"`
	PrefixBytes []byte     `cbor:"prefix_bytes"`
	SectionKey  []byte     `cbor:"section_key"`
	Elders      []elderDTO `cbor:"elders"`
	Signature   []byte     `cbor:"signature"`
}

// Snapshot is the serializable form of a Tree, written to
// network_contacts_path by the networkknowledge cache (spec.md §5) and
// read back on Session Bootstrap so the client doesn't have to start
// from nothing but the genesis key on every restart.
type Snapshot struct {
	Entries []sapDTO `cbor:"entries"`
	Trusted [][]byte `cbor:"trusted"`
}

// Marshal encodes the snapshot as CBOR.
func (s Snapshot) Marshal() ([]byte, error) {
	return cbor.Marshal(s)
}

// UnmarshalSnapshot decodes bytes produced by Snapshot.Marshal.
func UnmarshalSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("sectiontree: decode snapshot: %w", err)
	}
	return s, nil
}

// ToSnapshot renders t into its serializable form.
func (t *Tree) ToSnapshot() (Snapshot, error) {
	out := Snapshot{
		Entries: make([]sapDTO, 0, len(t.entries)),
		Trusted: make([][]byte, 0, len(t.trusted)),
	}
	for _, sap := range t.entries {
		dto, err := sapToDTO(sap)
		if err != nil {
			return Snapshot{}, fmt.Errorf("sectiontree: encode SAP for %s: %w", sap.Prefix, err)
		}
		out.Entries = append(out.Entries, dto)
	}
	for encoded := range t.trusted {
		out.Trusted = append(out.Trusted, []byte(encoded))
	}
	return out, nil
}

// FromSnapshot rebuilds a Tree from a previously-persisted Snapshot. The
// genesis key is re-derived from the trusted set rather than required as
// a separate argument, since every key that was ever trusted (including
// genesis) is already recorded there.
func FromSnapshot(s Snapshot) (*Tree, error) {
	t := &Tree{
		entries: make(map[string]SAP, len(s.Entries)),
		trusted: make(map[string]bool, len(s.Trusted)),
	}
	for _, encoded := range s.Trusted {
		t.trusted[string(encoded)] = true
	}
	for _, dto := range s.Entries {
		sap, err := dtoToSAP(dto)
		if err != nil {
			return nil, err
		}
		t.entries[sap.Prefix.String()] = sap
	}
	return t, nil
}
