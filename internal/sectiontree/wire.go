package sectiontree

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/xorname"
)

// sapToDTO and dtoToSAP convert between the live SAP type and its CBOR
// wire shape; factored out of ToSnapshot/FromSnapshot so AE-Update's
// single-SAP payload (internal/antientropy) can reuse the same codec
// without going through a whole Tree.
func sapToDTO(sap SAP) (sapDTO, error) {
	keyBytes, err := blskeys.EncodePublicKey(sap.SectionKey)
	if err != nil {
		return sapDTO{}, fmt.Errorf("sectiontree: encode section key: %w", err)
	}
	dto := sapDTO{
		PrefixBits: sap.Prefix.BitLen(),
		SectionKey: keyBytes,
		Signature:  sap.Signature,
	}
	name := sap.Prefix.Name()
	dto.PrefixBytes = append([]byte(nil), name[:]...)
	for _, e := range sap.Elders {
		dto.Elders = append(dto.Elders, elderDTO{
			NodeID:  append([]byte(nil), e.NodeID[:]...),
			Address: e.Address,
			Age:     e.Age,
		})
	}
	return dto, nil
}

func dtoToSAP(dto sapDTO) (SAP, error) {
	key, err := blskeys.DecodePublicKey(dto.SectionKey)
	if err != nil {
		return SAP{}, fmt.Errorf("sectiontree: decode section key: %w", err)
	}
	var name xorname.XorName
	copy(name[:], dto.PrefixBytes)
	prefix := xorname.NewPrefix(name, dto.PrefixBits)

	elders := make([]Elder, 0, len(dto.Elders))
	for _, e := range dto.Elders {
		var nodeID xorname.XorName
		copy(nodeID[:], e.NodeID)
		elders = append(elders, Elder{NodeID: nodeID, Address: e.Address, Age: e.Age})
	}
	return SAP{Prefix: prefix, SectionKey: key, Elders: elders, Signature: dto.Signature}, nil
}

// EncodeSAP renders a single SAP as CBOR, the payload shape of
// an AE-Update message (spec.md §4.5).
func EncodeSAP(sap SAP) ([]byte, error) {
	dto, err := sapToDTO(sap)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(dto)
}

// DecodeSAP parses bytes produced by EncodeSAP.
func DecodeSAP(b []byte) (SAP, error) {
	var dto sapDTO
	if err := cbor.Unmarshal(b, &dto); err != nil {
		return SAP{}, fmt.Errorf("sectiontree: decode SAP: %w", err)
	}
	return dtoToSAP(dto)
}

// chainLinkDTO is one (key, incoming signature) pair in a ProofChain's
// wire form.
type chainLinkDTO struct {
	Key []byte `cbor:"key"`
	Sig []byte `cbor:"sig,omitempty"`
}

// EncodeProofChain renders a ProofChain as CBOR.
func EncodeProofChain(chain ProofChain) ([]byte, error) {
	dtos := make([]chainLinkDTO, 0, len(chain.Keys))
	for i, k := range chain.Keys {
		kb, err := blskeys.EncodePublicKey(k)
		if err != nil {
			return nil, fmt.Errorf("sectiontree: encode chain key %d: %w", i, err)
		}
		link := chainLinkDTO{Key: kb}
		if i > 0 {
			link.Sig = chain.Sigs[i-1]
		}
		dtos = append(dtos, link)
	}
	return cbor.Marshal(dtos)
}

// DecodeProofChain parses bytes produced by EncodeProofChain.
func DecodeProofChain(b []byte) (ProofChain, error) {
	var dtos []chainLinkDTO
	if err := cbor.Unmarshal(b, &dtos); err != nil {
		return ProofChain{}, fmt.Errorf("sectiontree: decode proof chain: %w", err)
	}
	chain := ProofChain{Keys: make([]blskeys.PublicKey, 0, len(dtos)), Sigs: make([][]byte, 0, len(dtos))}
	for i, link := range dtos {
		key, err := blskeys.DecodePublicKey(link.Key)
		if err != nil {
			return ProofChain{}, fmt.Errorf("sectiontree: decode chain key %d: %w", i, err)
		}
		chain.Keys = append(chain.Keys, key)
		if i > 0 {
			chain.Sigs = append(chain.Sigs, link.Sig)
		}
	}
	return chain, nil
}
