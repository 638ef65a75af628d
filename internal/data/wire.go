package data

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/dreamware/saferoute/internal/blskeys"
)

// opDTO is the CBOR wire shape of a RegisterOp: blskeys.PublicKey is an
// interface (a kyber.Point), so it goes over the wire as its encoded
// bytes rather than tagged directly.
type opDTO struct {
	ID        []byte   `cbor:"id"`
	Kind      uint8    `cbor:"kind"`
	Parents   [][]byte `cbor:"parents"`
	Removes   [][]byte `cbor:"removes,omitempty"`
	Entry     []byte   `cbor:"entry"`
	Author    []byte   `cbor:"author"`
	Signature []byte   `cbor:"signature"`
}

func opToDTO(op RegisterOp) (opDTO, error) {
	authorBytes, err := blskeys.EncodePublicKey(op.Author)
	if err != nil {
		return opDTO{}, fmt.Errorf("data: encode register op author: %w", err)
	}
	dto := opDTO{
		ID:        append([]byte(nil), op.ID[:]...),
		Kind:      uint8(op.Kind),
		Entry:     op.Entry,
		Author:    authorBytes,
		Signature: op.Signature,
	}
	for _, parent := range op.Parents {
		dto.Parents = append(dto.Parents, append([]byte(nil), parent[:]...))
	}
	for _, target := range op.Removes {
		dto.Removes = append(dto.Removes, append([]byte(nil), target[:]...))
	}
	return dto, nil
}

func dtoToOp(dto opDTO) (RegisterOp, error) {
	author, err := blskeys.DecodePublicKey(dto.Author)
	if err != nil {
		return RegisterOp{}, fmt.Errorf("data: decode register op author: %w", err)
	}
	var id OpID
	copy(id[:], dto.ID)
	parents := make([]OpID, 0, len(dto.Parents))
	for _, raw := range dto.Parents {
		var p OpID
		copy(p[:], raw)
		parents = append(parents, p)
	}
	removes := make([]OpID, 0, len(dto.Removes))
	for _, raw := range dto.Removes {
		var target OpID
		copy(target[:], raw)
		removes = append(removes, target)
	}
	return RegisterOp{
		ID:        id,
		Kind:      OpKind(dto.Kind),
		Parents:   parents,
		Removes:   removes,
		Entry:     dto.Entry,
		Author:    author,
		Signature: dto.Signature,
	}, nil
}

// EncodeOps renders a batch of RegisterOps as CBOR, the
// payload shape of a register QueryResponse (spec.md §4.6 case 2).
func EncodeOps(ops []RegisterOp) ([]byte, error) {
	dtos := make([]opDTO, 0, len(ops))
	for _, op := range ops {
		dto, err := opToDTO(op)
		if err != nil {
			return nil, err
		}
		dtos = append(dtos, dto)
	}
	return cbor.Marshal(dtos)
}

// DecodeOps parses bytes produced by EncodeOps.
func DecodeOps(b []byte) ([]RegisterOp, error) {
	var dtos []opDTO
	if err := cbor.Unmarshal(b, &dtos); err != nil {
		return nil, fmt.Errorf("data: decode register ops: %w", err)
	}
	ops := make([]RegisterOp, 0, len(dtos))
	for _, dto := range dtos {
		op, err := dtoToOp(dto)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// shareDTO is the CBOR wire shape of a blskeys.SpentProofShare.
type shareDTO struct {
	Index     int    `cbor:"index"`
	Signature []byte `cbor:"signature"`
}

// EncodeSpentProofShares renders elder-returned shares as
// CBOR, the payload shape of a spentbook QueryResponse (spec.md §4.6
// case 5).
func EncodeSpentProofShares(shares []blskeys.SpentProofShare) ([]byte, error) {
	dtos := make([]shareDTO, 0, len(shares))
	for _, s := range shares {
		dtos = append(dtos, shareDTO{Index: s.Index, Signature: s.Signature})
	}
	return cbor.Marshal(dtos)
}

// DecodeSpentProofShares parses bytes produced by EncodeSpentProofShares.
func DecodeSpentProofShares(b []byte) ([]blskeys.SpentProofShare, error) {
	var dtos []shareDTO
	if err := cbor.Unmarshal(b, &dtos); err != nil {
		return nil, fmt.Errorf("data: decode spent proof shares: %w", err)
	}
	shares := make([]blskeys.SpentProofShare, 0, len(dtos))
	for _, dto := range dtos {
		shares = append(shares, blskeys.SpentProofShare{Index: dto.Index, Signature: dto.Signature})
	}
	return shares, nil
}
