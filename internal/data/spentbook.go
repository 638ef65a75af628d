package data

import (
	"errors"

	"go.dedis.ch/kyber/v3/share"

	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/clienterrors"
	"github.com/dreamware/saferoute/internal/xorname"
)

// DBC is an opaque, serialized Digital Bearer Certificate. The client
// never interprets its internal structure — only elders and the DBC
// owner's wallet logic do — it just carries the bytes and the address
// they spend against (spec.md §3 "DBC: opaque bytes, client does not
// parse the token format").
type DBC []byte

// SpentProof is the reconstructed threshold signature proving a DBC's
// input has been recorded as spent, recovered from T-of-N elder shares
// (spec.md §4.6 case 5 "spentbook reads").
type SpentProof struct {
	Address   xorname.XorName
	Signature []byte
}

// RecoverSpentProof reconstructs a SpentProof for address from shares
// returned by elders, surfacing an insufficient-shares condition as
// clienterrors.InsufficientSpentProofShares rather than a bare transport
// error (spec.md §7 taxonomy).
func RecoverSpentProof(address xorname.XorName, msg []byte, public *share.PubPoly, shares []blskeys.SpentProofShare, t, n int) (SpentProof, error) {
	sig, err := blskeys.RecoverSpentProof(public, msg, shares, t, n)
	if err != nil {
		if errors.Is(err, blskeys.ErrInsufficientShares) {
			return SpentProof{}, clienterrors.Wrap(clienterrors.InsufficientSpentProofShares, err, "not enough spent-proof shares to recover proof").
				WithField("address", address.String()).
				WithField("have", len(shares)).
				WithField("need", t)
		}
		return SpentProof{}, clienterrors.Wrap(clienterrors.InvalidResponse, err, "recover spent proof").
			WithField("address", address.String())
	}
	return SpentProof{Address: address, Signature: sig}, nil
}
