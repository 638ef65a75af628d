// Package blskeys wraps the threshold-BLS primitives the client needs:
// signing with the client's own keypair, verifying section-key signatures
// along a proof chain, and reconstructing a spent proof from a threshold of
// spent-proof shares (spec.md §3 "Section Key", §4.6 "spentbook reads").
//
// The client never runs DKG and never holds a secret share of a section
// key — that belongs to the node/elder implementation (spec.md §1,
// Out of scope). It only verifies public signatures and, for spentbook
// reads, recovers a threshold BLS signature from shares returned by elders.
package blskeys

import (
	"crypto/rand"
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
)

// suite is the pairing group used throughout the client for BLS
// signatures. It is process-wide: every SectionKey, client keypair, and
// spent-proof share must be interpreted against the same curve.
var suite = bn256.NewSuite()

// PublicKey identifies a signer: a section key, or the client's own public
// key, depending on context (spec.md §3 "Section Key": "a BLS public key
// identifying a section at a point in its history").
type PublicKey = kyber.Point

// PrivateKey is a BLS secret scalar.
type PrivateKey = kyber.Scalar

// Keypair is a BLS identity: the client_keypair or dbc_owner of a Session
// (spec.md §4.8).
type Keypair struct {
	Public  PublicKey
	Private PrivateKey
}

// NewKeypair generates a fresh BLS keypair.
func NewKeypair() Keypair {
	private, public := bls.NewKeyPair(suite, rand.Reader)
	return Keypair{Public: public, Private: private}
}

// Sign produces a BLS signature over msg under k's private key. Used to
// author Cmds and to sign Register ops (spec.md §3 "Register": "each op
// carries the author's signature").
func (k Keypair) Sign(msg []byte) ([]byte, error) {
	return bls.Sign(suite, k.Private, msg)
}

// Verify checks a BLS signature over msg under the given public key. Used
// to validate elder acks, AE proof-chain links, and register op
// signatures.
func Verify(public PublicKey, msg, sig []byte) error {
	if public == nil {
		return errors.New("blskeys: nil public key")
	}
	return bls.Verify(suite, public, msg, sig)
}

// EncodePublicKey renders a public key to its canonical compressed bytes,
// the representation carried in WireMsg headers and persisted Section
// Trees.
func EncodePublicKey(p PublicKey) ([]byte, error) {
	if p == nil {
		return nil, errors.New("blskeys: nil public key")
	}
	return p.MarshalBinary()
}

// DecodePublicKey parses bytes produced by EncodePublicKey.
func DecodePublicKey(b []byte) (PublicKey, error) {
	p := suite.G1().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("blskeys: decode public key: %w", err)
	}
	return p, nil
}

// EqualPublicKeys reports whether two public keys are the same point.
func EqualPublicKeys(a, b PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(b)
}

// SpentProofThreshold returns T, the number of spent-proof shares required
// to reconstruct a spent proof for a section of elderCount elders
// (spec.md §9 Open Questions: "Implementers should define T as a constant
// tied to the elder count E"). SPEC_FULL.md §5 fixes T = E/3 + 1.
func SpentProofThreshold(elderCount int) int {
	return elderCount/3 + 1
}

// SpentProofShare is one elder's partial signature over a spend
// commitment, keyed by the elder's index into the section's public
// polynomial (spec.md §3 "DBC", §4.6 case 5).
type SpentProofShare struct {
	Index     int
	Signature []byte
}

// SignShare produces the partial signature an elder (impersonated only in
// tests — production elders sign with their own share) would return for
// a spend commitment.
func SignShare(priShare *share.PriShare, msg []byte) (SpentProofShare, error) {
	sig, err := tbls.Sign(suite, priShare, msg)
	if err != nil {
		return SpentProofShare{}, fmt.Errorf("blskeys: sign share: %w", err)
	}
	return SpentProofShare{Index: priShare.I, Signature: sig}, nil
}

// RecoverSpentProof reconstructs the section's threshold signature over
// msg from at least T of the shares returned by elders. It returns
// ErrInsufficientShares (distinct from any network-level DataNotFound) when
// fewer than t shares are supplied, matching spec.md §4.6 case 5.
func RecoverSpentProof(public *share.PubPoly, msg []byte, shares []SpentProofShare, t, n int) ([]byte, error) {
	if len(shares) < t {
		return nil, ErrInsufficientShares
	}
	raw := make([][]byte, 0, len(shares))
	for _, s := range shares {
		raw = append(raw, encodeShare(s))
	}
	sig, err := tbls.Recover(suite, public, msg, raw, t, n)
	if err != nil {
		return nil, fmt.Errorf("blskeys: recover spent proof: %w", err)
	}
	return sig, nil
}

// ErrInsufficientShares is returned by RecoverSpentProof when fewer than T
// shares were supplied; callers surface this as
// clienterrors.InsufficientSpentProofShares.
var ErrInsufficientShares = errors.New("blskeys: insufficient spent-proof shares")

// encodeShare reproduces the wire layout tbls.Recover expects: a
// 2-byte big-endian index prefix followed by the raw signature bytes,
// matching kyber's own share-encoding convention.
func encodeShare(s SpentProofShare) []byte {
	out := make([]byte, 2+len(s.Signature))
	out[0] = byte(s.Index >> 8)
	out[1] = byte(s.Index)
	copy(out[2:], s.Signature)
	return out
}
