package sectiontree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/xorname"
)

// signSAP signs the SAP body with signer and returns the SAP with its
// Signature field populated, as an AE-Update sender would.
func signSAP(t *testing.T, signer blskeys.Keypair, sap SAP) SAP {
	t.Helper()
	body, err := EncodeSAPBody(sap.Prefix, sap.SectionKey, sap.Elders)
	require.NoError(t, err)
	sig, err := signer.Sign(body)
	require.NoError(t, err)
	sap.Signature = sig
	return sap
}

// chainFrom builds a single-hop ProofChain rooted at from and terminating
// at to, signed by from.
func chainFrom(t *testing.T, from, to blskeys.Keypair) ProofChain {
	t.Helper()
	toBytes, err := blskeys.EncodePublicKey(to.Public)
	require.NoError(t, err)
	sig, err := from.Sign(toBytes)
	require.NoError(t, err)
	return ProofChain{
		Keys: []blskeys.PublicKey{from.Public, to.Public},
		Sigs: [][]byte{sig},
	}
}

func TestApplyUpdateInsertsFirstSAP(t *testing.T) {
	genesis := blskeys.NewKeypair()
	section := blskeys.NewKeypair()
	tree, err := Genesis(genesis.Public)
	require.NoError(t, err)

	root := xorname.Prefix{}
	sap := signSAP(t, section, SAP{Prefix: root, SectionKey: section.Public})
	chain := chainFrom(t, genesis, section)

	next, result, err := tree.ApplyUpdate(chain, sap)
	require.NoError(t, err)
	assert.Equal(t, Applied, result)

	got, err := next.GetSAPByPrefix(root)
	require.NoError(t, err)
	assert.True(t, blskeys.EqualPublicKeys(got.SectionKey, section.Public))

	// The original snapshot is untouched.
	_, err = tree.GetSAPByPrefix(root)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyUpdateRejectsUntrustedRoot(t *testing.T) {
	genesis := blskeys.NewKeypair()
	rogue := blskeys.NewKeypair()
	section := blskeys.NewKeypair()
	tree, err := Genesis(genesis.Public)
	require.NoError(t, err)

	sap := signSAP(t, section, SAP{Prefix: xorname.Prefix{}, SectionKey: section.Public})
	chain := chainFrom(t, rogue, section)

	_, result, err := tree.ApplyUpdate(chain, sap)
	assert.Error(t, err)
	assert.Equal(t, Rejected, result)
}

func TestApplyUpdateRejectsBadSAPSignature(t *testing.T) {
	genesis := blskeys.NewKeypair()
	section := blskeys.NewKeypair()
	impostor := blskeys.NewKeypair()
	tree, err := Genesis(genesis.Public)
	require.NoError(t, err)

	sap := signSAP(t, impostor, SAP{Prefix: xorname.Prefix{}, SectionKey: section.Public})
	chain := chainFrom(t, genesis, section)

	_, result, err := tree.ApplyUpdate(chain, sap)
	assert.Error(t, err)
	assert.Equal(t, Rejected, result)
}

func TestApplyUpdateSplitEvictsParent(t *testing.T) {
	genesis := blskeys.NewKeypair()
	root := blskeys.NewKeypair()
	tree, err := Genesis(genesis.Public)
	require.NoError(t, err)

	rootSAP := signSAP(t, root, SAP{Prefix: xorname.Prefix{}, SectionKey: root.Public})
	tree, _, err = tree.ApplyUpdate(chainFrom(t, genesis, root), rootSAP)
	require.NoError(t, err)

	left := blskeys.NewKeypair()
	leftPrefix := xorname.NewPrefix(xorname.XorName{}, 1) // the "0" branch
	leftSAP := signSAP(t, left, SAP{Prefix: leftPrefix, SectionKey: left.Public})

	next, result, err := tree.ApplyUpdate(chainFrom(t, root, left), leftSAP)
	require.NoError(t, err)
	assert.Equal(t, Applied, result)

	_, err = next.GetSAPByPrefix(xorname.Prefix{})
	assert.ErrorIs(t, err, ErrNotFound, "the coarser parent prefix must be evicted by the split")

	got, err := next.GetSAPByPrefix(leftPrefix)
	require.NoError(t, err)
	assert.True(t, blskeys.EqualPublicKeys(got.SectionKey, left.Public))
}

func TestApplyUpdateMergeEvictsBothSiblings(t *testing.T) {
	genesis := blskeys.NewKeypair()
	left := blskeys.NewKeypair()
	right := blskeys.NewKeypair()
	merged := blskeys.NewKeypair()

	tree, err := Genesis(genesis.Public)
	require.NoError(t, err)

	var allOnes xorname.XorName
	for i := range allOnes {
		allOnes[i] = 0xFF
	}
	leftPrefix := xorname.NewPrefix(xorname.XorName{}, 1)
	rightPrefix := xorname.NewPrefix(allOnes, 1)

	leftSAP := signSAP(t, left, SAP{Prefix: leftPrefix, SectionKey: left.Public})
	tree, _, err = tree.ApplyUpdate(chainFrom(t, genesis, left), leftSAP)
	require.NoError(t, err)

	rightSAP := signSAP(t, right, SAP{Prefix: rightPrefix, SectionKey: right.Public})
	tree, _, err = tree.ApplyUpdate(chainFrom(t, genesis, right), rightSAP)
	require.NoError(t, err)

	mergedSAP := signSAP(t, merged, SAP{Prefix: xorname.Prefix{}, SectionKey: merged.Public})
	next, result, err := tree.ApplyUpdate(chainFrom(t, left, merged), mergedSAP)
	require.NoError(t, err)
	assert.Equal(t, Applied, result)

	_, err = next.GetSAPByPrefix(leftPrefix)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = next.GetSAPByPrefix(rightPrefix)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := next.GetSAPByPrefix(xorname.Prefix{})
	require.NoError(t, err)
	assert.True(t, blskeys.EqualPublicKeys(got.SectionKey, merged.Public))
}

func TestApplyUpdateIsIdempotentForAlreadyKnownSAP(t *testing.T) {
	genesis := blskeys.NewKeypair()
	section := blskeys.NewKeypair()
	tree, err := Genesis(genesis.Public)
	require.NoError(t, err)

	sap := signSAP(t, section, SAP{Prefix: xorname.Prefix{}, SectionKey: section.Public})
	chain := chainFrom(t, genesis, section)

	tree, result, err := tree.ApplyUpdate(chain, sap)
	require.NoError(t, err)
	require.Equal(t, Applied, result)

	_, result, err = tree.ApplyUpdate(chain, sap)
	require.NoError(t, err)
	assert.Equal(t, AlreadyKnown, result)
}

func TestGetSAPReturnsTheMostSpecificMatch(t *testing.T) {
	genesis := blskeys.NewKeypair()
	root := blskeys.NewKeypair()
	left := blskeys.NewKeypair()
	tree, err := Genesis(genesis.Public)
	require.NoError(t, err)

	rootSAP := signSAP(t, root, SAP{Prefix: xorname.Prefix{}, SectionKey: root.Public})
	tree, _, err = tree.ApplyUpdate(chainFrom(t, genesis, root), rootSAP)
	require.NoError(t, err)

	leftPrefix := xorname.NewPrefix(xorname.XorName{}, 1)
	leftSAP := signSAP(t, left, SAP{Prefix: leftPrefix, SectionKey: left.Public})
	tree, _, err = tree.ApplyUpdate(chainFrom(t, root, left), leftSAP)
	require.NoError(t, err)

	got, err := tree.GetSAP(xorname.XorName{})
	require.NoError(t, err)
	assert.True(t, blskeys.EqualPublicKeys(got.SectionKey, left.Public))
}

func TestClosestKeysOrdersBySAPProximity(t *testing.T) {
	genesis := blskeys.NewKeypair()
	left := blskeys.NewKeypair()
	right := blskeys.NewKeypair()
	tree, err := Genesis(genesis.Public)
	require.NoError(t, err)

	var allOnes xorname.XorName
	for i := range allOnes {
		allOnes[i] = 0xFF
	}
	leftPrefix := xorname.NewPrefix(xorname.XorName{}, 1)
	rightPrefix := xorname.NewPrefix(allOnes, 1)

	leftSAP := signSAP(t, left, SAP{Prefix: leftPrefix, SectionKey: left.Public})
	tree, _, err = tree.ApplyUpdate(chainFrom(t, genesis, left), leftSAP)
	require.NoError(t, err)

	rightSAP := signSAP(t, right, SAP{Prefix: rightPrefix, SectionKey: right.Public})
	tree, _, err = tree.ApplyUpdate(chainFrom(t, genesis, right), rightSAP)
	require.NoError(t, err)

	keys := tree.ClosestKeys(xorname.XorName{}, 1)
	require.Len(t, keys, 1)
	assert.True(t, blskeys.EqualPublicKeys(keys[0], left.Public))
}
