package antientropy

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/networkknowledge"
	"github.com/dreamware/saferoute/internal/sectiontree"
	"github.com/dreamware/saferoute/internal/wire"
	"github.com/dreamware/saferoute/internal/xorname"
)

func signSAP(t *testing.T, signer blskeys.Keypair, sap sectiontree.SAP) sectiontree.SAP {
	t.Helper()
	body, err := sectiontree.EncodeSAPBody(sap.Prefix, sap.SectionKey, sap.Elders)
	require.NoError(t, err)
	sig, err := signer.Sign(body)
	require.NoError(t, err)
	sap.Signature = sig
	return sap
}

func chainFrom(t *testing.T, from, to blskeys.Keypair) sectiontree.ProofChain {
	t.Helper()
	toBytes, err := blskeys.EncodePublicKey(to.Public)
	require.NoError(t, err)
	sig, err := from.Sign(toBytes)
	require.NoError(t, err)
	return sectiontree.ProofChain{Keys: []blskeys.PublicKey{from.Public, to.Public}, Sigs: [][]byte{sig}}
}

func originalMsg() wire.Msg {
	return wire.Msg{
		Header: wire.Header{
			Version: wire.Version,
			Kind:    wire.KindQuery,
			MsgID:   xorname.Random(),
			Dst:     xorname.Random(),
		},
		Payload: []byte("query-bytes"),
	}
}

func TestResolveAERetryResendsUnchanged(t *testing.T) {
	genesis := blskeys.NewKeypair()
	cache, err := networkknowledge.New(genesis.Public)
	require.NoError(t, err)
	h := New(cache)

	original := originalMsg()
	bounce := wire.Msg{Header: wire.Header{Kind: wire.KindAERetry}}

	resent, retry, err := h.Resolve(original, bounce)
	require.NoError(t, err)
	assert.True(t, retry)
	assert.Equal(t, original, resent)
}

func TestResolveAERedirectRewritesDst(t *testing.T) {
	genesis := blskeys.NewKeypair()
	cache, err := networkknowledge.New(genesis.Public)
	require.NoError(t, err)
	h := New(cache)

	newDst := xorname.Random()
	payload, err := cbor.Marshal(redirectPayload{NewDst: newDst[:]})
	require.NoError(t, err)

	original := originalMsg()
	bounce := wire.Msg{Header: wire.Header{Kind: wire.KindAERedirect}, Payload: payload}

	resent, retry, err := h.Resolve(original, bounce)
	require.NoError(t, err)
	assert.True(t, retry)
	assert.Equal(t, newDst, resent.Header.Dst)
	assert.Equal(t, original.Header.MsgID, resent.Header.MsgID)
}

func TestResolveAEUpdateAppliesSAPAndResendsOriginal(t *testing.T) {
	genesis := blskeys.NewKeypair()
	section := blskeys.NewKeypair()
	cache, err := networkknowledge.New(genesis.Public)
	require.NoError(t, err)
	h := New(cache)

	sap := signSAP(t, section, sectiontree.SAP{Prefix: xorname.Prefix{}, SectionKey: section.Public})
	chain := chainFrom(t, genesis, section)

	chainBytes, err := sectiontree.EncodeProofChain(chain)
	require.NoError(t, err)
	sapBytes, err := sectiontree.EncodeSAP(sap)
	require.NoError(t, err)
	payload, err := cbor.Marshal(updatePayload{Chain: chainBytes, SAP: sapBytes})
	require.NoError(t, err)

	original := originalMsg()
	bounce := wire.Msg{Header: wire.Header{Kind: wire.KindAEUpdate}, Payload: payload}

	resent, retry, err := h.Resolve(original, bounce)
	require.NoError(t, err)
	assert.True(t, retry)
	assert.Equal(t, original, resent)

	got, err := cache.Read().GetSAPByPrefix(xorname.Prefix{})
	require.NoError(t, err)
	assert.True(t, blskeys.EqualPublicKeys(got.SectionKey, section.Public))
}

func TestResolveRejectsNonBounceKind(t *testing.T) {
	genesis := blskeys.NewKeypair()
	cache, err := networkknowledge.New(genesis.Public)
	require.NoError(t, err)
	h := New(cache)

	_, _, err = h.Resolve(originalMsg(), wire.Msg{Header: wire.Header{Kind: wire.KindCmdAck}})
	assert.Error(t, err)
}
