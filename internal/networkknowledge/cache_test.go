package networkknowledge

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/sectiontree"
	"github.com/dreamware/saferoute/internal/storage"
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
	return sectiontree.ProofChain{
		Keys: []blskeys.PublicKey{from.Public, to.Public},
		Sigs: [][]byte{sig},
	}
}

func TestNewStartsAtGenesisOnly(t *testing.T) {
	genesis := blskeys.NewKeypair()
	cache, err := New(genesis.Public)
	require.NoError(t, err)

	assert.Empty(t, cache.Read().AllSAPs())
	assert.True(t, cache.Read().IsTrusted(genesis.Public))
}

func TestUpdatePublishesNewSnapshotWithoutMutatingOldReaders(t *testing.T) {
	genesis := blskeys.NewKeypair()
	section := blskeys.NewKeypair()
	cache, err := New(genesis.Public)
	require.NoError(t, err)

	before := cache.Read()
	sap := signSAP(t, section, sectiontree.SAP{Prefix: xorname.Prefix{}, SectionKey: section.Public})
	result, err := cache.Update(chainFrom(t, genesis, section), sap)
	require.NoError(t, err)
	assert.Equal(t, sectiontree.Applied, result)

	assert.Empty(t, before.AllSAPs(), "the snapshot read before Update must not change underneath the caller")
	assert.Len(t, cache.Read().AllSAPs(), 1)
}

func TestLoadRestoresPersistedSnapshot(t *testing.T) {
	genesis := blskeys.NewKeypair()
	section := blskeys.NewKeypair()
	path := filepath.Join(t.TempDir(), "network_knowledge.cbor")

	store, err := storage.NewFileStore(path)
	require.NoError(t, err)
	cache, err := Load(genesis.Public, store)
	require.NoError(t, err)

	sap := signSAP(t, section, sectiontree.SAP{Prefix: xorname.Prefix{}, SectionKey: section.Public})
	_, err = cache.Update(chainFrom(t, genesis, section), sap)
	require.NoError(t, err)

	cache.StartPersistence(5 * time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := store.Get(storageKey)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	cache.Stop()

	reopened, err := storage.NewFileStore(path)
	require.NoError(t, err)
	restored, err := Load(genesis.Public, reopened)
	require.NoError(t, err)

	got, err := restored.Read().GetSAPByPrefix(xorname.Prefix{})
	require.NoError(t, err)
	assert.True(t, blskeys.EqualPublicKeys(got.SectionKey, section.Public))
}
