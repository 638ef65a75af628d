package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/cmdpipeline"
	"github.com/dreamware/saferoute/internal/networkknowledge"
	"github.com/dreamware/saferoute/internal/peerpool"
	"github.com/dreamware/saferoute/internal/querypipeline"
	"github.com/dreamware/saferoute/internal/sectiontree"
	"github.com/dreamware/saferoute/internal/xorname"
)

func signSAPForBootstrap(t *testing.T, signer blskeys.Keypair, sap sectiontree.SAP) sectiontree.SAP {
	t.Helper()
	body, err := sectiontree.EncodeSAPBody(sap.Prefix, sap.SectionKey, sap.Elders)
	require.NoError(t, err)
	sig, err := signer.Sign(body)
	require.NoError(t, err)
	sap.Signature = sig
	return sap
}

func chainFromGenesis(t *testing.T, genesis, section blskeys.Keypair) sectiontree.ProofChain {
	t.Helper()
	sectionBytes, err := blskeys.EncodePublicKey(section.Public)
	require.NoError(t, err)
	sig, err := genesis.Sign(sectionBytes)
	require.NoError(t, err)
	return sectiontree.ProofChain{Keys: []blskeys.PublicKey{genesis.Public, section.Public}, Sigs: [][]byte{sig}}
}

func newTestSession(t *testing.T) (*Session, blskeys.Keypair) {
	t.Helper()
	genesis := blskeys.NewKeypair()
	client := blskeys.NewKeypair()
	cfg := DefaultConfig()
	cfg.QueryPerAttemptTimeout = 50 * time.Millisecond

	knowledge, err := networkknowledge.New(genesis.Public)
	require.NoError(t, err)
	pool := peerpool.New(cfg.PeerPoolCapacity, cfg.PeerPoolIdleTimeout, nil)
	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &Session{
		clientKeypair: client,
		knowledge:     knowledge,
		pool:          pool,
		cmds:          nil,
		queries:       nil,
		cfg:           cfg,
		logger:        log.Logger,
		rootCtx:       rootCtx,
		rootCancel:    rootCancel,
	}
	return s, genesis
}

// newSessionForTest builds a Session directly from an already-populated
// Cache and a fake Sender, bypassing Builder.Build (which always
// constructs a real peerpool.Pool) so pipeline-level integration tests
// can run without a live QUIC transport.
func newSessionForTest(t *testing.T, cache *networkknowledge.Cache, sender cmdpipeline.Sender, cfg Config) *Session {
	t.Helper()
	client := blskeys.NewKeypair()
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Session{
		clientKeypair: client,
		knowledge:     cache,
		pool:          peerpool.New(1, time.Second, nil), // unused by the fake sender; kept non-nil so Shutdown stays safe to call
		cmds:          cmdpipeline.New(sender, cache, cfg.cmdPipelineConfig()),
		queries:       querypipeline.New(sender, cache, cfg.queryPipelineConfig()),
		cfg:           cfg,
		logger:        log.Logger,
		rootCtx:       rootCtx,
		rootCancel:    rootCancel,
	}
}

func TestBootstrapNoopWhenTreeAlreadyPopulated(t *testing.T) {
	s, genesis := newTestSession(t)
	defer s.Shutdown()

	section := blskeys.NewKeypair()
	sap := signSAPForBootstrap(t, section, sectiontree.SAP{
		Prefix:     xorname.Prefix{},
		SectionKey: section.Public,
		Elders:     []sectiontree.Elder{{NodeID: xorname.Random(), Address: "10.0.0.1:9000"}},
	})
	_, err := s.knowledge.Update(chainFromGenesis(t, genesis, section), sap)
	require.NoError(t, err)
	require.NotEmpty(t, s.knowledge.Read().AllSAPs())

	s.contacts = nil
	err = s.Bootstrap(context.Background())
	assert.NoError(t, err)
}

func TestBootstrapFailsWithNoContacts(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Shutdown()
	s.contacts = nil

	err := s.Bootstrap(context.Background())
	assert.Error(t, err)
}

func TestBootstrapFailsWhenAllContactsUnreachable(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Shutdown()
	s.contacts = []Contact{
		{NodeID: xorname.Random(), Address: "127.0.0.1:1"},
		{NodeID: xorname.Random(), Address: "127.0.0.1:2"},
	}

	err := s.Bootstrap(context.Background())
	assert.Error(t, err)
}
