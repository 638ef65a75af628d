// Package session implements the Session: the client's public surface,
// owning its identity, configuration, Network Knowledge Cache, and Peer
// Link Pool, and wiring the Cmd/Query Pipelines together for callers
// (spec.md §4.8 "Session").
package session

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/kyber/v3/share"

	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/cmdpipeline"
	"github.com/dreamware/saferoute/internal/data"
	"github.com/dreamware/saferoute/internal/networkknowledge"
	"github.com/dreamware/saferoute/internal/peerpool"
	"github.com/dreamware/saferoute/internal/querypipeline"
	"github.com/dreamware/saferoute/internal/storage"
	"github.com/dreamware/saferoute/internal/xorname"
)

// Session owns identity and configuration for the lifetime of one client
// connection to the network (spec.md §4.8 "State").
type Session struct {
	clientKeypair blskeys.Keypair
	dbcOwner      blskeys.Keypair

	knowledge *networkknowledge.Cache
	pool      *peerpool.Pool
	cmds      *cmdpipeline.Pipeline
	queries   *querypipeline.Pipeline

	contacts []Contact
	cfg      Config
	logger   zerolog.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// Builder constructs a Session, failing fast on missing required state
// rather than leaving a half-usable Session around (spec.md §4.8
// "Construction uses a builder; the builder fails if the configured
// network-contacts file cannot be parsed or if required keys are
// absent").
type Builder struct {
	genesisKey    blskeys.PublicKey
	clientKeypair *blskeys.Keypair
	dbcOwner      *blskeys.Keypair
	cfg           Config
	tlsConfig     *tls.Config
}

// NewBuilder starts a Builder trusting genesisKey as the network's root
// of trust (spec.md §3 "Section Tree is created empty with only the
// genesis key").
func NewBuilder(genesisKey blskeys.PublicKey) *Builder {
	return &Builder{genesisKey: genesisKey, cfg: DefaultConfig()}
}

// WithClientKeypair sets the keypair the session signs every Cmd with.
// Required.
func (b *Builder) WithClientKeypair(kp blskeys.Keypair) *Builder {
	b.clientKeypair = &kp
	return b
}

// WithDBCOwner sets the key used for DBC ownership, distinct from the
// client keypair (spec.md §4.8 "dbc_owner"). Only required for DBC
// operations.
func (b *Builder) WithDBCOwner(kp blskeys.Keypair) *Builder {
	b.dbcOwner = &kp
	return b
}

// WithConfig replaces the default Config.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithTLSConfig sets the TLS config used for every QUIC dial.
func (b *Builder) WithTLSConfig(tlsConfig *tls.Config) *Builder {
	b.tlsConfig = tlsConfig
	return b
}

// Build validates the accumulated configuration and assembles a ready
// Session: the Network Knowledge Cache (loaded from
// NetworkContactsPath if set), the Peer Link Pool, and the Cmd/Query
// Pipelines wired against them.
func (b *Builder) Build() (*Session, error) {
	if b.clientKeypair == nil {
		return nil, fmt.Errorf("session: client_keypair is required")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	cfg := applyEnvOverrides(b.cfg)

	var knowledge *networkknowledge.Cache
	var err error
	if cfg.NetworkContactsPath != "" {
		var store storage.Store
		store, err = storage.NewFileStore(cfg.NetworkContactsPath)
		if err != nil {
			return nil, fmt.Errorf("session: open network contacts file: %w", err)
		}
		knowledge, err = networkknowledge.Load(b.genesisKey, store)
	} else {
		knowledge, err = networkknowledge.New(b.genesisKey)
	}
	if err != nil {
		return nil, err
	}

	var contacts []Contact
	if cfg.BootstrapContactsPath != "" {
		contacts, err = LoadContacts(cfg.BootstrapContactsPath)
		if err != nil {
			return nil, err
		}
	}

	pool := peerpool.New(cfg.PeerPoolCapacity, cfg.PeerPoolIdleTimeout, b.tlsConfig)
	cmds := cmdpipeline.New(pool, knowledge, cfg.cmdPipelineConfig())
	queries := querypipeline.New(pool, knowledge, cfg.queryPipelineConfig())

	if cfg.NetworkContactsPath != "" {
		knowledge.StartPersistence(cfg.PersistenceInterval)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &Session{
		clientKeypair: *b.clientKeypair,
		knowledge:     knowledge,
		pool:          pool,
		cmds:          cmds,
		queries:       queries,
		contacts:      contacts,
		cfg:           cfg,
		logger:        log.Logger.With().Str("component", "session").Logger(),
		rootCtx:       rootCtx,
		rootCancel:    rootCancel,
	}
	if b.dbcOwner != nil {
		s.dbcOwner = *b.dbcOwner
	}
	return s, nil
}

// derive returns a context that is cancelled either when ctx is done or
// when the Session is shut down, so every public operation observes
// Shutdown's cancellation without each pipeline needing to know about it
// (spec.md §4.8 "Shutdown: ... in-flight operations are cancelled and
// return Cancelled").
func (s *Session) derive(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-s.rootCtx.Done():
			cancel()
		case <-stop:
		}
	}()
	return merged, func() {
		close(stop)
		cancel()
	}
}

// AppendRegister signs and sends a new entry to the Register at address,
// appended after reg's current tips, then folds the resulting op into
// reg so the caller's local view advances too (spec.md §4.2 "append").
func (s *Session) AppendRegister(ctx context.Context, address xorname.XorName, reg *data.Register, entry []byte) (cmdpipeline.Result, error) {
	ctx, cancel := s.derive(ctx)
	defer cancel()

	op, err := reg.Append(entry, s.clientKeypair)
	if err != nil {
		return cmdpipeline.Result{}, err
	}
	payload, err := data.EncodeOps([]data.RegisterOp{op})
	if err != nil {
		return cmdpipeline.Result{}, err
	}
	var parent xorname.XorName
	if len(op.Parents) > 0 {
		parent = op.Parents[0]
	}
	return s.cmds.SendCmd(ctx, address, payload, s.clientKeypair, parent)
}

// ReadRegister fetches and merges the Register at address from the
// network (spec.md §4.6 step 4).
func (s *Session) ReadRegister(ctx context.Context, address xorname.XorName) (*data.Register, error) {
	ctx, cancel := s.derive(ctx)
	defer cancel()
	return s.queries.ReadRegister(ctx, address)
}

// StoreChunk sends chunk to the network under its content address
// (spec.md §4.2, §3 "Chunk").
func (s *Session) StoreChunk(ctx context.Context, chunk data.Chunk) (cmdpipeline.Result, error) {
	ctx, cancel := s.derive(ctx)
	defer cancel()
	return s.cmds.SendCmd(ctx, chunk.Address().Name, chunk.Bytes, s.clientKeypair, xorname.XorName{})
}

// FetchChunk retrieves and verifies the Chunk at address (spec.md §4.6
// step 3).
func (s *Session) FetchChunk(ctx context.Context, address xorname.XorName) (data.Chunk, error) {
	ctx, cancel := s.derive(ctx)
	defer cancel()
	return s.queries.FetchChunk(ctx, address)
}

// FetchSpentProof reconstructs a spent proof for address from elder
// shares (spec.md §4.6 step 5).
func (s *Session) FetchSpentProof(ctx context.Context, address xorname.XorName, msg []byte, public *share.PubPoly, t, n int) (data.SpentProof, error) {
	ctx, cancel := s.derive(ctx)
	defer cancel()
	return s.queries.FetchSpentProof(ctx, address, msg, public, t, n)
}

// ClientKeypair returns the session's signing identity.
func (s *Session) ClientKeypair() blskeys.Keypair { return s.clientKeypair }

// DBCOwner returns the session's DBC ownership key.
func (s *Session) DBCOwner() blskeys.Keypair { return s.dbcOwner }

// Shutdown persists the network knowledge, closes the peer link pool,
// and cancels every in-flight operation (spec.md §4.8 "Shutdown").
func (s *Session) Shutdown() {
	s.rootCancel()
	s.knowledge.Stop()
	s.pool.Close()
	s.logger.Info().Msg("session shut down")
}
