// Package querypipeline implements the Query Pipeline: routing a read to
// one or more elders, aggregating their responses per data kind, and
// retrying on DataNotFound to ride out in-flight replication (spec.md
// §4.6 "Query Pipeline").
package querypipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/kyber/v3/share"

	"github.com/dreamware/saferoute/internal/antientropy"
	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/clienterrors"
	"github.com/dreamware/saferoute/internal/cmdpipeline"
	"github.com/dreamware/saferoute/internal/data"
	"github.com/dreamware/saferoute/internal/networkknowledge"
	"github.com/dreamware/saferoute/internal/router"
	"github.com/dreamware/saferoute/internal/wire"
	"github.com/dreamware/saferoute/internal/xorname"
)

// Parallelism selects how many elders a query fans out to (spec.md §4.6
// "query_parallelism").
type Parallelism int

const (
	// One queries a single, XOR-closest elder.
	One Parallelism = iota
	// Three queries the three closest elders.
	Three
	// All queries every elder in the SAP.
	All
)

// fanout returns how many of n available elders to query.
func (p Parallelism) fanout(n int) int {
	switch p {
	case One:
		if n > 1 {
			return 1
		}
		return n
	case All:
		return n
	default: // Three
		if n > 3 {
			return 3
		}
		return n
	}
}

// Config controls retry, timeout, and verification behavior for queries.
type Config struct {
	Parallelism       Parallelism
	CheckReplicas     bool // query every adult of the chosen elder(s) and require byte-identical responses
	HappyPath         bool // query exactly one elder, one adult
	QueryTimeout      time.Duration
	PerAttemptTimeout time.Duration
	MaxRetries        int // cap on Anti-Entropy re-dispatches; sizes the DataNotFound budget (2x this) only when DataReplicaCount <= 0
	DataReplicaCount  int // used to size the DataNotFound retry budget (spec.md §4.6 step 6)
}

// DefaultConfig matches SPEC_FULL.md §5's resolved defaults.
func DefaultConfig() Config {
	return Config{
		Parallelism:       Three,
		CheckReplicas:     false,
		HappyPath:         false,
		QueryTimeout:      30 * time.Second,
		PerAttemptTimeout: 5 * time.Second,
		MaxRetries:        3,
		DataReplicaCount:  3,
	}
}

// Validate rejects contradictory configuration (spec.md §8 property 11:
// "query_parallelism = One + check_replicas = true is a contradiction
// and is rejected at builder time"). Session's builder calls this before
// accepting a Config.
func (c Config) Validate() error {
	if c.Parallelism == One && c.CheckReplicas {
		return clienterrors.New(clienterrors.InvalidResponse, "query_parallelism=One is incompatible with check_replicas=true").
			WithField("parallelism", "One").
			WithField("check_replicas", true)
	}
	return nil
}

func (c Config) dataNotFoundBudget() int {
	if c.DataReplicaCount <= 0 {
		return 2 * c.MaxRetries
	}
	return 2 * c.DataReplicaCount
}

// Pipeline sends queries and aggregates responses per data kind.
type Pipeline struct {
	sender    cmdpipeline.Sender
	knowledge *networkknowledge.Cache
	ae        *antientropy.Handler
	cfg       Config
	logger    zerolog.Logger
}

// New creates a Pipeline.
func New(sender cmdpipeline.Sender, knowledge *networkknowledge.Cache, cfg Config) *Pipeline {
	return &Pipeline{
		sender:    sender,
		knowledge: knowledge,
		ae:        antientropy.New(knowledge),
		cfg:       cfg,
		logger:    log.Logger.With().Str("component", "querypipeline").Logger(),
	}
}

// fanout determines how many elders to query given the configured
// Parallelism, HappyPath override, and CheckReplicas (which, per spec.md
// §4.6 step 4, widens fan-out to every adult of the chosen elder — since
// adults aren't modelled separately here, CheckReplicas queries the same
// elder set as Parallelism would, relying on each elder's own internal
// adult fan-out to surface a divergent response).
func (p *Pipeline) fanout(n int) int {
	if p.cfg.HappyPath {
		if n > 1 {
			return 1
		}
		return n
	}
	return p.cfg.Parallelism.fanout(n)
}

// queryElders sends a Query for address to the fanned-out elder set,
// resolving Anti-Entropy bounces and retrying on DataNotFound up to the
// configured budget, and returns every QueryResponse payload received
// (spec.md §4.6 steps 1, 2, 6).
func (p *Pipeline) queryElders(ctx context.Context, dst xorname.XorName, payload []byte) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	msgID := xorname.Random()
	msg := wire.Msg{
		Header: wire.Header{
			Version: wire.Version,
			Kind:    wire.KindQuery,
			MsgID:   msgID,
			Dst:     dst,
		},
		Payload: payload,
	}

	notFoundRetries := 0
	budget := p.cfg.dataNotFoundBudget()
	aeRetries := 0

	for {
		if aeRetries > p.cfg.MaxRetries {
			return nil, clienterrors.New(clienterrors.NetworkKnowledgeStale, "exceeded max Anti-Entropy retries for query").
				WithField("msg_id", msgID.String())
		}

		targets, err := router.Route(p.knowledge.Read(), msg.Header.Dst)
		if err != nil {
			return nil, err
		}
		k := p.fanout(len(targets))
		if k == 0 {
			return nil, clienterrors.New(clienterrors.InsufficientElders, "no elders available to query").
				WithField("msg_id", msgID.String())
		}

		encoded, err := wire.Encode(msg)
		if err != nil {
			return nil, clienterrors.Wrap(clienterrors.InvalidResponse, err, "encode query")
		}

		var responses [][]byte
		aeHandled := false
		var resend wire.Msg
		reached := false

		for _, target := range targets[:k] {
			attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.PerAttemptTimeout)
			raw, sendErr := p.sender.SendOnStream(attemptCtx, target.NodeID, target.Address, encoded)
			cancel()
			if sendErr != nil {
				p.logger.Debug().Err(sendErr).Str("elder", target.NodeID.String()).Msg("elder unreachable, trying next")
				continue
			}
			resp, decodeErr := wire.Decode(raw)
			if decodeErr != nil {
				p.logger.Debug().Err(decodeErr).Str("elder", target.NodeID.String()).Msg("malformed response, trying next")
				continue
			}
			reached = true

			switch resp.Header.Kind {
			case wire.KindQueryResponse:
				if resp.Header.CorrelationID == msgID && len(resp.Payload) > 0 {
					responses = append(responses, resp.Payload)
				}
			case wire.KindAERetry, wire.KindAERedirect, wire.KindAEUpdate:
				resolved, retry, aeErr := p.ae.Resolve(msg, resp)
				if aeErr == nil && retry {
					resend = resolved
					aeHandled = true
				}
			}
		}

		if len(responses) > 0 {
			return responses, nil
		}
		if aeHandled {
			aeRetries++
			msg = resend
			continue
		}
		// No data came back but at least one elder was reachable: treat
		// as a DataNotFound candidate and retry to ride out in-flight
		// replication (spec.md §4.6 step 6), up to the retry budget.
		if reached && notFoundRetries < budget {
			notFoundRetries++
			p.logger.Debug().Int("retry", notFoundRetries).Msg("DataNotFound, retrying to ride out in-flight replication")
			continue
		}
		return nil, clienterrors.New(clienterrors.DataNotFound, "no replica held the requested data").
			WithField("msg_id", msgID.String()).
			WithField("retries", notFoundRetries)
	}
}

// FetchChunk retrieves and verifies the Chunk at address (spec.md §4.6
// step 3: "for chunk reads: any single valid response wins").
func (p *Pipeline) FetchChunk(ctx context.Context, address xorname.XorName) (data.Chunk, error) {
	responses, err := p.queryElders(ctx, address, address[:])
	if err != nil {
		return data.Chunk{}, err
	}
	for _, raw := range responses {
		chunk := data.NewChunk(raw)
		if verifyErr := chunk.Verify(address); verifyErr == nil {
			if p.cfg.CheckReplicas {
				if !allChunksEqual(responses) {
					return data.Chunk{}, clienterrors.New(clienterrors.InvalidResponse, "replicas returned divergent chunk bytes under check_replicas")
				}
			}
			return chunk, nil
		}
	}
	return data.Chunk{}, clienterrors.New(clienterrors.InvalidResponse, "no replica returned bytes matching the requested chunk address").
		WithField("address", address.String())
}

func allChunksEqual(responses [][]byte) bool {
	if len(responses) == 0 {
		return true
	}
	first := responses[0]
	for _, r := range responses[1:] {
		if string(r) != string(first) {
			return false
		}
	}
	return true
}

// ReadRegister retrieves the Register at address, merging every elder's
// op log into one CRDT and returning it (spec.md §4.6 step 4: "the
// winner is the response whose causal log is not dominated by any
// other... if all responses are incomparable, return their merge" — a
// Register CRDT merge is commutative and associative, so folding every
// response in, regardless of whether one dominates the others, produces
// exactly this result).
func (p *Pipeline) ReadRegister(ctx context.Context, address xorname.XorName) (*data.Register, error) {
	responses, err := p.queryElders(ctx, address, nil)
	if err != nil {
		return nil, err
	}
	reg := data.NewRegister(address)
	for _, raw := range responses {
		ops, decodeErr := data.DecodeOps(raw)
		if decodeErr != nil {
			p.logger.Debug().Err(decodeErr).Msg("discarding malformed register response")
			continue
		}
		for _, op := range ops {
			if mergeErr := reg.Merge(op); mergeErr != nil {
				p.logger.Debug().Err(mergeErr).Msg("discarding invalid register op")
			}
		}
	}
	return reg, nil
}

// FetchSpentProof collects spent-proof shares from up to the configured
// fan-out of elders and reconstructs the threshold signature, surfacing
// InsufficientSpentProofShares distinctly from DataNotFound when fewer
// than t shares come back (spec.md §4.6 step 5).
func (p *Pipeline) FetchSpentProof(ctx context.Context, address xorname.XorName, msg []byte, public *share.PubPoly, t, n int) (data.SpentProof, error) {
	responses, err := p.queryElders(ctx, address, address[:])
	if err != nil {
		return data.SpentProof{}, err
	}
	var shares []blskeys.SpentProofShare
	for _, raw := range responses {
		decoded, decodeErr := data.DecodeSpentProofShares(raw)
		if decodeErr != nil {
			p.logger.Debug().Err(decodeErr).Msg("discarding malformed spent-proof share response")
			continue
		}
		for _, s := range decoded {
			shares = append(shares, s)
		}
	}
	return data.RecoverSpentProof(address, msg, public, shares, t, n)
}
