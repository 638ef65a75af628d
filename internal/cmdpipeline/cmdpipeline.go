// Package cmdpipeline implements the Cmd Pipeline: sending a
// write-shaped request (a Register append, a spend) to a section's
// elders, resolving Anti-Entropy bounces along the way, and waiting for
// an ack quorum before returning (spec.md §4.2 "Cmd Pipeline").
package cmdpipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/saferoute/internal/antientropy"
	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/clienterrors"
	"github.com/dreamware/saferoute/internal/networkknowledge"
	"github.com/dreamware/saferoute/internal/router"
	"github.com/dreamware/saferoute/internal/wire"
	"github.com/dreamware/saferoute/internal/xorname"
)

// AckQuorum selects how many of a section's elders must ack a Cmd
// before send_cmd returns success (spec.md §4.2 "ack_quorum").
type AckQuorum int

const (
	// One: the first ack from any elder is enough.
	One AckQuorum = iota
	// SuperMajority: more than two thirds of the elders must ack
	// (2*n/3 + 1 with integer division)
	// (SPEC_FULL.md §5 Open Question 3: the default).
	SuperMajority
	// All: every elder in the SAP must ack.
	All
)

// Required computes the number of acks needed out of n elders.
func (q AckQuorum) Required(n int) int {
	switch q {
	case One:
		if n == 0 {
			return 0
		}
		return 1
	case All:
		return n
	default: // SuperMajority
		return 2*n/3 + 1
	}
}

// Config controls retry and timeout behavior for SendCmd.
type Config struct {
	AckQuorum         AckQuorum
	PerAttemptTimeout time.Duration
	MaxRetries        int // whole-round re-dispatches (after an AE bounce or a round without quorum), not per-elder retries
}

// DefaultConfig matches SPEC_FULL.md §5's resolved defaults.
func DefaultConfig() Config {
	return Config{
		AckQuorum:         SuperMajority,
		PerAttemptTimeout: 5 * time.Second,
		MaxRetries:        3,
	}
}

// Sender is the subset of peerpool.Pool that Cmd/Query pipelines need;
// kept as an interface here so both pipelines can be tested against a
// fake without depending on a real QUIC transport.
type Sender interface {
	SendOnStream(ctx context.Context, elderID xorname.XorName, addr string, payload []byte) ([]byte, error)
}

// Result is what a successful SendCmd returns.
type Result struct {
	OpID xorname.XorName
	Acks int
}

// Pipeline sends Cmds and resolves the quorum/AE/retry state machine
// around them.
type Pipeline struct {
	sender    Sender
	knowledge *networkknowledge.Cache
	ae        *antientropy.Handler
	cfg       Config
	logger    zerolog.Logger
}

// New creates a Pipeline.
func New(sender Sender, knowledge *networkknowledge.Cache, cfg Config) *Pipeline {
	return &Pipeline{
		sender:    sender,
		knowledge: knowledge,
		ae:        antientropy.New(knowledge),
		cfg:       cfg,
		logger:    log.Logger.With().Str("component", "cmdpipeline").Logger(),
	}
}

// SendCmd signs and sends payload as a Cmd to every elder routed for
// dst, re-dispatching the whole round after an Anti-Entropy bounce or a
// round without quorum up to cfg.MaxRetries times, and returns once a
// round has met cfg.AckQuorum (spec.md §4.2 "send_cmd"). cmdParentID
// optionally names the op this Cmd causally depends on (e.g. a Register
// append's parent tip); pass the zero XorName when there is none.
func (p *Pipeline) SendCmd(ctx context.Context, dst xorname.XorName, payload []byte, author blskeys.Keypair, cmdParentID xorname.XorName) (Result, error) {
	msgID := xorname.Random()
	msg := wire.Msg{
		Header: wire.Header{
			Version:       wire.Version,
			Kind:          wire.KindCmd,
			MsgID:         msgID,
			Dst:           dst,
			CorrelationID: cmdParentID,
		},
		Payload: payload,
	}
	body, err := msg.SignedBody()
	if err != nil {
		return Result{}, clienterrors.Wrap(clienterrors.InvalidResponse, err, "sign cmd body")
	}
	sig, err := author.Sign(body)
	if err != nil {
		return Result{}, clienterrors.Wrap(clienterrors.InvalidResponse, err, "sign cmd")
	}
	msg.Header.Signature = sig

	var lastAcks, lastRequired int
	for attempt := 1; ; attempt++ {
		if attempt > p.cfg.MaxRetries+1 {
			return Result{}, clienterrors.New(clienterrors.CmdAckValidationTimeout, "exceeded max_retries without reaching ack quorum").
				WithField("msg_id", msgID.String()).
				WithField("attempts", attempt-1).
				WithField("acks", lastAcks).
				WithField("required", lastRequired)
		}

		targets, err := router.Route(p.knowledge.Read(), msg.Header.Dst)
		if err != nil {
			return Result{}, err
		}
		required := p.cfg.AckQuorum.Required(len(targets))
		if required == 0 {
			return Result{}, clienterrors.New(clienterrors.InsufficientElders, "no elders available to send cmd to").
				WithField("msg_id", msgID.String())
		}

		encoded, err := wire.Encode(msg)
		if err != nil {
			return Result{}, clienterrors.Wrap(clienterrors.InvalidResponse, err, "encode cmd")
		}

		acks := 0
		aeHandled := false
		var resend wire.Msg

		for _, target := range targets {
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

			switch resp.Header.Kind {
			case wire.KindCmdAck:
				if resp.Header.CorrelationID == msgID {
					acks++
				}
			case wire.KindAERetry, wire.KindAERedirect, wire.KindAEUpdate:
				resolved, retry, aeErr := p.ae.Resolve(msg, resp)
				if aeErr == nil && retry {
					resend = resolved
					aeHandled = true
				}
			}
		}

		if acks >= required {
			return Result{OpID: msgID, Acks: acks}, nil
		}
		if aeHandled {
			msg = resend
			continue
		}

		// per_attempt_timeout elapsed without reaching quorum and no AE
		// bounce arrived: retry with fresh connections against the latest
		// tree snapshot (spec.md §4.5 step 7), up to max_retries, rather
		// than surfacing CmdAckValidationTimeout after a single pass.
		lastAcks, lastRequired = acks, required
		p.logger.Debug().Str("msg_id", msgID.String()).Int("acks", acks).Int("required", required).
			Int("attempt", attempt).Msg("ack quorum not reached, retrying with fresh connections")
	}
}
