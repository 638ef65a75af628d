// Package peerpool implements the Peer Link Pool: a bounded cache of
// live QUIC connections to elders, so the Request Router and Cmd/Query
// pipelines don't pay a fresh handshake for every request to the same
// elder (spec.md §4.3 "Peer Link Pool").
//
// Eviction is adapted from the teacher's HealthMonitor
// (internal/coordinator/health_monitor.go) in spirit — a background
// process reaps entries nobody has used recently — but implemented with
// hashicorp/golang-lru/v2's expirable.LRU instead of a hand-rolled
// ticker loop, since that library already solves "bounded size plus
// idle TTL eviction with a callback" directly (spec.md §4.3: "a pool
// with an upper bound on open links, evicting the least-recently-used
// idle link").
package peerpool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/saferoute/internal/clienterrors"
	"github.com/dreamware/saferoute/internal/xorname"
)

// DefaultCapacity is the default number of concurrently-open links
// (spec.md §5 default config).
const DefaultCapacity = 64

// DefaultIdleTimeout is how long an unused link is kept before eviction.
const DefaultIdleTimeout = 30 * time.Second

// DefaultDialTimeout bounds how long opening a fresh connection may take.
const DefaultDialTimeout = 5 * time.Second

// link is one pooled entry: the QUIC connection plus the address it was
// dialed to, kept for log messages after the elder's address has since
// moved on (a churned elder).
type link struct {
	conn quic.Connection
	addr string
}

// Pool is the Peer Link Pool. The zero value is not usable; construct
// with New.
type Pool struct {
	mu          sync.Mutex // serializes dial-or-reuse so two callers never dial the same elder twice
	cache       *expirable.LRU[xorname.XorName, *link]
	tlsConfig   *tls.Config
	dialTimeout time.Duration
	logger      zerolog.Logger
}

// New creates a Pool with the given capacity and idle timeout. tlsConfig
// is passed verbatim to quic-go for every dial; spec.md leaves transport
// security configuration to the caller (SPEC_FULL.md §5).
func New(capacity int, idleTimeout time.Duration, tlsConfig *tls.Config) *Pool {
	p := &Pool{
		tlsConfig:   tlsConfig,
		dialTimeout: DefaultDialTimeout,
		logger:      log.Logger.With().Str("component", "peerpool").Logger(),
	}
	p.cache = expirable.NewLRU[xorname.XorName, *link](capacity, p.onEvict, idleTimeout)
	return p
}

// onEvict closes a link's underlying connection when the LRU drops it,
// either for capacity or for having gone idle past the TTL.
func (p *Pool) onEvict(id xorname.XorName, l *link) {
	if l == nil || l.conn == nil {
		return
	}
	p.logger.Debug().Str("elder", id.String()).Str("addr", l.addr).Msg("evicting idle peer link")
	_ = l.conn.CloseWithError(0, "idle")
}

// SendOnStream opens a bidirectional QUIC stream to elder (reusing a
// pooled connection if one exists), writes payload, half-closes the
// write side, and returns everything the elder writes back before
// closing its side (spec.md §4.3 "send_on_stream"). Any I/O error evicts
// the underlying connection so the next call redials rather than
// reusing a connection already known to be broken.
func (p *Pool) SendOnStream(ctx context.Context, elderID xorname.XorName, addr string, payload []byte) ([]byte, error) {
	conn, err := p.getOrDial(ctx, elderID, addr)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		p.evict(elderID)
		return nil, clienterrors.Wrap(clienterrors.ConnectionLost, err, "open stream to elder").WithField("elder", elderID.String())
	}

	if _, err := stream.Write(payload); err != nil {
		p.evict(elderID)
		return nil, clienterrors.Wrap(clienterrors.ConnectionLost, err, "write to elder stream").WithField("elder", elderID.String())
	}
	if err := stream.Close(); err != nil {
		p.evict(elderID)
		return nil, clienterrors.Wrap(clienterrors.ConnectionLost, err, "close write side of elder stream").WithField("elder", elderID.String())
	}

	resp, err := readAll(stream)
	if err != nil {
		p.evict(elderID)
		return nil, clienterrors.Wrap(clienterrors.ConnectionLost, err, "read from elder stream").WithField("elder", elderID.String())
	}
	return resp, nil
}

// getOrDial returns a cached connection to elderID, dialing a fresh one
// if none is pooled (or the pooled one turns out to be closed).
func (p *Pool) getOrDial(ctx context.Context, elderID xorname.XorName, addr string) (quic.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.cache.Get(elderID); ok {
		select {
		case <-l.conn.Context().Done():
			// Connection already closed out from under us; fall through to redial.
		default:
			return l.conn, nil
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	conn, err := quic.DialAddr(dialCtx, addr, p.tlsConfig, nil)
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.ConnectionLost, err, fmt.Sprintf("dial elder %s", addr)).WithField("elder", elderID.String())
	}
	p.cache.Add(elderID, &link{conn: conn, addr: addr})
	return conn, nil
}

// evict removes and closes any pooled connection to elderID.
func (p *Pool) evict(elderID xorname.XorName) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(elderID)
}

// Close evicts and closes every pooled connection (spec.md §4.8
// "Shutdown ... closes all pooled peer links").
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}

// Len reports the current number of pooled connections, for tests and
// diagnostics.
func (p *Pool) Len() int {
	return p.cache.Len()
}

// readAll drains a quic.Stream until the peer half-closes it. quic-go
// streams implement io.Reader directly.
func readAll(stream quic.Stream) ([]byte, error) {
	const chunkSize = 32 * 1024
	var out []byte
	buf := make([]byte, chunkSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
	}
}
