// Package networkknowledge holds the process-wide cache of what the
// client currently believes about the network: the Section Tree, kept
// behind a copy-on-write atomic pointer so every read is lock-free, plus
// an optional on-disk snapshot so a restarted process doesn't have to
// rediscover the whole tree from genesis (spec.md §3 "Network Knowledge
// Cache", §5 "network_contacts_path").
//
// The background persistence loop is adapted from the teacher's
// HealthMonitor (internal/coordinator/health_monitor.go): a ticker, a
// cancellable context, and a WaitGroup for clean shutdown, generalized
// from "poll node health over HTTP" to "flush the tree to disk if it
// changed since the last tick".
package networkknowledge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/saferoute/internal/blskeys"
	"github.com/dreamware/saferoute/internal/clienterrors"
	"github.com/dreamware/saferoute/internal/sectiontree"
	"github.com/dreamware/saferoute/internal/storage"
)

// Cache is the process-wide network knowledge cache. Zero value is not
// usable; construct with New or Load.
type Cache struct {
	current atomic.Pointer[sectiontree.Tree]
	writeMu sync.Mutex // serializes ApplyUpdate so two concurrent AE messages can't race each other's clone-and-publish

	store   storage.Store // optional; nil means no persistence
	dirty   atomic.Bool
	logger  zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// storageKey is the single key a Cache's Store holds its serialized
// Snapshot under.
const storageKey = "network_tree"

// New creates a Cache holding only the genesis key, with no persistence
// backend (spec.md §3: "created empty with only the genesis key").
func New(genesisKey blskeys.PublicKey) (*Cache, error) {
	tree, err := sectiontree.Genesis(genesisKey)
	if err != nil {
		return nil, err
	}
	c := &Cache{logger: log.Logger.With().Str("component", "networkknowledge").Logger()}
	c.current.Store(tree)
	return c, nil
}

// Load creates a Cache backed by store, restoring a previously-persisted
// Snapshot if one exists, or falling back to New(genesisKey) when the
// store has nothing under storageKey yet (spec.md §5: the client "reads
// network_contacts_path at startup if present").
func Load(genesisKey blskeys.PublicKey, store storage.Store) (*Cache, error) {
	c := &Cache{store: store, logger: log.Logger.With().Str("component", "networkknowledge").Logger()}

	raw, err := store.Get(storageKey)
	if err != nil {
		tree, genErr := sectiontree.Genesis(genesisKey)
		if genErr != nil {
			return nil, genErr
		}
		c.current.Store(tree)
		return c, nil
	}

	snap, err := sectiontree.UnmarshalSnapshot(raw)
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.InvalidResponse, err, "corrupt network_contacts_path snapshot")
	}
	tree, err := sectiontree.FromSnapshot(snap)
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.InvalidResponse, err, "rebuild section tree from snapshot")
	}
	c.current.Store(tree)
	c.logger.Info().Int("saps", len(tree.AllSAPs())).Msg("restored network knowledge from disk")
	return c, nil
}

// Read returns the current tree snapshot. Callers must treat the
// returned *sectiontree.Tree as immutable — it is shared with every
// other concurrent reader.
func (c *Cache) Read() *sectiontree.Tree {
	return c.current.Load()
}

// Update verifies and applies an AE-Update against the current tree,
// publishing the result atomically (spec.md §4.1 "apply_update").
// Concurrent Update calls are serialized so a split and a churn update
// arriving back-to-back both see each other's effect rather than one
// clobbering the other's base snapshot.
func (c *Cache) Update(chain sectiontree.ProofChain, newSAP sectiontree.SAP) (sectiontree.UpdateResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next, result, err := c.current.Load().ApplyUpdate(chain, newSAP)
	if err != nil {
		return result, err
	}
	if result == sectiontree.Applied {
		c.current.Store(next)
		c.dirty.Store(true)
	}
	return result, nil
}

// StartPersistence begins a background loop that flushes the tree to the
// configured Store every interval, but only when it has changed since
// the last flush. It is a no-op if the Cache has no Store. Call Stop to
// end the loop.
func (c *Cache) StartPersistence(interval time.Duration) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flushIfDirty()
			case <-ctx.Done():
				c.flushIfDirty()
				return
			}
		}
	}()
}

// Stop cancels the persistence loop and waits for its final flush to
// complete (spec.md §4.8 "Shutdown... persists network knowledge").
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// flushIfDirty writes the current tree to the Store exactly when it has
// changed since the previous flush.
func (c *Cache) flushIfDirty() {
	if !c.dirty.CompareAndSwap(true, false) {
		return
	}
	snap, err := c.current.Load().ToSnapshot()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to snapshot network tree")
		c.dirty.Store(true)
		return
	}
	raw, err := snap.Marshal()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode network tree snapshot")
		c.dirty.Store(true)
		return
	}
	if err := c.store.Put(storageKey, raw); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist network tree snapshot")
		c.dirty.Store(true)
		return
	}
	c.logger.Debug().Msg("persisted network knowledge snapshot")
}
