// Package storage defines the abstract Store interface used to persist
// the Network Knowledge Cache's Section Tree snapshot between process
// restarts (spec.md §5 "network_contacts_path"), plus the concrete
// implementations backing it: MemoryStore for tests and FileStore for
// an on-disk snapshot.
//
// # Implementations
//
// MemoryStore: in-memory, thread-safe via sync.RWMutex. No persistence;
// suitable for tests that construct a networkknowledge.Cache without a
// real network_contacts_path.
//
// FileStore: a single CBOR-encoded file, rewritten atomically on every
// mutating call. Suitable for the Section Tree snapshot this package
// was built to hold: small and infrequently updated. Not suitable for
// high write rates or many keys.
package storage
