package storage

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileStore implements the Store interface over a single file on disk,
// encoded with CBOR. Unlike MemoryStore it survives restarts, backing
// the network knowledge cache's persisted copy of the Section Tree
// (spec.md §5 "network_contacts_path").
//
// FileStore characteristics:
//   - Entire key space lives in one file, rewritten atomically on every
//     mutating call (a write-then-rename, never a partial write)
//   - Safe for concurrent calls via an internal RWMutex, same contract
//     as MemoryStore
//   - Not suitable for large datasets or high write rates: every Put or
//     Delete re-serializes and rewrites the whole file
//
// Suitable for:
//   - Small, infrequently-updated blobs like a cached network snapshot
//
// Not suitable for:
//   - Data with many keys or a high write rate (one full-file rewrite per mutation)
type FileStore struct {
	path string
	data map[string][]byte
	mu   sync.RWMutex
}

// NewFileStore opens (or creates) a FileStore backed by path. If the file
// already exists, its contents are loaded immediately; a missing file is
// treated as an empty store.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: make(map[string][]byte)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return fs, nil
	}
	if err := cbor.Unmarshal(raw, &fs.data); err != nil {
		return nil, err
	}
	return fs, nil
}

// Get retrieves a value by key, mirroring MemoryStore.Get's contract.
func (fs *FileStore) Get(key string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	value, ok := fs.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores a value and writes the whole store out (temp file, then
// rename) before returning. The file is not fsynced, so a write that
// Put has returned from can still be lost if the operating system
// crashes before flushing it.
func (fs *FileStore) Put(key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	fs.data[key] = stored
	return fs.flushLocked()
}

// Delete removes a key and persists the result, idempotent like
// MemoryStore.Delete.
func (fs *FileStore) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.data, key)
	return fs.flushLocked()
}

// List returns a snapshot of all keys currently on disk.
func (fs *FileStore) List() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	keys := make([]string, 0, len(fs.data))
	for k := range fs.data {
		keys = append(keys, k)
	}
	return keys
}

// Stats reports the same metrics as MemoryStore.Stats.
func (fs *FileStore) Stats() StoreStats {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	total := 0
	for _, v := range fs.data {
		total += len(v)
	}
	return StoreStats{Keys: len(fs.data), Bytes: total}
}

// flushLocked serializes fs.data and writes it to a temp file before
// renaming over fs.path, so readers never observe a half-written file.
// Callers must hold fs.mu.
func (fs *FileStore) flushLocked() error {
	raw, err := cbor.Marshal(fs.data)
	if err != nil {
		return err
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, fs.path)
}
