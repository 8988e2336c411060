// Package storage provides the key-value persistence abstraction shared by
// every stateful engine component (TroveStore, SortedTroves, StabilityPool,
// FeeRouter, OracleGateway config). Adapted from the teacher repository's
// storage/db.go Database interface: an in-memory implementation for tests
// and a github.com/syndtr/goleveldb-backed implementation for the daemon.
package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic key-value store. Keys are opaque byte strings built
// by each component's own namespacing scheme (see trovestore, sortedtroves,
// stabilitypool for their respective key layouts).
type Database interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Iterate calls fn for every stored key with the given prefix, in
	// ascending key order, until fn returns false or all matches are
	// visited. Iterate never mutates the store while iterating.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Batch accumulates writes that must be applied atomically at the end of a
// single logical operation, matching spec §5's requirement that either
// every mutation inside one call lands or none does. Batch has no partial
// Commit: a caller that encounters an error simply discards the batch
// without calling Commit.
type Batch struct {
	db      Database
	puts    map[string][]byte
	deletes map[string]struct{}
	order   []string
}

// NewBatch starts a batch bound to db. Reads issued through the batch see
// its own uncommitted writes layered over db, so callers can read-modify-
// write within one operation without committing intermediate state.
func NewBatch(db Database) *Batch {
	return &Batch{
		db:      db,
		puts:    make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// Get returns the most recent value for key, preferring the batch's own
// uncommitted writes over the underlying database.
func (b *Batch) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, deleted := b.deletes[k]; deleted {
		return nil, ErrNotFound
	}
	if v, ok := b.puts[k]; ok {
		return append([]byte(nil), v...), nil
	}
	return b.db.Get(key)
}

// Put stages a write. It never fails; the error return exists so Batch
// satisfies the same Get/Put/Delete shape every component's store adapter
// expects from its backing kv, whether that backing is a Batch or a
// Database.
func (b *Batch) Put(key, value []byte) error {
	k := string(key)
	if _, exists := b.puts[k]; !exists {
		if _, wasDeleted := b.deletes[k]; !wasDeleted {
			b.order = append(b.order, k)
		}
	}
	delete(b.deletes, k)
	b.puts[k] = append([]byte(nil), value...)
	return nil
}

// Delete stages a deletion.
func (b *Batch) Delete(key []byte) error {
	k := string(key)
	if _, exists := b.deletes[k]; !exists {
		if _, wasPut := b.puts[k]; !wasPut {
			b.order = append(b.order, k)
		}
	}
	delete(b.puts, k)
	b.deletes[k] = struct{}{}
	return nil
}

// Iterate layers the batch's staged writes over the underlying database for
// the given prefix: keys from the database come first (with staged values
// and deletes applied), then keys staged only in the batch, in sorted order.
func (b *Batch) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	seen := make(map[string]bool)
	stop := false
	err := b.db.Iterate(prefix, func(key, value []byte) bool {
		k := string(key)
		seen[k] = true
		if _, deleted := b.deletes[k]; deleted {
			return true
		}
		if v, ok := b.puts[k]; ok {
			value = v
		}
		if !fn(key, value) {
			stop = true
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if stop {
		return nil
	}
	var extra []string
	for k := range b.puts {
		if seen[k] {
			continue
		}
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		if !fn([]byte(k), b.puts[k]) {
			return nil
		}
	}
	return nil
}

// Commit applies every staged write to the underlying database in the order
// each key was first touched. Commit is the only place a batch's effects
// become visible outside the call that built it.
func (b *Batch) Commit() error {
	for _, k := range b.order {
		key := []byte(k)
		if _, deleted := b.deletes[k]; deleted {
			if err := b.db.Delete(key); err != nil {
				return err
			}
			continue
		}
		if v, ok := b.puts[k]; ok {
			if err := b.db.Put(key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// MemDB is an in-memory Database used by unit tests and the scenario suite.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDB constructs an empty in-memory store.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		m.mu.RLock()
		v, ok := m.data[k]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if !fn([]byte(k), v) {
			break
		}
	}
	return nil
}

func (m *MemDB) Close() error { return nil }
