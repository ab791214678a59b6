package blockstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
)

// Backend is the local, authoritative block storage used by Store.
//
// Implementations only move bytes; hashing, verification and the daemon
// fallback live in Store. Get returns ErrNotFound for unknown CIDs. Put of an
// existing CID is a no-op.
type Backend interface {
	Has(ctx context.Context, c cid.Cid) (bool, error)
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
	Put(ctx context.Context, c cid.Cid, data []byte) error
	// Len returns the number of distinct blocks held.
	Len() int
	// ForEach calls fn for every stored CID in unspecified order.
	ForEach(ctx context.Context, fn func(cid.Cid) error) error
	Close() error
}

// MemoryBackend keeps blocks in a map. Thread-safe.
type MemoryBackend struct {
	mu     sync.RWMutex
	blocks map[string][]byte
	closed bool
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blocks: make(map[string][]byte)}
}

// Has reports whether c is stored.
func (m *MemoryBackend) Has(_ context.Context, c cid.Cid) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.blocks[c.KeyString()]
	return ok, nil
}

// Get returns a copy of the bytes stored under c.
func (m *MemoryBackend) Get(_ context.Context, c cid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.blocks[c.KeyString()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put stores a copy of data under c.
func (m *MemoryBackend) Put(_ context.Context, c cid.Cid, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	key := c.KeyString()
	if _, ok := m.blocks[key]; ok {
		return nil
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.blocks[key] = stored
	return nil
}

// Len returns the number of blocks.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// ForEach visits every stored CID.
func (m *MemoryBackend) ForEach(ctx context.Context, fn func(cid.Cid) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.blocks))
	for k := range m.blocks {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := cid.Cast([]byte(k))
		if err != nil {
			return fmt.Errorf("%w: stored key: %v", ErrCorruptBlock, err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the map.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.blocks = nil
	return nil
}
