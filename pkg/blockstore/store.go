// Package blockstore provides content-addressed block storage for ipfskg.
//
// Every payload is stored under a CID derived from its bytes, so identical
// payloads deduplicate and identifiers never change. A local Backend (memory
// or badger) is authoritative; an optional Daemon is used best-effort and is
// switched off on its first failure until Connect is called again.
//
// Example Usage:
//
//	store, err := blockstore.Open(blockstore.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	c, _ := store.Put(ctx, []byte("hello"))
//	data, _ := store.Get(ctx, c)
//
//	// Structured values
//	root, _ := store.PutJSON(ctx, map[string]any{"name": "Ada"})
//
//	// Portable archives
//	_, _ = store.ExportCAR(ctx, []cid.Cid{root}, "graph.car")
package blockstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ipfs/go-cid"
)

// DefaultMaxBlockSize is the largest block the store accepts by default.
const DefaultMaxBlockSize = 1 << 20

// Options configures a Store.
type Options struct {
	// Backend is the local block storage. Nil selects a MemoryBackend.
	Backend Backend

	// Daemon is an optional remote block service. Nil means local-only.
	Daemon Daemon

	// Hasher selects the digest. Zero value means SHA256.
	Hasher Hasher

	// MaxBlockSize bounds a single stored block. 0 means DefaultMaxBlockSize.
	MaxBlockSize int

	// Workers bounds PutBatch/GetBatch parallelism. 0 means 8.
	Workers int

	// ChunkSize is the leaf size used by StoreReader. 0 means 256 KiB.
	ChunkSize int

	// Logger receives daemon degradation warnings. Nil discards.
	Logger *slog.Logger
}

// Store is a content-addressed block store.
//
// Store is safe for concurrent use. Blocks are never modified or deleted.
type Store struct {
	local   Backend
	hasher  Hasher
	maxSize int
	workers int
	chunk   int
	logger  *slog.Logger

	mu     sync.RWMutex
	daemon Daemon
	online bool
}

// Open creates a Store from opts.
func Open(opts Options) (*Store, error) {
	if opts.Backend == nil {
		opts.Backend = NewMemoryBackend()
	}
	if opts.Hasher.code == 0 {
		opts.Hasher = SHA256
	}
	if opts.MaxBlockSize <= 0 {
		opts.MaxBlockSize = DefaultMaxBlockSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 256 << 10
	}
	if opts.ChunkSize > opts.MaxBlockSize {
		return nil, fmt.Errorf("%w: chunk size %d above max block size %d", ErrBlockTooLarge, opts.ChunkSize, opts.MaxBlockSize)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		local:   opts.Backend,
		hasher:  opts.Hasher,
		maxSize: opts.MaxBlockSize,
		workers: opts.Workers,
		chunk:   opts.ChunkSize,
		logger:  opts.Logger,
		daemon:  opts.Daemon,
		online:  opts.Daemon != nil,
	}, nil
}

// MaxBlockSize returns the largest block the store accepts.
func (s *Store) MaxBlockSize() int { return s.maxSize }

// Hasher returns the hasher used for new blocks.
func (s *Store) Hasher() Hasher { return s.hasher }

// Put stores payload as a raw block, or as a dag-pb node when links are
// given, and returns its CID.
func (s *Store) Put(ctx context.Context, payload []byte, links ...Link) (cid.Cid, error) {
	return s.put(ctx, CodecRaw, payload, links)
}

// PutWithCodec stores a leaf payload under an explicit codec.
func (s *Store) PutWithCodec(ctx context.Context, codec uint64, payload []byte) (cid.Cid, error) {
	return s.put(ctx, codec, payload, nil)
}

func (s *Store) put(ctx context.Context, codec uint64, payload []byte, links []Link) (cid.Cid, error) {
	blk, err := encodeBlock(s.hasher, codec, payload, links)
	if err != nil {
		return cid.Undef, err
	}
	if err := s.putBlock(ctx, blk); err != nil {
		return cid.Undef, err
	}
	return blk.CID, nil
}

// putBlock writes an encoded block locally and mirrors it to the daemon.
func (s *Store) putBlock(ctx context.Context, blk Block) error {
	if len(blk.Data) > s.maxSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrBlockTooLarge, len(blk.Data), s.maxSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.local.Put(ctx, blk.CID, blk.Data); err != nil {
		return err
	}
	if d := s.activeDaemon(); d != nil {
		if _, err := d.BlockPut(ctx, blk.Data, blk.CID.Type()); err != nil {
			s.degrade("block put", blk.CID, err)
		}
	}
	return nil
}

// Get returns the payload stored under c. For dag-pb blocks that is the
// node's data field; use GetBlock for the encoded form and links.
func (s *Store) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	blk, err := s.GetBlock(ctx, c)
	if err != nil {
		return nil, err
	}
	return blk.Payload()
}

// GetBlock returns the stored block with its decoded links.
func (s *Store) GetBlock(ctx context.Context, c cid.Cid) (Block, error) {
	data, err := s.getRaw(ctx, c)
	if err != nil {
		return Block{}, err
	}
	links, err := decodeLinks(c, data)
	if err != nil {
		return Block{}, err
	}
	return Block{CID: c, Data: data, Links: links}, nil
}

// getRaw reads the stored bytes, falling back to the daemon.
func (s *Store) getRaw(ctx context.Context, c cid.Cid) ([]byte, error) {
	if !c.Defined() {
		return nil, fmt.Errorf("%w: undefined", ErrInvalidCID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.local.Get(ctx, c)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	d := s.activeDaemon()
	if d == nil {
		return nil, err
	}
	data, derr := d.BlockGet(ctx, c)
	if derr != nil {
		s.degrade("block get", c, derr)
		return nil, err
	}
	if verr := Verify(c, data); verr != nil {
		return nil, verr
	}
	if perr := s.local.Put(ctx, c, data); perr != nil {
		return nil, perr
	}
	return data, nil
}

// Has reports whether c is held locally.
func (s *Store) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return s.local.Has(ctx, c)
}

// Links returns the links of the block at c (nil for leaf blocks).
func (s *Store) Links(ctx context.Context, c cid.Cid) ([]Link, error) {
	blk, err := s.GetBlock(ctx, c)
	if err != nil {
		return nil, err
	}
	return blk.Links, nil
}

// Len returns the number of distinct blocks held locally.
func (s *Store) Len() int {
	return s.local.Len()
}

// PutJSON stores the JSON encoding of v under the dag-json codec.
func (s *Store) PutJSON(ctx context.Context, v any) (cid.Cid, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return cid.Undef, fmt.Errorf("encode json block: %w", err)
	}
	return s.put(ctx, CodecDagJSON, data, nil)
}

// GetJSON decodes the block at c into v.
func (s *Store) GetJSON(ctx context.Context, c cid.Cid, v any) error {
	data, err := s.Get(ctx, c)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s is not valid JSON for %T: %v", ErrCorruptBlock, c, v, err)
	}
	return nil
}

// Connect attaches (or re-attaches) a daemon and enables it.
func (s *Store) Connect(d Daemon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d != nil {
		s.daemon = d
	}
	s.online = s.daemon != nil
	if s.online {
		s.logger.Info("block store daemon connected")
	}
}

// Disconnect switches the store to local-only mode.
func (s *Store) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = false
}

// Online reports whether the daemon is currently in use.
func (s *Store) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Close closes the local backend.
func (s *Store) Close() error {
	return s.local.Close()
}

func (s *Store) activeDaemon() Daemon {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.online {
		return nil
	}
	return s.daemon
}

// degrade disables the daemon after a failure. Only the first failure is
// logged; concurrent failures find the store already offline.
func (s *Store) degrade(op string, c cid.Cid, err error) {
	s.mu.Lock()
	wasOnline := s.online
	s.online = false
	s.mu.Unlock()
	if wasOnline {
		s.logger.Warn("block store daemon unavailable, continuing local-only",
			"op", op, "cid", c.String(), "error", err)
	}
}
