package blockstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"
)

var blockPrefix = []byte("b/")

// Value encodings stored as the first byte of every badger value.
const (
	encodingRaw  byte = 0
	encodingZstd byte = 1
)

// BadgerOptions configures a BadgerBackend.
type BadgerOptions struct {
	// DataDir is the directory for badger's files. Required unless InMemory.
	DataDir string

	// InMemory runs badger without touching disk. Useful for tests.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Compression stores values zstd-compressed. Blocks written either way
	// remain readable when the setting changes.
	Compression bool

	// CacheSize is the number of decoded blocks kept in memory. 0 disables
	// the cache.
	CacheSize int
}

// BadgerBackend stores blocks in badger, keyed by CID bytes.
type BadgerBackend struct {
	db    *badger.DB
	cache *lru.Cache[string, []byte]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
	count atomic.Int64
	opts  BadgerOptions
}

// NewBadgerBackend opens (or creates) a badger-backed block backend.
func NewBadgerBackend(opts BadgerOptions) (*BadgerBackend, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	b := &BadgerBackend{db: db, opts: opts}
	if opts.CacheSize > 0 {
		b.cache, err = lru.New[string, []byte](opts.CacheSize)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create block cache: %w", err)
		}
	}
	if b.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	if b.dec, err = zstd.NewReader(nil); err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	n, err := b.countKeys()
	if err != nil {
		b.Close()
		return nil, err
	}
	b.count.Store(int64(n))
	return b, nil
}

func blockKey(c cid.Cid) []byte {
	return append(append([]byte{}, blockPrefix...), c.Bytes()...)
}

// Has reports whether c is stored.
func (b *BadgerBackend) Has(_ context.Context, c cid.Cid) (bool, error) {
	if b.cache != nil && b.cache.Contains(c.KeyString()) {
		return true, nil
	}
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blockKey(c))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger has %s: %w", c, err)
	}
	return true, nil
}

// Get returns the bytes stored under c.
func (b *BadgerBackend) Get(_ context.Context, c cid.Cid) ([]byte, error) {
	if b.cache != nil {
		if data, ok := b.cache.Get(c.KeyString()); ok {
			return append([]byte(nil), data...), nil
		}
	}

	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(c))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", c, err)
	}

	data, err := b.decodeValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptBlock, c, err)
	}
	if b.cache != nil {
		b.cache.Add(c.KeyString(), data)
	}
	return append([]byte(nil), data...), nil
}

// Put stores data under c unless it is already present.
func (b *BadgerBackend) Put(_ context.Context, c cid.Cid, data []byte) error {
	key := blockKey(c)
	value := b.encodeValue(data)
	added := false
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		added = true
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badger put %s: %w", c, err)
	}
	if added {
		b.count.Add(1)
	}
	if b.cache != nil {
		b.cache.Add(c.KeyString(), append([]byte(nil), data...))
	}
	return nil
}

// Len returns the number of stored blocks.
func (b *BadgerBackend) Len() int {
	return int(b.count.Load())
}

// ForEach visits every stored CID.
func (b *BadgerBackend) ForEach(ctx context.Context, fn func(cid.Cid) error) error {
	var keys []cid.Cid
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: blockPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			c, err := cid.Cast(k[len(blockPrefix):])
			if err != nil {
				return fmt.Errorf("%w: stored key: %v", ErrCorruptBlock, err)
			}
			keys = append(keys, c)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, c := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// Close closes badger and the codec state.
func (b *BadgerBackend) Close() error {
	if b.enc != nil {
		b.enc.Close()
	}
	if b.dec != nil {
		b.dec.Close()
	}
	return b.db.Close()
}

func (b *BadgerBackend) countKeys() (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: blockPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count blocks: %w", err)
	}
	return n, nil
}

func (b *BadgerBackend) encodeValue(data []byte) []byte {
	if !b.opts.Compression {
		return append([]byte{encodingRaw}, data...)
	}
	out := make([]byte, 1, len(data)/2+16)
	out[0] = encodingZstd
	return b.enc.EncodeAll(data, out)
}

func (b *BadgerBackend) decodeValue(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	switch raw[0] {
	case encodingRaw:
		return raw[1:], nil
	case encodingZstd:
		return b.dec.DecodeAll(raw[1:], nil)
	}
	return nil, fmt.Errorf("unknown value encoding %d", raw[0])
}
