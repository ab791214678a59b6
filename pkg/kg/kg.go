// Package kg is the persistent, content-addressed knowledge graph.
//
// Every entity and relationship is written to the block store as an
// immutable JSON block. A root block lists them and is recomputed after each
// write (or on Commit when DeferCommit is set), so a single CID identifies a
// complete graph version:
//
//	{"type":"knowledge_graph","name":...,"entity_count":...,
//	 "entity_ids":[...],"entity_cids":{...},
//	 "relationship_ids":[...],"relationship_cids":{...}, ...}
//
// Index fields that grow past ChunkThreshold are spilled into separate
// blocks and replaced by {"_cid":...,"_chunked":true}.
//
// Alongside the blocks, a KnowledgeGraph keeps the in-memory graph, a vector
// index over entity embeddings and a full-text index, and exposes the query
// algorithms over them.
//
// Example Usage:
//
//	store, _ := blockstore.Open(blockstore.Options{})
//	g, _ := kg.New(store, kg.Options{Name: "research"})
//
//	ada, _ := g.AddEntity(ctx, kg.EntityInput{Type: "person", Name: "Ada Lovelace", Confidence: 1})
//	engine, _ := g.AddEntity(ctx, kg.EntityInput{Type: "machine", Name: "Analytical Engine", Confidence: 1})
//	_, _ = g.AddRelationship(ctx, kg.RelationshipInput{
//		Type: "worked_on", SourceID: ada.ID, TargetID: engine.ID, Confidence: 0.9,
//	})
//
//	root := g.RootCID()
//	again, _ := kg.FromCID(ctx, store, root, kg.Options{})
package kg

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/endomorphosis/ipfskg/pkg/blockstore"
	"github.com/endomorphosis/ipfskg/pkg/cache"
	"github.com/endomorphosis/ipfskg/pkg/embed"
	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/graphrag"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
	"github.com/endomorphosis/ipfskg/pkg/math/vector"
	"github.com/endomorphosis/ipfskg/pkg/textindex"
	"github.com/endomorphosis/ipfskg/pkg/vectorindex"
)

// DefaultChunkThreshold is the serialised size above which a root index field
// is moved to its own blocks.
const DefaultChunkThreshold = 800 << 10

// DefaultName is the graph name used when none is given.
const DefaultName = "knowledge_graph"

var (
	ErrInvalidOptions = fmt.Errorf("%w: invalid knowledge graph options", kgerrors.ErrValidation)
	ErrNotGraphRoot   = fmt.Errorf("%w: block is not a knowledge graph root", kgerrors.ErrCorruptBlock)
	ErrEntryTooLarge  = fmt.Errorf("%w: index entry larger than chunk threshold", kgerrors.ErrCapacityExceeded)
	ErrNoRoots        = fmt.Errorf("%w: CAR archive has no roots", kgerrors.ErrCorruptBlock)
)

// Options configures a KnowledgeGraph.
type Options struct {
	// Name is stored in the root. Defaults to DefaultName; FromCID uses the
	// stored name.
	Name string

	// ChunkThreshold defaults to DefaultChunkThreshold and may not exceed the
	// store's max block size.
	ChunkThreshold int

	// DeferCommit stops per-write root recomputation; call Commit.
	DeferCommit bool

	// DisableTextIndex skips the full-text index.
	DisableTextIndex bool

	// Vector configures the embedding index. A zero Dimension takes the
	// length of the first embedding added.
	Vector vectorindex.Options

	// Embedder, when set, embeds entities added without an embedding and
	// text-only search queries.
	Embedder embed.Embedder

	// SearchCacheSize bounds the number of cached Search results. Zero
	// disables the cache. SearchCacheTTL of 0 keeps entries until evicted.
	SearchCacheSize int
	SearchCacheTTL  time.Duration

	Logger *slog.Logger
}

// EntityInput describes an entity to add. An empty ID is generated.
type EntityInput struct {
	ID         graph.EntityID
	Type       string
	Name       string
	Properties graph.Properties
	Confidence float64
	SourceText string
	Embedding  []float32
}

// RelationshipInput describes a relationship to add. An empty ID is
// generated. Both endpoints must exist.
type RelationshipInput struct {
	ID         graph.RelationshipID
	Type       string
	SourceID   graph.EntityID
	TargetID   graph.EntityID
	Properties graph.Properties
	Confidence float64
	SourceText string
}

// KnowledgeGraph is a graph persisted in a block store.
//
// Mutations are serialised by an internal lock; reads may run concurrently
// with each other.
type KnowledgeGraph struct {
	mu sync.RWMutex

	store     *blockstore.Store
	name      string
	threshold int
	deferred  bool
	embedder  embed.Embedder
	vecOpts   vectorindex.Options
	logger    *slog.Logger

	g          *graph.Graph
	vectors    *vectorindex.Index
	vectorOf   map[graph.EntityID]vectorindex.ID
	embeddings map[graph.EntityID][]float32
	text       *textindex.Index
	results    *cache.Cache[[]graphrag.Result]

	entityCIDs map[graph.EntityID]cid.Cid
	relCIDs    map[graph.RelationshipID]cid.Cid

	root     cid.Cid
	rootAux  []cid.Cid
	dirty    bool
	batching int
	// gen counts in-memory mutations; cached search results carry it in
	// their key.
	gen uint64
}

// New creates an empty knowledge graph over store. No block is written until
// the first mutation or Commit, so RootCID is undefined until then.
func New(store *blockstore.Store, opts Options) (*KnowledgeGraph, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil block store", ErrInvalidOptions)
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.ChunkThreshold == 0 {
		opts.ChunkThreshold = DefaultChunkThreshold
	}
	if opts.ChunkThreshold < 0 || opts.ChunkThreshold > store.MaxBlockSize() {
		return nil, fmt.Errorf("%w: chunk threshold %d must be in (0, %d]",
			ErrInvalidOptions, opts.ChunkThreshold, store.MaxBlockSize())
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Vector.Logger == nil {
		opts.Vector.Logger = opts.Logger
	}

	k := &KnowledgeGraph{
		store:      store,
		name:       opts.Name,
		threshold:  opts.ChunkThreshold,
		deferred:   opts.DeferCommit,
		embedder:   opts.Embedder,
		vecOpts:    opts.Vector,
		logger:     opts.Logger.With("graph", opts.Name),
		g:          graph.New(),
		vectorOf:   make(map[graph.EntityID]vectorindex.ID),
		embeddings: make(map[graph.EntityID][]float32),
		entityCIDs: make(map[graph.EntityID]cid.Cid),
		relCIDs:    make(map[graph.RelationshipID]cid.Cid),
		dirty:      true,
	}
	if opts.Vector.Dimension > 0 {
		idx, err := vectorindex.New(opts.Vector)
		if err != nil {
			return nil, err
		}
		k.vectors = idx
	}
	if opts.SearchCacheSize > 0 {
		k.results = cache.New[[]graphrag.Result](opts.SearchCacheSize, opts.SearchCacheTTL)
	}
	if !opts.DisableTextIndex {
		text, err := textindex.New()
		if err != nil {
			return nil, err
		}
		k.text = text
	}
	return k, nil
}

// Name returns the graph name.
func (k *KnowledgeGraph) Name() string { return k.name }

// Store returns the underlying block store.
func (k *KnowledgeGraph) Store() *blockstore.Store { return k.store }

// Graph returns the in-memory graph. It is a read view: mutating it directly
// bypasses persistence.
func (k *KnowledgeGraph) Graph() *graph.Graph { return k.g }

// Vectors returns the embedding index, or nil if no embedding was added and
// no dimension was configured.
func (k *KnowledgeGraph) Vectors() *vectorindex.Index {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.vectors
}

// TextIndex returns the full-text index, or nil if disabled.
func (k *KnowledgeGraph) TextIndex() *textindex.Index { return k.text }

// RootCID returns the last committed root.
func (k *KnowledgeGraph) RootCID() cid.Cid {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.root
}

// Dirty reports whether mutations are waiting for Commit.
func (k *KnowledgeGraph) Dirty() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.dirty
}

// Entity returns a copy of an entity.
func (k *KnowledgeGraph) Entity(id graph.EntityID) (*graph.Entity, error) {
	return k.g.Entity(id)
}

// Relationship returns a copy of a relationship.
func (k *KnowledgeGraph) Relationship(id graph.RelationshipID) (*graph.Relationship, error) {
	return k.g.Relationship(id)
}

// EntityCID returns the block holding the current version of an entity.
func (k *KnowledgeGraph) EntityCID(id graph.EntityID) (cid.Cid, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	c, ok := k.entityCIDs[id]
	return c, ok
}

// RelationshipCID returns the block holding a relationship.
func (k *KnowledgeGraph) RelationshipCID(id graph.RelationshipID) (cid.Cid, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	c, ok := k.relCIDs[id]
	return c, ok
}

// Embedding returns a copy of the embedding stored with an entity.
func (k *KnowledgeGraph) Embedding(id graph.EntityID) ([]float32, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	e, ok := k.embeddings[id]
	if !ok {
		return nil, false
	}
	return vector.Copy(e), true
}

// Embeddings returns a copy of every stored embedding.
func (k *KnowledgeGraph) Embeddings() map[graph.EntityID][]float32 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.embeddingsLocked()
}

func (k *KnowledgeGraph) embeddingsLocked() map[graph.EntityID][]float32 {
	out := maps.Clone(k.embeddings)
	for id, e := range out {
		out[id] = vector.Copy(e)
	}
	return out
}

// Stats returns entity and relationship counts by type.
func (k *KnowledgeGraph) Stats() graph.Stats { return k.g.Stats() }

// SearchCacheStats reports the search result cache, or zero stats when the
// cache is disabled.
func (k *KnowledgeGraph) SearchCacheStats() cache.Stats {
	if k.results == nil {
		return cache.Stats{}
	}
	return k.results.Stats()
}

// Close releases the in-memory indexes. The block store is left open.
func (k *KnowledgeGraph) Close() error {
	if k.text != nil {
		return k.text.Close()
	}
	return nil
}
