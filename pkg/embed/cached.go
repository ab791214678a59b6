package embed

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder wraps an Embedder with an LRU cache keyed by an FNV-1a
// hash of the input text.
//
// Thread-safe: All methods can be called from multiple goroutines.
type CachedEmbedder struct {
	base  Embedder
	cache *lru.Cache[string, []float32]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedEmbedder wraps base with a cache of maxSize embeddings
// (0 = 10000).
func NewCachedEmbedder(base Embedder, maxSize int) *CachedEmbedder {
	if maxSize <= 0 {
		maxSize = 10000
	}
	cache, _ := lru.New[string, []float32](maxSize)
	return &CachedEmbedder{base: base, cache: cache}
}

// Embed returns a cached embedding or computes and caches a new one. Errors
// are not cached. Callers receive their own copy.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return append([]float32(nil), vec...), nil
	}
	c.misses.Add(1)

	vec, err := c.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]float32(nil), vec...))
	return vec, nil
}

// Dimensions delegates to the wrapped embedder.
func (c *CachedEmbedder) Dimensions() int { return c.base.Dimensions() }

// Stats returns cache hits, misses and current size.
func (c *CachedEmbedder) Stats() (hits, misses uint64, size int) {
	return c.hits.Load(), c.misses.Load(), c.cache.Len()
}

// ClearCache drops every cached embedding.
func (c *CachedEmbedder) ClearCache() {
	c.cache.Purge()
}

func cacheKey(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return strconv.FormatUint(h.Sum64(), 16)
}
