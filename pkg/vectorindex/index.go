// Package vectorindex provides fixed-dimension embedding storage with
// nearest-neighbour search under cosine, L2 or inner-product metrics.
//
// Search runs on a Backend chosen at construction time. The BLAS backend
// scores every vector with one matrix-vector multiply; the brute-force
// backend loops in float64. Both are exact, and ranking is done in one place,
// so they return the same results up to floating-point rounding.
//
// Example Usage:
//
//	idx, err := vectorindex.New(vectorindex.Options{Dimension: 384})
//	ids, err := idx.Add(embeddings, metas)
//	results, err := idx.Search(ctx, query, 10, func(m vectorindex.Metadata) bool {
//		return m["entity_type"] == "person"
//	})
package vectorindex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
	"github.com/endomorphosis/ipfskg/pkg/math/vector"
	"github.com/endomorphosis/ipfskg/pkg/pool"
)

var (
	ErrDimensionMismatch  = fmt.Errorf("%w: vector dimension mismatch", kgerrors.ErrValidation)
	ErrMetadataMismatch   = fmt.Errorf("%w: metadata count does not match vector count", kgerrors.ErrValidation)
	ErrInvalidDimension   = fmt.Errorf("%w: dimension must be positive", kgerrors.ErrValidation)
	ErrUnknownMetric      = fmt.Errorf("%w: unknown metric", kgerrors.ErrValidation)
	ErrUnknownBackend     = fmt.Errorf("%w: unknown vector backend", kgerrors.ErrValidation)
	ErrBackendUnavailable = fmt.Errorf("%w: vector backend unavailable", kgerrors.ErrValidation)
	ErrVectorNotFound     = fmt.Errorf("vector %w", kgerrors.ErrNotFound)
	ErrDuplicateID        = fmt.Errorf("%w: duplicate vector id", kgerrors.ErrValidation)
)

// ID identifies a stored vector. IDs are assigned sequentially and never
// reused within an index.
type ID int64

// Metadata is free-form data stored with a vector.
type Metadata map[string]any

// Filter selects which vectors a search may return.
type Filter func(Metadata) bool

// Metric selects how vectors are compared.
type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricL2           Metric = "l2"
	MetricInnerProduct Metric = "inner_product"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricCosine, MetricL2, MetricInnerProduct:
		return m, nil
	case "":
		return MetricCosine, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// Result is one search hit. Higher Score is better for every metric.
type Result struct {
	ID       ID
	Score    float64
	Metadata Metadata
}

// Options configures an Index.
type Options struct {
	Dimension int
	// Metric defaults to cosine.
	Metric Metric
	// Backend is "auto", "blas" or "bruteforce". Ignored when
	// CustomBackend is set.
	Backend       string
	CustomBackend Backend
	Logger        *slog.Logger
}

type entry struct {
	id   ID
	vec  []float32
	meta Metadata
}

// Index stores vectors with metadata. Thread-safe.
type Index struct {
	mu      sync.RWMutex
	dim     int
	metric  Metric
	backend Backend
	entries []entry
	pos     map[ID]int
	nextID  ID
	logger  *slog.Logger
}

// New creates an empty index.
func New(opts Options) (*Index, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, opts.Dimension)
	}
	metric, err := ParseMetric(string(opts.Metric))
	if err != nil {
		return nil, err
	}
	backend := opts.CustomBackend
	if backend == nil {
		if backend, err = NewBackend(opts.Backend); err != nil {
			return nil, err
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	backend.Reset(opts.Dimension)
	opts.Logger.Debug("vector index created",
		"dimension", opts.Dimension, "metric", metric, "backend", backend.Name())
	return &Index{
		dim:     opts.Dimension,
		metric:  metric,
		backend: backend,
		pos:     make(map[ID]int),
		logger:  opts.Logger,
	}, nil
}

// Dimension returns the vector dimension.
func (x *Index) Dimension() int { return x.dim }

// Metric returns the configured metric.
func (x *Index) Metric() Metric { return x.metric }

// BackendName returns the name of the active backend.
func (x *Index) BackendName() string { return x.backend.Name() }

// Len returns the number of stored vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Add stores vectors with optional per-vector metadata and returns their IDs
// in order. metas must be empty or match vecs in length. Any dimension
// mismatch rejects the whole call.
func (x *Index) Add(vecs [][]float32, metas []Metadata) ([]ID, error) {
	if len(metas) != 0 && len(metas) != len(vecs) {
		return nil, fmt.Errorf("%w: %d vectors, %d metadata", ErrMetadataMismatch, len(vecs), len(metas))
	}
	for i, v := range vecs {
		if len(v) != x.dim {
			return nil, fmt.Errorf("%w: vector %d has %d, want %d", ErrDimensionMismatch, i, len(v), x.dim)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	ids := make([]ID, len(vecs))
	for i, v := range vecs {
		stored := vector.Copy(v)
		if x.metric == MetricCosine {
			vector.NormalizeInPlace(stored)
		}
		var meta Metadata
		if len(metas) > 0 {
			meta = maps.Clone(metas[i])
		}
		id := x.nextID
		x.nextID++
		x.pos[id] = len(x.entries)
		x.entries = append(x.entries, entry{id: id, vec: stored, meta: meta})
		x.backend.Add(stored)
		ids[i] = id
	}
	return ids, nil
}

// Search returns up to k vectors closest to query that pass filter (nil
// passes everything), best first. Ties are broken by lower ID.
//
// Cosine and inner product scores are the dot product of the (normalised)
// vectors. L2 scores are 1 - d/max_d, where max_d is the largest distance in
// the returned set; if every distance is zero every score is 1.
func (x *Index) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(query), x.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	q := query
	if x.metric == MetricCosine {
		q = vector.Normalize(query)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	raw := pool.GetFloat64s(len(x.entries))
	defer pool.PutFloat64s(raw)
	x.backend.Raw(q, x.metric, raw)

	type scored struct {
		idx int
		raw float64
	}
	candidates := make([]scored, 0, len(x.entries))
	for i, e := range x.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if filter != nil && !filter(e.meta) {
			continue
		}
		candidates = append(candidates, scored{idx: i, raw: raw[i]})
	}

	lowerIsBetter := x.metric == MetricL2
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.raw != b.raw {
			if lowerIsBetter {
				return a.raw < b.raw
			}
			return a.raw > b.raw
		}
		return x.entries[a.idx].id < x.entries[b.idx].id
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	maxDist := 0.0
	if lowerIsBetter {
		for _, c := range candidates {
			maxDist = max(maxDist, c.raw)
		}
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		e := x.entries[c.idx]
		score := c.raw
		if lowerIsBetter {
			score = 1
			if maxDist > 0 {
				score = 1 - c.raw/maxDist
			}
		}
		results[i] = Result{ID: e.id, Score: score, Metadata: maps.Clone(e.meta)}
	}
	return results, nil
}

// Similarity returns the metric value between query and the stored vector
// id without ranking: the dot product for cosine and inner product, and
// 1/(1+d) for l2.
func (x *Index) Similarity(id ID, query []float32) (float64, error) {
	if len(query) != x.dim {
		return 0, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(query), x.dim)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.pos[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrVectorNotFound, id)
	}
	stored := x.entries[p].vec
	switch x.metric {
	case MetricCosine:
		return vector.CosineSimilarity(query, stored), nil
	case MetricL2:
		return vector.EuclideanSimilarity(query, stored), nil
	}
	return vector.DotProduct(query, stored), nil
}

// Distance returns the Euclidean distance between query and the stored
// vector id, computed the way Search ranks l2 indexes.
func (x *Index) Distance(id ID, query []float32) (float64, error) {
	if len(query) != x.dim {
		return 0, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(query), x.dim)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.pos[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrVectorNotFound, id)
	}
	return vector.Distance(query, x.entries[p].vec), nil
}

// Get returns a copy of the stored vector and its metadata. For cosine
// indexes the vector is the normalised form.
func (x *Index) Get(id ID) ([]float32, Metadata, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.pos[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrVectorNotFound, id)
	}
	e := x.entries[p]
	return vector.Copy(e.vec), maps.Clone(e.meta), nil
}

// UpdateMetadata replaces the metadata of id. Returns false if id is unknown.
func (x *Index) UpdateMetadata(id ID, meta Metadata) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	p, ok := x.pos[id]
	if !ok {
		return false
	}
	x.entries[p].meta = maps.Clone(meta)
	return true
}

// Delete removes the given IDs and rebuilds the backend before returning.
// Unknown IDs are ignored. Returns true if at least one vector was removed.
func (x *Index) Delete(ids ...ID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	drop := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := x.pos[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return false
	}

	kept := x.entries[:0]
	for _, e := range x.entries {
		if _, gone := drop[e.id]; !gone {
			kept = append(kept, e)
		}
	}
	clear(x.entries[len(kept):])
	x.entries = kept
	x.rebuildLocked()
	x.logger.Debug("vector index rebuilt", "deleted", len(drop), "remaining", len(x.entries))
	return true
}

// IDs returns every stored ID in insertion order.
func (x *Index) IDs() []ID {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]ID, len(x.entries))
	for i, e := range x.entries {
		ids[i] = e.id
	}
	return ids
}

func (x *Index) rebuildLocked() {
	x.backend.Reset(x.dim)
	x.pos = make(map[ID]int, len(x.entries))
	for i, e := range x.entries {
		x.pos[e.id] = i
		x.backend.Add(e.vec)
	}
}
