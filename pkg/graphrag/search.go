// Package graphrag ranks entities by combining vector similarity with graph
// proximity.
//
// Seeds come from the vector index (and optionally the full-text index). Each
// seed is expanded breadth-first up to MaxDepth hops and every reached entity
// is scored
//
//	score = SemanticWeight*similarity + StructuralWeight*Decay^depth
//
// where similarity is the entity's own similarity to the query vector when it
// has an embedding, otherwise the similarity of the seed it was reached from.
// Each entity keeps its best score across all seeds together with the path
// that produced it.
//
// Example:
//
//	results, err := graphrag.Search(ctx, graphrag.Sources{
//		Graph:    g,
//		Vectors:  idx,
//		VectorOf: vectorOf,
//	}, graphrag.Query{Vector: q}, graphrag.DefaultOptions())
package graphrag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
	"github.com/endomorphosis/ipfskg/pkg/textindex"
	"github.com/endomorphosis/ipfskg/pkg/vectorindex"
)

// MetadataEntityID is the vector metadata key holding the entity ID.
const MetadataEntityID = "entity_id"

// MetadataEntityType is the vector metadata key holding the entity type.
const MetadataEntityType = "entity_type"

const weightTolerance = 1e-6

var (
	ErrInvalidWeights = fmt.Errorf("%w: semantic and structural weights must be non-negative and sum to 1", kgerrors.ErrValidation)
	ErrInvalidDecay   = fmt.Errorf("%w: decay must be in (0, 1]", kgerrors.ErrValidation)
	ErrNoSources      = fmt.Errorf("%w: graph is required", kgerrors.ErrValidation)
)

// Seed origins.
const (
	SeedVector = "vector"
	SeedText   = "text"
)

// Sources are the read views a search runs over. Vectors and Text are
// optional.
type Sources struct {
	Graph   *graph.Graph
	Vectors *vectorindex.Index
	// VectorOf maps an entity to its stored vector. Entities it does not
	// know inherit their seed's similarity.
	VectorOf func(graph.EntityID) (vectorindex.ID, bool)
	Text     *textindex.Index
}

// Query is what to search for. Either field may be empty.
type Query struct {
	Vector []float32
	Text   string
	// EntityType restricts seeds to one entity type. Entities reached by
	// expansion are not filtered.
	EntityType string
}

// Options tunes a search. Start from DefaultOptions.
type Options struct {
	// TopK is the number of seeds taken from each index.
	TopK int
	// MinSimilarity drops seeds scoring below it.
	MinSimilarity float64
	// MaxDepth bounds expansion around each seed. Zero returns seeds only.
	MaxDepth         int
	SemanticWeight   float64
	StructuralWeight float64
	// Decay is the per-hop factor of the structural score.
	Decay      float64
	MaxResults int
	// EdgeType restricts expansion to one relationship type.
	EdgeType string
	// Direction of expansion; defaults to Both.
	Direction graph.Direction
	Logger    *slog.Logger
}

// DefaultOptions returns the standard search settings.
func DefaultOptions() Options {
	return Options{
		TopK:             5,
		MinSimilarity:    0.5,
		MaxDepth:         2,
		SemanticWeight:   0.6,
		StructuralWeight: 0.4,
		Decay:            0.5,
		MaxResults:       20,
		Direction:        graph.Both,
	}
}

// Result is one ranked entity.
type Result struct {
	Entity     *graph.Entity
	Score      float64
	Similarity float64
	PathScore  float64
	Depth      int
	// SeedID is the seed the best score was reached from.
	SeedID graph.EntityID
	// SeedSource is SeedVector or SeedText.
	SeedSource string
	// Path runs from SeedID to the entity inclusive.
	Path          []graph.EntityID
	Relationships []graph.RelationshipID
}

type seed struct {
	id         graph.EntityID
	similarity float64
	source     string
}

func (o Options) withDefaults() (Options, error) {
	d := DefaultOptions()
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.MaxResults <= 0 {
		o.MaxResults = d.MaxResults
	}
	if o.Decay == 0 {
		o.Decay = d.Decay
	}
	if o.SemanticWeight == 0 && o.StructuralWeight == 0 {
		o.SemanticWeight, o.StructuralWeight = d.SemanticWeight, d.StructuralWeight
	}
	if o.Direction == "" {
		o.Direction = graph.Both
	}
	if o.MaxDepth < 0 {
		o.MaxDepth = 0
	}
	if o.SemanticWeight < 0 || o.StructuralWeight < 0 ||
		math.Abs(o.SemanticWeight+o.StructuralWeight-1) > weightTolerance {
		return o, fmt.Errorf("%w: got %g + %g", ErrInvalidWeights, o.SemanticWeight, o.StructuralWeight)
	}
	if o.Decay <= 0 || o.Decay > 1 {
		return o, fmt.Errorf("%w: got %g", ErrInvalidDecay, o.Decay)
	}
	if _, err := graph.ParseDirection(string(o.Direction)); err != nil {
		return o, err
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o, nil
}

// Search runs a hybrid search. Results are sorted by score, best first, with
// ties in entity insertion order, and truncated to MaxResults.
func Search(ctx context.Context, src Sources, q Query, opts Options) ([]Result, error) {
	if src.Graph == nil {
		return nil, ErrNoSources
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	sims := newSimilarityCache(src, q.Vector)
	seeds, err := collectSeeds(ctx, src, q, opts, sims)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("graphrag seeds", "count", len(seeds), "text", q.Text != "", "vector", len(q.Vector) > 0)
	if len(seeds) == 0 {
		return []Result{}, nil
	}

	best := make(map[graph.EntityID]*Result)
	consider := func(s seed, id graph.EntityID, depth int, path []graph.EntityID, rels []graph.RelationshipID) {
		sim, ok := sims.get(id)
		if !ok {
			sim = s.similarity
		}
		pathScore := math.Pow(opts.Decay, float64(depth))
		score := opts.SemanticWeight*sim + opts.StructuralWeight*pathScore
		if cur, seen := best[id]; seen && cur.Score >= score {
			return
		}
		best[id] = &Result{
			Score:         score,
			Similarity:    sim,
			PathScore:     pathScore,
			Depth:         depth,
			SeedID:        s.id,
			SeedSource:    s.source,
			Path:          path,
			Relationships: rels,
		}
	}

	for _, s := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		consider(s, s.id, 0, []graph.EntityID{s.id}, []graph.RelationshipID{})
		hops, err := src.Graph.TraverseWithDepth(s.id, graph.TraverseOptions{
			EdgeType:  opts.EdgeType,
			Direction: opts.Direction,
			MaxDepth:  opts.MaxDepth,
		})
		if err != nil {
			return nil, fmt.Errorf("expand seed %s: %w", s.id, err)
		}
		for _, h := range hops {
			consider(s, h.ID, h.Depth, h.Path, h.Relationships)
		}
	}

	order := make(map[graph.EntityID]int, src.Graph.EntityCount())
	for i, id := range src.Graph.EntityIDs() {
		order[id] = i
	}
	results := make([]Result, 0, len(best))
	for id, r := range best {
		e, err := src.Graph.Entity(id)
		if err != nil {
			continue
		}
		r.Entity = e
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return order[results[i].Entity.ID] < order[results[j].Entity.ID]
	})
	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results, nil
}

// collectSeeds returns vector seeds followed by text seeds not already
// seeded, each group in rank order.
func collectSeeds(ctx context.Context, src Sources, q Query, opts Options, sims *similarityCache) ([]seed, error) {
	var seeds []seed
	seen := make(map[graph.EntityID]int)
	add := func(s seed) {
		if s.similarity < opts.MinSimilarity || !src.Graph.HasEntity(s.id) {
			return
		}
		if i, dup := seen[s.id]; dup {
			seeds[i].similarity = max(seeds[i].similarity, s.similarity)
			return
		}
		seen[s.id] = len(seeds)
		seeds = append(seeds, s)
	}

	if len(q.Vector) > 0 && src.Vectors != nil {
		var filter vectorindex.Filter
		if q.EntityType != "" {
			filter = func(m vectorindex.Metadata) bool { return m[MetadataEntityType] == q.EntityType }
		}
		hits, err := src.Vectors.Search(ctx, q.Vector, opts.TopK, filter)
		if err != nil {
			return nil, fmt.Errorf("vector seeds: %w", err)
		}
		sims.calibrate(hits)
		for _, h := range hits {
			id, ok := h.Metadata[MetadataEntityID].(string)
			if !ok {
				continue
			}
			add(seed{id: graph.EntityID(id), similarity: h.Score, source: SeedVector})
		}
	}

	if q.Text != "" && src.Text != nil {
		hits, err := src.Text.Search(ctx, q.Text, opts.TopK, q.EntityType)
		if err != nil {
			return nil, fmt.Errorf("text seeds: %w", err)
		}
		for _, h := range hits {
			add(seed{id: h.ID, similarity: h.Score, source: SeedText})
		}
	}
	return seeds, nil
}

// similarityCache memoises per-entity query similarity. Cosine and inner
// product indexes use Index.Similarity. For l2 every entity is scored
// 1 - d/max_d against the farthest vector seed hit, clamped at zero, so an
// entity's similarity equals its vector seed score when it is one.
type similarityCache struct {
	src     Sources
	query   []float32
	l2      bool
	maxDist float64
	cache   map[graph.EntityID]float64
	miss    map[graph.EntityID]struct{}
}

func newSimilarityCache(src Sources, query []float32) *similarityCache {
	return &similarityCache{
		src:   src,
		query: query,
		l2:    src.Vectors != nil && src.Vectors.Metric() == vectorindex.MetricL2,
		cache: make(map[graph.EntityID]float64),
		miss:  make(map[graph.EntityID]struct{}),
	}
}

// calibrate records the l2 scale of a vector seed search.
func (c *similarityCache) calibrate(hits []vectorindex.Result) {
	if !c.l2 {
		return
	}
	for _, h := range hits {
		if d, err := c.src.Vectors.Distance(h.ID, c.query); err == nil {
			c.maxDist = max(c.maxDist, d)
		}
	}
}

func (c *similarityCache) get(id graph.EntityID) (float64, bool) {
	if len(c.query) == 0 || c.src.Vectors == nil || c.src.VectorOf == nil {
		return 0, false
	}
	if s, ok := c.cache[id]; ok {
		return s, true
	}
	if _, ok := c.miss[id]; ok {
		return 0, false
	}
	vid, ok := c.src.VectorOf(id)
	if !ok {
		c.miss[id] = struct{}{}
		return 0, false
	}
	s, err := c.similarity(vid)
	if err != nil {
		c.miss[id] = struct{}{}
		return 0, false
	}
	c.cache[id] = s
	return s, true
}

func (c *similarityCache) similarity(vid vectorindex.ID) (float64, error) {
	if !c.l2 {
		return c.src.Vectors.Similarity(vid, c.query)
	}
	d, err := c.src.Vectors.Distance(vid, c.query)
	if err != nil {
		return 0, err
	}
	switch {
	case c.maxDist > 0:
		return max(0, 1-d/c.maxDist), nil
	case d == 0:
		return 1, nil
	}
	return 0, nil
}
