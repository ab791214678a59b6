// Package algo provides the graph algorithms used for knowledge graph
// queries: centrality, community detection and entity resolution.
//
// Every function is a pure read of a graph.Graph snapshot; nothing here
// mutates the graph. Long-running loops check their context once per
// iteration and return ctx.Err() when cancelled.
package algo

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
	"github.com/endomorphosis/ipfskg/pkg/math/vector"
)

// PageRank defaults.
const (
	DefaultDamping       = 0.85
	DefaultTolerance     = 1e-6
	DefaultMaxIterations = 100
)

var ErrInvalidDamping = fmt.Errorf("%w: damping must be within (0, 1)", kgerrors.ErrValidation)

// PageRankOptions configures PageRank. Zero values take the defaults.
type PageRankOptions struct {
	Damping       float64
	Tolerance     float64
	MaxIterations int

	// QueryVector and Embeddings modulate damping per node: an entity whose
	// embedding is close to the query keeps more of its mass on the graph.
	QueryVector []float32
	Embeddings  map[graph.EntityID][]float32
}

// ScoredEntity pairs an entity with a score.
type ScoredEntity struct {
	ID    graph.EntityID `json:"id"`
	Score float64        `json:"score"`
}

// PageRankResult holds the final scores.
type PageRankResult struct {
	Scores     map[graph.EntityID]float64
	Iterations int
	Converged  bool

	order []graph.EntityID
}

// Ranked returns every entity sorted by score, highest first. Equal scores
// keep entity insertion order.
func (r *PageRankResult) Ranked() []ScoredEntity {
	out := make([]ScoredEntity, len(r.order))
	for i, id := range r.order {
		out[i] = ScoredEntity{ID: id, Score: r.Scores[id]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Top returns the k best entities.
func (r *PageRankResult) Top(k int) []ScoredEntity {
	ranked := r.Ranked()
	if k >= 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

type weightedEdge struct {
	to     int
	weight float64
}

// EdgeWeight is the weight PageRank and community detection give a
// relationship: a positive numeric "weight" property, else a positive
// confidence, else 1.
func EdgeWeight(r *graph.Relationship) float64 {
	if w, ok := r.Properties.Float("weight"); ok && w > 0 {
		return w
	}
	if r.Confidence > 0 {
		return r.Confidence
	}
	return 1
}

// PageRank computes weighted PageRank over the directed graph.
//
// Scores start uniform at 1/N. Each iteration an entity u passes d_u of its
// score along its outgoing relationships in proportion to their weight and
// spreads the remaining 1-d_u uniformly. Entities without outgoing
// relationships spread all of their score uniformly, so scores always sum to
// one. Iteration stops once the summed absolute change falls below the
// tolerance or MaxIterations is reached.
//
// With a QueryVector, d_u = d * (0.5 + 0.5*s) where s is the cosine
// similarity between u's embedding and the query, clamped to [0, 1].
// Entities without an embedding use d.
func PageRank(ctx context.Context, g *graph.Graph, opts PageRankOptions) (*PageRankResult, error) {
	if opts.Damping == 0 {
		opts.Damping = DefaultDamping
	}
	if opts.Damping <= 0 || opts.Damping >= 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDamping, opts.Damping)
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	ids := g.EntityIDs()
	n := len(ids)
	result := &PageRankResult{Scores: make(map[graph.EntityID]float64, n), order: ids}
	if n == 0 {
		result.Converged = true
		return result, nil
	}

	index := make(map[graph.EntityID]int, n)
	for i, id := range ids {
		index[id] = i
	}
	out := make([][]weightedEdge, n)
	outWeight := make([]float64, n)
	for _, r := range g.Relationships() {
		s, t := index[r.SourceID], index[r.TargetID]
		w := EdgeWeight(r)
		out[s] = append(out[s], weightedEdge{to: t, weight: w})
		outWeight[s] += w
	}

	damping := make([]float64, n)
	for i, id := range ids {
		damping[i] = opts.Damping
		if len(opts.QueryVector) == 0 {
			continue
		}
		if emb, ok := opts.Embeddings[id]; ok && len(emb) == len(opts.QueryVector) {
			sim := math.Max(0, math.Min(1, vector.CosineSimilarity(emb, opts.QueryVector)))
			damping[i] = opts.Damping * (0.5 + 0.5*sim)
		}
	}

	score := make([]float64, n)
	next := make([]float64, n)
	for i := range score {
		score[i] = 1 / float64(n)
	}

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clear(next)
		teleport := 0.0
		for u := 0; u < n; u++ {
			if outWeight[u] == 0 {
				teleport += score[u]
				continue
			}
			teleport += (1 - damping[u]) * score[u]
			share := damping[u] * score[u] / outWeight[u]
			for _, e := range out[u] {
				next[e.to] += share * e.weight
			}
		}
		teleport /= float64(n)

		delta := 0.0
		for v := 0; v < n; v++ {
			next[v] += teleport
			delta += math.Abs(next[v] - score[v])
		}
		score, next = next, score
		result.Iterations = iter + 1
		if delta < opts.Tolerance {
			result.Converged = true
			break
		}
	}

	for i, id := range ids {
		result.Scores[id] = score[i]
	}
	return result, nil
}

// DegreeCentrality ranks entities by their number of relationships in the
// given direction, normalised by N-1. Equal scores keep entity insertion
// order.
func DegreeCentrality(g *graph.Graph, dir graph.Direction) []ScoredEntity {
	ids := g.EntityIDs()
	out := make([]ScoredEntity, len(ids))
	denom := float64(len(ids) - 1)
	for i, id := range ids {
		d := float64(g.Degree(id, dir))
		if denom > 0 {
			d /= denom
		}
		out[i] = ScoredEntity{ID: id, Score: d}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
