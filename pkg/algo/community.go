package algo

import (
	"context"
	"sort"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/endomorphosis/ipfskg/pkg/graph"
)

// DefaultCommunityIterations caps label propagation sweeps.
const DefaultCommunityIterations = 20

// CommunityOptions configures Communities.
type CommunityOptions struct {
	MaxIterations int
}

// CommunityResult is a partition of the graph's entities.
type CommunityResult struct {
	// Communities are ordered by their earliest member; members keep entity
	// insertion order.
	Communities [][]graph.EntityID
	// Labels maps every entity to its index in Communities.
	Labels     map[graph.EntityID]int
	Iterations int
	Converged  bool
	// Modularity is the weighted modularity Q of the partition, or 0 when
	// the graph has no relationships.
	Modularity float64
}

type undirected struct {
	ids       []graph.EntityID
	neighbors []map[int]float64
	// adj mirrors neighbors with each list sorted by neighbour index
	adj   [][]weightedEdge
	edges int
}

// buildUndirected merges parallel and reverse relationships into one
// weighted undirected edge. Self-loops are dropped.
func buildUndirected(g *graph.Graph) undirected {
	u := undirected{ids: g.EntityIDs()}
	index := make(map[graph.EntityID]int, len(u.ids))
	for i, id := range u.ids {
		index[id] = i
	}
	u.neighbors = make([]map[int]float64, len(u.ids))
	for i := range u.neighbors {
		u.neighbors[i] = make(map[int]float64)
	}
	for _, r := range g.Relationships() {
		s, t := index[r.SourceID], index[r.TargetID]
		if s == t {
			continue
		}
		if _, seen := u.neighbors[s][t]; !seen {
			u.edges++
		}
		w := EdgeWeight(r)
		u.neighbors[s][t] += w
		u.neighbors[t][s] += w
	}
	u.adj = make([][]weightedEdge, len(u.ids))
	for v, nbs := range u.neighbors {
		for t, w := range nbs {
			u.adj[v] = append(u.adj[v], weightedEdge{to: t, weight: w})
		}
		sort.Slice(u.adj[v], func(i, j int) bool { return u.adj[v][i].to < u.adj[v][j].to })
	}
	return u
}

// Communities detects communities with weighted label propagation.
//
// Every entity starts in its own community. Sweeps visit entities in
// insertion order and move each one to the community with the largest total
// edge weight among its neighbours, preferring the smallest label on ties.
// Propagation stops when a sweep changes nothing or after MaxIterations.
func Communities(ctx context.Context, g *graph.Graph, opts CommunityOptions) (*CommunityResult, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultCommunityIterations
	}
	u := buildUndirected(g)
	n := len(u.ids)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}

	result := &CommunityResult{}
	for iter := 0; iter < opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed := false
		for v := 0; v < n; v++ {
			if len(u.adj[v]) == 0 {
				continue
			}
			weightByLabel := make(map[int]float64)
			for _, e := range u.adj[v] {
				weightByLabel[labels[e.to]] += e.weight
			}
			best, bestWeight := labels[v], -1.0
			for label, w := range weightByLabel {
				if w > bestWeight || (w == bestWeight && label < best) {
					best, bestWeight = label, w
				}
			}
			if best != labels[v] {
				labels[v] = best
				changed = true
			}
		}
		result.Iterations = iter + 1
		if !changed {
			result.Converged = true
			break
		}
	}
	if n == 0 {
		result.Converged = true
	}

	result.Labels = make(map[graph.EntityID]int, n)
	renumber := make(map[int]int)
	for i, id := range u.ids {
		c, ok := renumber[labels[i]]
		if !ok {
			c = len(result.Communities)
			renumber[labels[i]] = c
			result.Communities = append(result.Communities, nil)
		}
		result.Communities[c] = append(result.Communities[c], id)
		result.Labels[id] = c
	}
	result.Modularity = modularity(u, result)
	return result, nil
}

// modularity scores the partition with gonum's weighted Q.
func modularity(u undirected, result *CommunityResult) float64 {
	if u.edges == 0 {
		return 0
	}
	wg := simple.NewWeightedUndirectedGraph(0, 0)
	for i := range u.ids {
		wg.AddNode(simple.Node(int64(i)))
	}
	for s, nbs := range u.neighbors {
		for t, w := range nbs {
			if s < t {
				wg.SetWeightedEdge(wg.NewWeightedEdge(simple.Node(int64(s)), simple.Node(int64(t)), w))
			}
		}
	}
	index := make(map[graph.EntityID]int64, len(u.ids))
	for i, id := range u.ids {
		index[id] = int64(i)
	}
	parts := make([][]gonumgraph.Node, len(result.Communities))
	for c, members := range result.Communities {
		for _, id := range members {
			parts[c] = append(parts[c], simple.Node(index[id]))
		}
	}
	return community.Q(wg, parts, 1)
}

// ConnectedComponents groups entities that are connected when relationship
// direction is ignored. Components are ordered by their earliest member and
// members keep insertion order.
func ConnectedComponents(g *graph.Graph) [][]graph.EntityID {
	ids := g.EntityIDs()
	index := make(map[graph.EntityID]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	uf := NewUnionFind(len(ids))
	for _, r := range g.Relationships() {
		uf.Union(index[r.SourceID], index[r.TargetID])
	}
	groups := uf.Groups()
	out := make([][]graph.EntityID, len(groups))
	for i, members := range groups {
		out[i] = make([]graph.EntityID, len(members))
		for j, m := range members {
			out[i][j] = ids[m]
		}
	}
	return out
}
