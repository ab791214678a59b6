package graph

import (
	"fmt"
	"slices"
)

// TraverseOptions controls a breadth-first traversal.
type TraverseOptions struct {
	// EdgeType restricts traversal to one relationship type; empty follows all.
	EdgeType string
	// Direction defaults to Outgoing.
	Direction Direction
	// MaxDepth is the inclusive hop bound. Zero or less yields no results.
	MaxDepth int
	// NodeFilter rejects entities; rejected entities are neither returned nor
	// expanded.
	NodeFilter EntityPredicate
	// EdgeFilter rejects relationships by their properties.
	EdgeFilter PropertiesPredicate
}

// Hop is one entity reached by a traversal.
type Hop struct {
	ID    EntityID
	Depth int
	// Path runs from the start entity to ID inclusive.
	Path []EntityID
	// Relationships are the edges followed along Path.
	Relationships []RelationshipID
}

// PathOptions controls FindPaths.
type PathOptions struct {
	// EdgeTypes restricts the relationship types followed; empty follows all.
	EdgeTypes []string
	Direction Direction
	// MaxDepth is the maximum number of hops in a path.
	MaxDepth int
	// MaxPaths stops the search once this many paths are found. Zero means
	// no limit.
	MaxPaths int
}

type step struct {
	rel  *Relationship
	next EntityID
}

type edgeMatcher func(*Relationship) bool

// Traverse returns the entities reachable from start within MaxDepth hops in
// breadth-first order. The start entity is never included and each entity
// appears at most once.
func (g *Graph) Traverse(start EntityID, opts TraverseOptions) ([]EntityID, error) {
	hops, err := g.TraverseWithDepth(start, opts)
	if err != nil {
		return nil, err
	}
	ids := make([]EntityID, len(hops))
	for i, h := range hops {
		ids[i] = h.ID
	}
	return ids, nil
}

// TraverseWithDepth is Traverse with the hop count and the breadth-first
// parent path of every reached entity.
func (g *Graph) TraverseWithDepth(start EntityID, opts TraverseOptions) ([]Hop, error) {
	dir, err := ParseDirection(string(opts.Direction))
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.entities[start]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, start)
	}
	hops := []Hop{}
	if opts.MaxDepth <= 0 {
		return hops, nil
	}

	match := func(r *Relationship) bool {
		if opts.EdgeType != "" && r.Type != opts.EdgeType {
			return false
		}
		return opts.EdgeFilter == nil || opts.EdgeFilter(r.Properties.Clone())
	}

	visited := map[EntityID]struct{}{start: {}}
	queue := []Hop{{ID: start, Path: []EntityID{start}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.Depth >= opts.MaxDepth {
			continue
		}
		for _, s := range g.stepsLocked(cur.ID, dir, match) {
			if _, seen := visited[s.next]; seen {
				continue
			}
			visited[s.next] = struct{}{}
			if opts.NodeFilter != nil && !opts.NodeFilter(g.entities[s.next].Clone()) {
				continue
			}
			h := Hop{
				ID:            s.next,
				Depth:         cur.Depth + 1,
				Path:          append(slices.Clone(cur.Path), s.next),
				Relationships: append(slices.Clone(cur.Relationships), s.rel.ID),
			}
			hops = append(hops, h)
			queue = append(queue, h)
		}
	}
	return hops, nil
}

// FindPaths returns every simple path from start to end with at most
// MaxDepth hops, in depth-first discovery order. An entity may appear in many
// paths but never twice in one. A path from an entity to itself is the
// single-element path.
func (g *Graph) FindPaths(start, end EntityID, opts PathOptions) ([][]EntityID, error) {
	dir, err := ParseDirection(string(opts.Direction))
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range []EntityID{start, end} {
		if _, ok := g.entities[id]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, id)
		}
	}
	if start == end {
		return [][]EntityID{{start}}, nil
	}

	var match edgeMatcher
	if len(opts.EdgeTypes) > 0 {
		match = func(r *Relationship) bool { return slices.Contains(opts.EdgeTypes, r.Type) }
	}

	var paths [][]EntityID
	visited := map[EntityID]bool{start: true}
	path := []EntityID{start}

	var dfs func(cur EntityID) bool
	dfs = func(cur EntityID) bool {
		if len(path)-1 >= opts.MaxDepth {
			return true
		}
		for _, next := range g.neighborsLocked(cur, dir, match) {
			if visited[next] {
				continue
			}
			if next == end {
				paths = append(paths, append(slices.Clone(path), end))
				if opts.MaxPaths > 0 && len(paths) >= opts.MaxPaths {
					return false
				}
				continue
			}
			visited[next] = true
			path = append(path, next)
			more := dfs(next)
			path = path[:len(path)-1]
			visited[next] = false
			if !more {
				return false
			}
		}
		return true
	}
	dfs(start)
	return paths, nil
}

// ShortestPath returns a minimum-hop path from start to end, found by
// breadth-first search. MaxDepth of zero means unbounded. Returns ErrNoPath
// when end is unreachable.
func (g *Graph) ShortestPath(start, end EntityID, opts TraverseOptions) ([]EntityID, error) {
	if start == end {
		if !g.HasEntity(start) {
			return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, start)
		}
		return []EntityID{start}, nil
	}
	if !g.HasEntity(end) {
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, end)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = g.EntityCount()
	}
	hops, err := g.TraverseWithDepth(start, opts)
	if err != nil {
		return nil, err
	}
	for _, h := range hops {
		if h.ID == end {
			return h.Path, nil
		}
	}
	return nil, fmt.Errorf("%w: %q to %q", ErrNoPath, start, end)
}

// Neighbors returns the distinct entities adjacent to id in the given
// direction, in relationship insertion order. id itself is excluded.
func (g *Graph) Neighbors(id EntityID, dir Direction) []EntityID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if dir == "" {
		dir = Outgoing
	}
	return g.neighborsLocked(id, dir, nil)
}

// Degree counts relationships touching id in the given direction.
func (g *Graph) Degree(id EntityID, dir Direction) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	switch dir {
	case Incoming:
		return len(g.incoming[id])
	case Both:
		return len(g.outgoing[id]) + len(g.incoming[id])
	}
	return len(g.outgoing[id])
}

func (g *Graph) neighborsLocked(id EntityID, dir Direction, match edgeMatcher) []EntityID {
	steps := g.stepsLocked(id, dir, match)
	seen := make(map[EntityID]struct{}, len(steps))
	out := make([]EntityID, 0, len(steps))
	for _, s := range steps {
		if s.next == id {
			continue
		}
		if _, dup := seen[s.next]; dup {
			continue
		}
		seen[s.next] = struct{}{}
		out = append(out, s.next)
	}
	return out
}

// stepsLocked lists the edges leaving id in direction dir: outgoing edges
// first, then incoming, each in insertion order.
func (g *Graph) stepsLocked(id EntityID, dir Direction, match edgeMatcher) []step {
	var steps []step
	if dir == Outgoing || dir == Both {
		for _, rid := range g.sortRelationships(g.outgoing[id]) {
			r := g.relationships[rid]
			if match == nil || match(r) {
				steps = append(steps, step{rel: r, next: r.TargetID})
			}
		}
	}
	if dir == Incoming || dir == Both {
		for _, rid := range g.sortRelationships(g.incoming[id]) {
			r := g.relationships[rid]
			if match == nil || match(r) {
				steps = append(steps, step{rel: r, next: r.SourceID})
			}
		}
	}
	return steps
}
