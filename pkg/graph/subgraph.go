package graph

import (
	"sort"
)

// Subgraph returns a new graph holding the selected entities and only the
// relationships whose endpoints are both selected. Unknown IDs are ignored.
// Insertion order follows the source graph.
func (g *Graph) Subgraph(ids []EntityID) *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	selected := make(idSet[EntityID], len(ids))
	for _, id := range ids {
		if _, ok := g.entities[id]; ok {
			selected[id] = struct{}{}
		}
	}

	sub := New()
	for _, id := range g.sortEntities(selected) {
		// Source entities are already valid.
		_ = sub.AddEntity(g.entities[id])
	}

	rels := make(idSet[RelationshipID])
	for id := range selected {
		for rid := range g.outgoing[id] {
			if _, ok := selected[g.relationships[rid].TargetID]; ok {
				rels[rid] = struct{}{}
			}
		}
	}
	for _, rid := range g.sortRelationships(rels) {
		_ = sub.AddRelationship(g.relationships[rid])
	}
	return sub
}

// IndexSnapshot is a dump of every secondary index with IDs sorted
// lexicographically, so two graphs with the same content compare equal
// regardless of insertion order.
type IndexSnapshot struct {
	ByType              map[string][]EntityID
	ByProperty          map[string]map[string][]EntityID
	RelationshipsByType map[string][]RelationshipID
	Outgoing            map[EntityID][]RelationshipID
	Incoming            map[EntityID][]RelationshipID
	Pairs               map[[2]EntityID][]RelationshipID
}

// Indexes returns a snapshot of the secondary indexes.
func (g *Graph) Indexes() IndexSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := IndexSnapshot{
		ByType:              make(map[string][]EntityID, len(g.byType)),
		ByProperty:          make(map[string]map[string][]EntityID, len(g.byProperty)),
		RelationshipsByType: make(map[string][]RelationshipID, len(g.relByType)),
		Outgoing:            make(map[EntityID][]RelationshipID, len(g.outgoing)),
		Incoming:            make(map[EntityID][]RelationshipID, len(g.incoming)),
		Pairs:               make(map[[2]EntityID][]RelationshipID, len(g.pairs)),
	}
	for t, set := range g.byType {
		s.ByType[t] = sortedIDs(set)
	}
	for k, byValue := range g.byProperty {
		m := make(map[string][]EntityID, len(byValue))
		for v, set := range byValue {
			m[v] = sortedIDs(set)
		}
		s.ByProperty[k] = m
	}
	for t, set := range g.relByType {
		s.RelationshipsByType[t] = sortedIDs(set)
	}
	for id, set := range g.outgoing {
		s.Outgoing[id] = sortedIDs(set)
	}
	for id, set := range g.incoming {
		s.Incoming[id] = sortedIDs(set)
	}
	for p, set := range g.pairs {
		s.Pairs[[2]EntityID{p.source, p.target}] = sortedIDs(set)
	}
	return s
}

func sortedIDs[T ~string](set idSet[T]) []T {
	out := make([]T, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
