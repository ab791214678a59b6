package graph

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/endomorphosis/ipfskg/pkg/convert"
)

type idSet[T comparable] map[T]struct{}

type pairKey struct {
	source, target EntityID
}

// Graph is a thread-safe in-memory knowledge graph.
//
// Readers take a shared lock; mutations take the exclusive lock and validate
// everything before changing state.
type Graph struct {
	mu sync.RWMutex

	entities      map[EntityID]*Entity
	relationships map[RelationshipID]*Relationship

	// insertion sequence numbers
	seq       uint64
	entitySeq map[EntityID]uint64
	relSeq    map[RelationshipID]uint64

	byType     map[string]idSet[EntityID]
	byProperty map[string]map[string]idSet[EntityID]
	relByType  map[string]idSet[RelationshipID]
	outgoing   map[EntityID]idSet[RelationshipID]
	incoming   map[EntityID]idSet[RelationshipID]
	pairs      map[pairKey]idSet[RelationshipID]
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		entities:      make(map[EntityID]*Entity),
		relationships: make(map[RelationshipID]*Relationship),
		entitySeq:     make(map[EntityID]uint64),
		relSeq:        make(map[RelationshipID]uint64),
		byType:        make(map[string]idSet[EntityID]),
		byProperty:    make(map[string]map[string]idSet[EntityID]),
		relByType:     make(map[string]idSet[RelationshipID]),
		outgoing:      make(map[EntityID]idSet[RelationshipID]),
		incoming:      make(map[EntityID]idSet[RelationshipID]),
		pairs:         make(map[pairKey]idSet[RelationshipID]),
	}
}

// NewEntityID returns a fresh random entity ID.
func NewEntityID() EntityID { return EntityID(uuid.NewString()) }

// NewRelationshipID returns a fresh random relationship ID.
func NewRelationshipID() RelationshipID { return RelationshipID(uuid.NewString()) }

// AddEntity inserts a copy of e. An empty e.ID is replaced with a generated
// one, written back to e.
func (g *Graph) AddEntity(e *Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if e.ID == "" {
		e.ID = NewEntityID()
	}
	if _, exists := g.entities[e.ID]; exists {
		return fmt.Errorf("%w: entity %q", ErrAlreadyExists, e.ID)
	}

	g.seq++
	g.insertEntityLocked(e.Clone(), g.seq)
	return nil
}

func (g *Graph) insertEntityLocked(e *Entity, seq uint64) {
	g.entitySeq[e.ID] = seq
	g.entities[e.ID] = e
	add(g.byType, e.Type, e.ID)
	g.indexProperties(e)
}

// AddRelationship inserts a copy of r. Both endpoints must already exist.
// An empty r.ID is replaced with a generated one, written back to r.
func (g *Graph) AddRelationship(r *Relationship) error {
	if err := r.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[r.SourceID]; !ok {
		return fmt.Errorf("%w: source %q", ErrMissingEndpoint, r.SourceID)
	}
	if _, ok := g.entities[r.TargetID]; !ok {
		return fmt.Errorf("%w: target %q", ErrMissingEndpoint, r.TargetID)
	}
	if r.ID == "" {
		r.ID = NewRelationshipID()
	}
	if _, exists := g.relationships[r.ID]; exists {
		return fmt.Errorf("%w: relationship %q", ErrAlreadyExists, r.ID)
	}

	g.seq++
	g.insertRelationshipLocked(r.Clone(), g.seq)
	return nil
}

func (g *Graph) insertRelationshipLocked(r *Relationship, seq uint64) {
	g.relSeq[r.ID] = seq
	g.relationships[r.ID] = r
	add(g.relByType, r.Type, r.ID)
	add(g.outgoing, r.SourceID, r.ID)
	add(g.incoming, r.TargetID, r.ID)
	add(g.pairs, pairKey{r.SourceID, r.TargetID}, r.ID)
}

// Entity returns a copy of the entity with the given ID.
func (g *Graph) Entity(id EntityID) (*Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	return e.Clone(), nil
}

// Relationship returns a copy of the relationship with the given ID.
func (g *Graph) Relationship(id RelationshipID) (*Relationship, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.relationships[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRelationshipNotFound, id)
	}
	return r.Clone(), nil
}

// HasEntity reports whether id exists.
func (g *Graph) HasEntity(id EntityID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.entities[id]
	return ok
}

// ReplaceEntityProperties swaps the property map of an entity and reindexes it.
func (g *Graph) ReplaceEntityProperties(id EntityID, props Properties) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entities[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	g.unindexProperties(e)
	e.Properties = props.Clone()
	g.indexProperties(e)
	return nil
}

// ReplaceRelationshipProperties swaps the property map of a relationship.
func (g *Graph) ReplaceRelationshipProperties(id RelationshipID, props Properties) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.relationships[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRelationshipNotFound, id)
	}
	r.Properties = props.Clone()
	return nil
}

// Detached is what DetachEntity or DetachRelationship took out of the
// graph. Reattach puts it back at its original insertion position.
type Detached struct {
	// Entity is nil when a single relationship was detached.
	Entity *Entity
	// Relationships are in insertion order.
	Relationships []*Relationship

	entitySeq uint64
	relSeqs   []uint64
}

// RelationshipIDs returns the IDs of the detached relationships in insertion
// order.
func (d *Detached) RelationshipIDs() []RelationshipID {
	ids := make([]RelationshipID, len(d.Relationships))
	for i, r := range d.Relationships {
		ids[i] = r.ID
	}
	return ids
}

// RemoveEntity deletes an entity and every relationship touching it. It
// returns the IDs of the removed relationships in insertion order.
func (g *Graph) RemoveEntity(id EntityID) ([]RelationshipID, error) {
	d, err := g.DetachEntity(id)
	if err != nil {
		return nil, err
	}
	return d.RelationshipIDs(), nil
}

// DetachEntity is RemoveEntity returning everything it removed.
func (g *Graph) DetachEntity(id EntityID) (*Detached, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}

	touching := make(idSet[RelationshipID], len(g.outgoing[id])+len(g.incoming[id]))
	for rid := range g.outgoing[id] {
		touching[rid] = struct{}{}
	}
	for rid := range g.incoming[id] {
		touching[rid] = struct{}{}
	}
	d := &Detached{Entity: e, entitySeq: g.entitySeq[id]}
	for _, rid := range g.sortRelationships(touching) {
		d.Relationships = append(d.Relationships, g.relationships[rid])
		d.relSeqs = append(d.relSeqs, g.relSeq[rid])
		g.removeRelationshipLocked(rid)
	}

	g.unindexProperties(e)
	remove(g.byType, e.Type, id)
	delete(g.outgoing, id)
	delete(g.incoming, id)
	delete(g.entities, id)
	delete(g.entitySeq, id)
	return d, nil
}

// RemoveRelationship deletes a single relationship.
func (g *Graph) RemoveRelationship(id RelationshipID) error {
	_, err := g.DetachRelationship(id)
	return err
}

// DetachRelationship is RemoveRelationship returning what it removed.
func (g *Graph) DetachRelationship(id RelationshipID) (*Detached, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.relationships[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRelationshipNotFound, id)
	}
	d := &Detached{Relationships: []*Relationship{r}, relSeqs: []uint64{g.relSeq[id]}}
	g.removeRelationshipLocked(id)
	return d, nil
}

// Reattach restores a detached entity and its relationships. It fails
// without changing the graph if any ID has been reused or an endpoint is
// gone.
func (g *Graph) Reattach(d *Detached) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if d.Entity != nil {
		if _, exists := g.entities[d.Entity.ID]; exists {
			return fmt.Errorf("%w: entity %q", ErrAlreadyExists, d.Entity.ID)
		}
	}
	for _, r := range d.Relationships {
		if _, exists := g.relationships[r.ID]; exists {
			return fmt.Errorf("%w: relationship %q", ErrAlreadyExists, r.ID)
		}
		for _, end := range []EntityID{r.SourceID, r.TargetID} {
			if _, ok := g.entities[end]; !ok && (d.Entity == nil || end != d.Entity.ID) {
				return fmt.Errorf("%w: %q", ErrMissingEndpoint, end)
			}
		}
	}

	if d.Entity != nil {
		g.insertEntityLocked(d.Entity, d.entitySeq)
	}
	for i, r := range d.Relationships {
		g.insertRelationshipLocked(r, d.relSeqs[i])
	}
	return nil
}

func (g *Graph) removeRelationshipLocked(id RelationshipID) {
	r := g.relationships[id]
	remove(g.relByType, r.Type, id)
	remove(g.outgoing, r.SourceID, id)
	remove(g.incoming, r.TargetID, id)
	remove(g.pairs, pairKey{r.SourceID, r.TargetID}, id)
	delete(g.relationships, id)
	delete(g.relSeq, id)
}

// Entities returns copies of all entities in insertion order.
func (g *Graph) Entities() []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make(idSet[EntityID], len(g.entities))
	for id := range g.entities {
		ids[id] = struct{}{}
	}
	return g.entityCopies(ids)
}

// Relationships returns copies of all relationships in insertion order.
func (g *Graph) Relationships() []*Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make(idSet[RelationshipID], len(g.relationships))
	for id := range g.relationships {
		ids[id] = struct{}{}
	}
	return g.relationshipCopies(ids)
}

// EntityIDs returns all entity IDs in insertion order.
func (g *Graph) EntityIDs() []EntityID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make(idSet[EntityID], len(g.entities))
	for id := range g.entities {
		ids[id] = struct{}{}
	}
	return g.sortEntities(ids)
}

// EntitiesByType returns the entities of one type in insertion order.
func (g *Graph) EntitiesByType(entityType string) []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entityCopies(g.byType[entityType])
}

// EntitiesByProperty returns entities whose property key equals value.
// Only scalar values (strings, numbers, booleans) are indexed; numbers match
// by numeric value regardless of Go type.
func (g *Graph) EntitiesByProperty(key string, value any) []*Entity {
	vk, ok := valueKey(value)
	if !ok {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entityCopies(g.byProperty[key][vk])
}

// RelationshipsByType returns relationships of one type in insertion order.
func (g *Graph) RelationshipsByType(relType string) []*Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.relationshipCopies(g.relByType[relType])
}

// OutgoingRelationships returns relationships whose source is id.
func (g *Graph) OutgoingRelationships(id EntityID) []*Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.relationshipCopies(g.outgoing[id])
}

// IncomingRelationships returns relationships whose target is id.
func (g *Graph) IncomingRelationships(id EntityID) []*Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.relationshipCopies(g.incoming[id])
}

// RelationshipsBetween returns relationships from source to target.
func (g *Graph) RelationshipsBetween(source, target EntityID) []*Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.relationshipCopies(g.pairs[pairKey{source, target}])
}

// EntityCount returns the number of entities.
func (g *Graph) EntityCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities)
}

// RelationshipCount returns the number of relationships.
func (g *Graph) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.relationships)
}

// EntityTypes returns the distinct entity types, sorted.
func (g *Graph) EntityTypes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.byType)
}

// RelationshipTypes returns the distinct relationship types, sorted.
func (g *Graph) RelationshipTypes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.relByType)
}

// Stats counts entities and relationships per type.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Stats{
		EntityCount:       len(g.entities),
		RelationshipCount: len(g.relationships),
		EntityTypes:       make(map[string]int, len(g.byType)),
		RelationshipTypes: make(map[string]int, len(g.relByType)),
	}
	for t, ids := range g.byType {
		s.EntityTypes[t] = len(ids)
	}
	for t, ids := range g.relByType {
		s.RelationshipTypes[t] = len(ids)
	}
	return s
}

func (g *Graph) indexProperties(e *Entity) {
	for k, v := range e.Properties {
		vk, ok := valueKey(v)
		if !ok {
			continue
		}
		byValue, ok := g.byProperty[k]
		if !ok {
			byValue = make(map[string]idSet[EntityID])
			g.byProperty[k] = byValue
		}
		add(byValue, vk, e.ID)
	}
}

func (g *Graph) unindexProperties(e *Entity) {
	for k, v := range e.Properties {
		vk, ok := valueKey(v)
		if !ok {
			continue
		}
		if byValue, ok := g.byProperty[k]; ok {
			remove(byValue, vk, e.ID)
			if len(byValue) == 0 {
				delete(g.byProperty, k)
			}
		}
	}
}

func (g *Graph) sortEntities(ids idSet[EntityID]) []EntityID {
	out := make([]EntityID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return g.entitySeq[out[i]] < g.entitySeq[out[j]] })
	return out
}

func (g *Graph) sortRelationships(ids idSet[RelationshipID]) []RelationshipID {
	out := make([]RelationshipID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return g.relSeq[out[i]] < g.relSeq[out[j]] })
	return out
}

func (g *Graph) entityCopies(ids idSet[EntityID]) []*Entity {
	sorted := g.sortEntities(ids)
	out := make([]*Entity, len(sorted))
	for i, id := range sorted {
		out[i] = g.entities[id].Clone()
	}
	return out
}

func (g *Graph) relationshipCopies(ids idSet[RelationshipID]) []*Relationship {
	sorted := g.sortRelationships(ids)
	out := make([]*Relationship, len(sorted))
	for i, id := range sorted {
		out[i] = g.relationships[id].Clone()
	}
	return out
}

func add[K, V comparable](index map[K]idSet[V], key K, id V) {
	set, ok := index[key]
	if !ok {
		set = make(idSet[V])
		index[key] = set
	}
	set[id] = struct{}{}
}

func remove[K, V comparable](index map[K]idSet[V], key K, id V) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// valueKey maps scalar property values to a canonical index key.
func valueKey(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return "s:" + t, true
	case bool:
		return "b:" + strconv.FormatBool(t), true
	}
	if f, ok := convert.ToFloat64(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64), true
	}
	return "", false
}
