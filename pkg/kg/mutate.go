package kg

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/graphrag"
	"github.com/endomorphosis/ipfskg/pkg/math/vector"
	"github.com/endomorphosis/ipfskg/pkg/vectorindex"
)

// AddEntity validates, stores and indexes a new entity and returns a copy of
// it with its ID filled in. On any error nothing changes.
func (k *KnowledgeGraph) AddEntity(ctx context.Context, in EntityInput) (*graph.Entity, error) {
	props, err := normalizeProperties(in.Properties)
	if err != nil {
		return nil, err
	}
	e := &graph.Entity{
		ID:         in.ID,
		Type:       in.Type,
		Name:       in.Name,
		Properties: props,
		Confidence: in.Confidence,
		SourceText: in.SourceText,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	embedding := vector.Copy(in.Embedding)
	if len(embedding) == 0 && k.embedder != nil {
		if embedding, err = k.embedder.Embed(ctx, embeddingText(e)); err != nil {
			return nil, fmt.Errorf("embed entity: %w", err)
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if e.ID == "" {
		e.ID = graph.NewEntityID()
	} else if k.g.HasEntity(e.ID) {
		return nil, fmt.Errorf("%w: entity %q", graph.ErrAlreadyExists, e.ID)
	}
	if len(embedding) > 0 && k.vectors != nil && len(embedding) != k.vectors.Dimension() {
		return nil, fmt.Errorf("%w: entity %q has %d, want %d",
			vectorindex.ErrDimensionMismatch, e.ID, len(embedding), k.vectors.Dimension())
	}

	c, err := k.store.PutJSON(ctx, newEntityBlock(e, embedding))
	if err != nil {
		return nil, fmt.Errorf("write entity %s: %w", e.ID, err)
	}
	if err := k.applyEntityLocked(e, embedding); err != nil {
		return nil, err
	}
	k.entityCIDs[e.ID] = c

	wasDirty := k.dirty
	if err := k.afterWriteLocked(ctx); err != nil {
		k.unapplyEntityLocked(e.ID)
		k.dirty = wasDirty
		return nil, err
	}
	k.logger.Debug("entity added", "id", e.ID, "type", e.Type, "cid", c)
	return e.Clone(), nil
}

// applyEntityLocked adds e to the graph, vector and text indexes. Both
// incremental adds and reloads go through it.
func (k *KnowledgeGraph) applyEntityLocked(e *graph.Entity, embedding []float32) error {
	if len(embedding) > 0 && k.vectors == nil {
		opts := k.vecOpts
		opts.Dimension = len(embedding)
		idx, err := vectorindex.New(opts)
		if err != nil {
			return err
		}
		k.vectors = idx
	}
	if err := k.g.AddEntity(e); err != nil {
		return err
	}
	if len(embedding) > 0 {
		ids, err := k.vectors.Add([][]float32{embedding}, []vectorindex.Metadata{{
			graphrag.MetadataEntityID:   string(e.ID),
			graphrag.MetadataEntityType: e.Type,
		}})
		if err != nil {
			_, _ = k.g.RemoveEntity(e.ID)
			return err
		}
		k.vectorOf[e.ID] = ids[0]
		k.embeddings[e.ID] = embedding
	}
	if k.text != nil {
		if err := k.text.IndexEntity(e); err != nil {
			k.unapplyEntityLocked(e.ID)
			return err
		}
	}
	return nil
}

// unapplyEntityLocked drops an entity from every in-memory index.
func (k *KnowledgeGraph) unapplyEntityLocked(id graph.EntityID) []graph.RelationshipID {
	removed, _ := k.g.RemoveEntity(id)
	for _, rid := range removed {
		delete(k.relCIDs, rid)
	}
	k.dropEntityIndexesLocked(id)
	return removed
}

// dropEntityIndexesLocked removes id from the vector and text indexes and
// forgets its block.
func (k *KnowledgeGraph) dropEntityIndexesLocked(id graph.EntityID) {
	if vid, ok := k.vectorOf[id]; ok {
		k.vectors.Delete(vid)
		delete(k.vectorOf, id)
	}
	delete(k.embeddings, id)
	delete(k.entityCIDs, id)
	if k.text != nil {
		_ = k.text.Remove(id)
	}
}

// AddRelationship validates, stores and indexes a new relationship. Both
// endpoints must already exist. On any error nothing changes.
func (k *KnowledgeGraph) AddRelationship(ctx context.Context, in RelationshipInput) (*graph.Relationship, error) {
	props, err := normalizeProperties(in.Properties)
	if err != nil {
		return nil, err
	}
	r := &graph.Relationship{
		ID:         in.ID,
		Type:       in.Type,
		SourceID:   in.SourceID,
		TargetID:   in.TargetID,
		Properties: props,
		Confidence: in.Confidence,
		SourceText: in.SourceText,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.g.HasEntity(r.SourceID) {
		return nil, fmt.Errorf("%w: source %q", graph.ErrMissingEndpoint, r.SourceID)
	}
	if !k.g.HasEntity(r.TargetID) {
		return nil, fmt.Errorf("%w: target %q", graph.ErrMissingEndpoint, r.TargetID)
	}
	if r.ID == "" {
		r.ID = graph.NewRelationshipID()
	} else if _, exists := k.relCIDs[r.ID]; exists {
		return nil, fmt.Errorf("%w: relationship %q", graph.ErrAlreadyExists, r.ID)
	}

	c, err := k.store.PutJSON(ctx, newRelationshipBlock(r))
	if err != nil {
		return nil, fmt.Errorf("write relationship %s: %w", r.ID, err)
	}
	if err := k.g.AddRelationship(r); err != nil {
		return nil, err
	}
	k.relCIDs[r.ID] = c

	wasDirty := k.dirty
	if err := k.afterWriteLocked(ctx); err != nil {
		_ = k.g.RemoveRelationship(r.ID)
		delete(k.relCIDs, r.ID)
		k.dirty = wasDirty
		return nil, err
	}
	k.logger.Debug("relationship added", "id", r.ID, "type", r.Type, "source", r.SourceID, "target", r.TargetID)
	return r.Clone(), nil
}

// ReplaceEntityProperties writes a new version of an entity with props and
// republishes the root. If the root cannot be written the old version is
// restored.
func (k *KnowledgeGraph) ReplaceEntityProperties(ctx context.Context, id graph.EntityID, props graph.Properties) error {
	props, err := normalizeProperties(props)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.g.Entity(id)
	if err != nil {
		return err
	}
	old, oldCID := e.Properties, k.entityCIDs[id]
	e.Properties = props
	c, err := k.store.PutJSON(ctx, newEntityBlock(e, k.embeddings[id]))
	if err != nil {
		return fmt.Errorf("write entity %s: %w", id, err)
	}
	if err := k.g.ReplaceEntityProperties(id, props); err != nil {
		return err
	}
	k.entityCIDs[id] = c
	if k.text != nil {
		if err := k.text.IndexEntity(e); err != nil {
			return err
		}
	}

	wasDirty := k.dirty
	if err := k.afterWriteLocked(ctx); err != nil {
		_ = k.g.ReplaceEntityProperties(id, old)
		k.entityCIDs[id] = oldCID
		if k.text != nil {
			e.Properties = old
			_ = k.text.IndexEntity(e)
		}
		k.dirty = wasDirty
		return err
	}
	return nil
}

// ReplaceRelationshipProperties writes a new version of a relationship with
// props and republishes the root. If the root cannot be written the old
// version is restored.
func (k *KnowledgeGraph) ReplaceRelationshipProperties(ctx context.Context, id graph.RelationshipID, props graph.Properties) error {
	props, err := normalizeProperties(props)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	r, err := k.g.Relationship(id)
	if err != nil {
		return err
	}
	old, oldCID := r.Properties, k.relCIDs[id]
	r.Properties = props
	c, err := k.store.PutJSON(ctx, newRelationshipBlock(r))
	if err != nil {
		return fmt.Errorf("write relationship %s: %w", id, err)
	}
	if err := k.g.ReplaceRelationshipProperties(id, props); err != nil {
		return err
	}
	k.relCIDs[id] = c

	wasDirty := k.dirty
	if err := k.afterWriteLocked(ctx); err != nil {
		_ = k.g.ReplaceRelationshipProperties(id, old)
		k.relCIDs[id] = oldCID
		k.dirty = wasDirty
		return err
	}
	return nil
}

// RemoveEntity removes an entity, every relationship touching it and its
// vector, and returns the removed relationship IDs. Blocks are immutable and
// stay in the store; only the root stops listing them. If the root cannot be
// written the entity is put back as it was.
func (k *KnowledgeGraph) RemoveEntity(ctx context.Context, id graph.EntityID) ([]graph.RelationshipID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	d, err := k.g.DetachEntity(id)
	if err != nil {
		return nil, err
	}
	saved := entityState{cid: k.entityCIDs[id], relCIDs: make(map[graph.RelationshipID]cid.Cid)}
	if _, ok := k.vectorOf[id]; ok {
		snap := k.vectors.Snapshot()
		saved.vectors = &snap
		saved.vectorID = k.vectorOf[id]
		saved.embedding = k.embeddings[id]
	}
	removed := d.RelationshipIDs()
	for _, rid := range removed {
		saved.relCIDs[rid] = k.relCIDs[rid]
		delete(k.relCIDs, rid)
	}
	k.dropEntityIndexesLocked(id)

	wasDirty := k.dirty
	if err := k.afterWriteLocked(ctx); err != nil {
		k.restoreEntityLocked(d, saved)
		k.dirty = wasDirty
		return nil, err
	}
	k.logger.Debug("entity removed", "id", id, "relationships", len(removed))
	return removed, nil
}

// entityState is the per-entity index state RemoveEntity needs to undo
// itself.
type entityState struct {
	cid       cid.Cid
	relCIDs   map[graph.RelationshipID]cid.Cid
	vectors   *vectorindex.Snapshot
	vectorID  vectorindex.ID
	embedding []float32
}

func (k *KnowledgeGraph) restoreEntityLocked(d *graph.Detached, saved entityState) {
	id := d.Entity.ID
	if err := k.g.Reattach(d); err != nil {
		k.logger.Error("restore removed entity", "id", id, "error", err)
		return
	}
	k.entityCIDs[id] = saved.cid
	maps.Copy(k.relCIDs, saved.relCIDs)
	if saved.vectors != nil {
		idx, err := vectorindex.Restore(*saved.vectors, k.vecOpts)
		if err != nil {
			k.logger.Error("restore vector index", "id", id, "error", err)
		} else {
			k.vectors = idx
			k.vectorOf[id] = saved.vectorID
			k.embeddings[id] = saved.embedding
		}
	}
	if k.text != nil {
		_ = k.text.IndexEntity(d.Entity)
	}
}

// RemoveRelationship removes a single relationship. If the root cannot be
// written the relationship is put back.
func (k *KnowledgeGraph) RemoveRelationship(ctx context.Context, id graph.RelationshipID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	d, err := k.g.DetachRelationship(id)
	if err != nil {
		return err
	}
	oldCID := k.relCIDs[id]
	delete(k.relCIDs, id)

	wasDirty := k.dirty
	if err := k.afterWriteLocked(ctx); err != nil {
		_ = k.g.Reattach(d)
		k.relCIDs[id] = oldCID
		k.dirty = wasDirty
		return err
	}
	return nil
}

// embeddingText is the text embedded for an entity without a vector.
func embeddingText(e *graph.Entity) string {
	return strings.TrimSpace(e.Name + " " + e.SourceText)
}
