package kg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/endomorphosis/ipfskg/pkg/blockstore"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
)

// FromCID loads the graph whose root block is root. Entities are restored
// first, then relationships, each in listed order, through the same path as
// incremental adds; vector and text indexes are rebuilt on the way.
func FromCID(ctx context.Context, store *blockstore.Store, root cid.Cid, opts Options) (*KnowledgeGraph, error) {
	var rb rootBlock
	if err := store.GetJSON(ctx, root, &rb); err != nil {
		return nil, fmt.Errorf("read root %s: %w", root, err)
	}
	if rb.Type != typeRoot {
		return nil, fmt.Errorf("%w: %s has type %q", ErrNotGraphRoot, root, rb.Type)
	}
	if rb.Name != "" {
		opts.Name = rb.Name
	}
	k, err := New(store, opts)
	if err != nil {
		return nil, err
	}

	var aux []cid.Cid
	entityIDs, err := resolveList(ctx, store, "entity_ids", rb.EntityIDs, &aux)
	if err != nil {
		return nil, err
	}
	entityCIDs, err := resolveMap(ctx, store, "entity_cids", rb.EntityCIDs, &aux)
	if err != nil {
		return nil, err
	}
	relIDs, err := resolveList(ctx, store, "relationship_ids", rb.RelationshipIDs, &aux)
	if err != nil {
		return nil, err
	}
	relCIDs, err := resolveMap(ctx, store, "relationship_cids", rb.RelationshipCIDs, &aux)
	if err != nil {
		return nil, err
	}
	if len(entityIDs) != rb.EntityCount || len(relIDs) != rb.RelationshipCount {
		return nil, fmt.Errorf("%w: root counts %d/%d do not match %d/%d listed ids",
			kgerrors.ErrCorruptBlock, rb.EntityCount, rb.RelationshipCount, len(entityIDs), len(relIDs))
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	entityBlocks, err := fetchBlocks(ctx, store, "entity", entityIDs, entityCIDs)
	if err != nil {
		return nil, err
	}
	for i, data := range entityBlocks.data {
		var b entityBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("%w: entity block %s: %v", kgerrors.ErrCorruptBlock, entityBlocks.cids[i], err)
		}
		e, err := b.entity()
		if err != nil {
			return nil, err
		}
		if string(e.ID) != entityIDs[i] {
			return nil, fmt.Errorf("%w: block %s holds entity %q, root lists %q",
				kgerrors.ErrCorruptBlock, entityBlocks.cids[i], e.ID, entityIDs[i])
		}
		if err := k.applyEntityLocked(e, b.Embedding); err != nil {
			return nil, fmt.Errorf("%w: entity %s: %v", kgerrors.ErrCorruptBlock, e.ID, err)
		}
		k.entityCIDs[e.ID] = entityBlocks.cids[i]
	}

	relBlocks, err := fetchBlocks(ctx, store, "relationship", relIDs, relCIDs)
	if err != nil {
		return nil, err
	}
	for i, data := range relBlocks.data {
		var b relationshipBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("%w: relationship block %s: %v", kgerrors.ErrCorruptBlock, relBlocks.cids[i], err)
		}
		r, err := b.relationship()
		if err != nil {
			return nil, err
		}
		if string(r.ID) != relIDs[i] {
			return nil, fmt.Errorf("%w: block %s holds relationship %q, root lists %q",
				kgerrors.ErrCorruptBlock, relBlocks.cids[i], r.ID, relIDs[i])
		}
		if err := k.g.AddRelationship(r); err != nil {
			return nil, fmt.Errorf("%w: relationship %s: %v", kgerrors.ErrCorruptBlock, r.ID, err)
		}
		k.relCIDs[r.ID] = relBlocks.cids[i]
	}

	k.root, k.rootAux, k.dirty = root, aux, false
	k.logger.Info("knowledge graph loaded", "root", root,
		"entities", k.g.EntityCount(), "relationships", k.g.RelationshipCount())
	return k, nil
}

// FromCAR imports a CAR archive into store and loads the graph at its first
// root.
func FromCAR(ctx context.Context, store *blockstore.Store, path string, opts Options) (*KnowledgeGraph, error) {
	roots, err := store.ImportCAR(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRoots, path)
	}
	return FromCID(ctx, store, roots[0], opts)
}

// ExportCAR commits pending changes and writes the root, its chunk blocks and
// every entity and relationship block to a CAR file at path. The CAR root is
// the graph root.
func (k *KnowledgeGraph) ExportCAR(ctx context.Context, path string) (cid.Cid, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.commitLocked(ctx); err != nil {
		return cid.Undef, err
	}

	blocks := make([]cid.Cid, 0, 1+len(k.rootAux)+len(k.entityCIDs)+len(k.relCIDs))
	blocks = append(blocks, k.root)
	blocks = append(blocks, k.rootAux...)
	for _, id := range k.g.EntityIDs() {
		blocks = append(blocks, k.entityCIDs[id])
	}
	for _, r := range k.g.Relationships() {
		blocks = append(blocks, k.relCIDs[r.ID])
	}
	root, err := k.store.ExportCAR(ctx, blocks, path)
	if err != nil {
		return cid.Undef, err
	}
	k.logger.Info("knowledge graph exported", "root", root, "path", path, "blocks", len(blocks))
	return root, nil
}

type fetched struct {
	cids []cid.Cid
	data [][]byte
}

// fetchBlocks batch-reads the blocks listed for ids.
func fetchBlocks(ctx context.Context, store *blockstore.Store, kind string, ids []string, cidMap map[string]string) (fetched, error) {
	cids := make([]cid.Cid, len(ids))
	for i, id := range ids {
		s, ok := cidMap[id]
		if !ok {
			return fetched{}, fmt.Errorf("%w: %s %q has no block", kgerrors.ErrCorruptBlock, kind, id)
		}
		c, err := cid.Decode(s)
		if err != nil {
			return fetched{}, fmt.Errorf("%w: %s %q: %v", kgerrors.ErrCorruptBlock, kind, id, err)
		}
		cids[i] = c
	}
	data, err := store.GetBatch(ctx, cids)
	if err != nil {
		return fetched{}, fmt.Errorf("read %s blocks: %w", kind, err)
	}
	return fetched{cids: cids, data: data}, nil
}
