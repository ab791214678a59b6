package kg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"

	"github.com/endomorphosis/ipfskg/pkg/blockstore"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
)

// Field is a root index field held either inline or in a chunk manifest
// block referenced by Ref.
type Field[T any] struct {
	Value T
	Ref   cid.Cid
}

// Inline wraps a value stored in the root itself.
func Inline[T any](v T) Field[T] { return Field[T]{Value: v} }

// Chunked references a chunk manifest.
func Chunked[T any](ref cid.Cid) Field[T] { return Field[T]{Ref: ref} }

// IsChunked reports whether the value lives outside the root.
func (f Field[T]) IsChunked() bool { return f.Ref.Defined() }

type chunkRef struct {
	CID     string `json:"_cid"`
	Chunked bool   `json:"_chunked"`
}

// MarshalJSON writes the inline value or a {"_cid","_chunked":true} marker.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.IsChunked() {
		return json.Marshal(chunkRef{CID: f.Ref.String(), Chunked: true})
	}
	return json.Marshal(f.Value)
}

// UnmarshalJSON accepts either form.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if json.Unmarshal(data, &fields) == nil {
		if flag, ok := fields["_chunked"]; ok && bytes.Equal(flag, []byte("true")) {
			var ref chunkRef
			if err := json.Unmarshal(data, &ref); err != nil {
				return err
			}
			c, err := cid.Decode(ref.CID)
			if err != nil {
				return fmt.Errorf("%w: chunk reference: %v", kgerrors.ErrCorruptBlock, err)
			}
			*f = Chunked[T](c)
			return nil
		}
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Inline(v)
	return nil
}

type rootBlock struct {
	Type              string                   `json:"type"`
	Name              string                   `json:"name"`
	EntityCount       int                      `json:"entity_count"`
	RelationshipCount int                      `json:"relationship_count"`
	EntityTypes       []string                 `json:"entity_types"`
	RelationshipTypes []string                 `json:"relationship_types"`
	EntityIDs         Field[[]string]          `json:"entity_ids"`
	EntityCIDs        Field[map[string]string] `json:"entity_cids"`
	RelationshipIDs   Field[[]string]          `json:"relationship_ids"`
	RelationshipCIDs  Field[map[string]string] `json:"relationship_cids"`
}

type fieldKind string

const (
	kindList fieldKind = "list"
	kindMap  fieldKind = "map"
)

type chunkManifest struct {
	Type     string    `json:"type"`
	Field    string    `json:"field"`
	Kind     fieldKind `json:"kind"`
	Segments []string  `json:"segments"`
}

// Commit recomputes and publishes the root if anything changed since the
// last commit. It is a no-op otherwise.
func (k *KnowledgeGraph) Commit(ctx context.Context) (cid.Cid, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.commitLocked(ctx); err != nil {
		return cid.Undef, err
	}
	return k.root, nil
}

func (k *KnowledgeGraph) commitLocked(ctx context.Context) error {
	if !k.dirty {
		return nil
	}
	root, aux, err := k.writeRoot(ctx)
	if err != nil {
		return err
	}
	k.root, k.rootAux, k.dirty = root, aux, false
	k.logger.Debug("root committed", "cid", root, "entities", k.g.EntityCount(),
		"relationships", k.g.RelationshipCount(), "chunk_blocks", len(aux))
	return nil
}

// afterWriteLocked publishes the root unless commits are deferred.
func (k *KnowledgeGraph) afterWriteLocked(ctx context.Context) error {
	k.dirty = true
	k.gen++
	if k.deferred || k.batching > 0 {
		return nil
	}
	return k.commitLocked(ctx)
}

// rootFields are the spillable index fields in root order.
var rootFields = []string{"entity_ids", "entity_cids", "relationship_ids", "relationship_cids"}

// writeRoot stores the root block for the current state. A field is spilled
// to chunk blocks when it exceeds the chunk threshold; if the root is still
// over the store's block limit, the largest remaining inline field is
// spilled too until it fits. It returns the root and every chunk block it
// references.
func (k *KnowledgeGraph) writeRoot(ctx context.Context) (cid.Cid, []cid.Cid, error) {
	entityIDs := k.g.EntityIDs()
	ids := make([]string, len(entityIDs))
	cids := make(map[string]string, len(entityIDs))
	for i, id := range entityIDs {
		ids[i] = string(id)
		cids[string(id)] = k.entityCIDs[id].String()
	}
	rels := k.g.Relationships()
	relIDs := make([]string, len(rels))
	relCIDs := make(map[string]string, len(rels))
	for i, r := range rels {
		relIDs[i] = string(r.ID)
		relCIDs[string(r.ID)] = k.relCIDs[r.ID].String()
	}

	spill := make(map[string]bool, len(rootFields))
	for {
		root, aux, err := k.buildRoot(ctx, spill, ids, cids, relIDs, relCIDs)
		if err != nil {
			return cid.Undef, nil, err
		}
		data, err := json.Marshal(root)
		if err != nil {
			return cid.Undef, nil, fmt.Errorf("encode root: %w", err)
		}
		largest := largestInline(root)
		if len(data) <= k.store.MaxBlockSize() || largest == "" {
			c, err := k.store.PutJSON(ctx, root)
			if err != nil {
				return cid.Undef, nil, fmt.Errorf("write root: %w", err)
			}
			return c, aux, nil
		}
		k.logger.Debug("root over block limit, spilling field", "field", largest, "size", len(data))
		spill[largest] = true
	}
}

// buildRoot assembles the root, writing chunk blocks for every field that is
// over the threshold or named in spill.
func (k *KnowledgeGraph) buildRoot(ctx context.Context, spill map[string]bool, ids []string, cids map[string]string, relIDs []string, relCIDs map[string]string) (rootBlock, []cid.Cid, error) {
	root := rootBlock{
		Type:              typeRoot,
		Name:              k.name,
		EntityCount:       len(ids),
		RelationshipCount: len(relIDs),
		EntityTypes:       k.g.EntityTypes(),
		RelationshipTypes: k.g.RelationshipTypes(),
	}
	var aux []cid.Cid
	var err error
	if root.EntityIDs, aux, err = listField(ctx, k.store, k.threshold, spill["entity_ids"], "entity_ids", ids, aux); err != nil {
		return root, nil, err
	}
	if root.EntityCIDs, aux, err = mapField(ctx, k.store, k.threshold, spill["entity_cids"], "entity_cids", cids, aux); err != nil {
		return root, nil, err
	}
	if root.RelationshipIDs, aux, err = listField(ctx, k.store, k.threshold, spill["relationship_ids"], "relationship_ids", relIDs, aux); err != nil {
		return root, nil, err
	}
	if root.RelationshipCIDs, aux, err = mapField(ctx, k.store, k.threshold, spill["relationship_cids"], "relationship_cids", relCIDs, aux); err != nil {
		return root, nil, err
	}
	return root, aux, nil
}

// largestInline names the non-empty inline field with the longest encoding,
// or "" when every field is chunked or empty.
func largestInline(root rootBlock) string {
	sizes := map[string]int{}
	if !root.EntityIDs.IsChunked() && len(root.EntityIDs.Value) > 0 {
		sizes["entity_ids"] = encodedLen(root.EntityIDs.Value)
	}
	if !root.EntityCIDs.IsChunked() && len(root.EntityCIDs.Value) > 0 {
		sizes["entity_cids"] = encodedLen(root.EntityCIDs.Value)
	}
	if !root.RelationshipIDs.IsChunked() && len(root.RelationshipIDs.Value) > 0 {
		sizes["relationship_ids"] = encodedLen(root.RelationshipIDs.Value)
	}
	if !root.RelationshipCIDs.IsChunked() && len(root.RelationshipCIDs.Value) > 0 {
		sizes["relationship_cids"] = encodedLen(root.RelationshipCIDs.Value)
	}
	best, bestSize := "", 0
	for _, name := range rootFields {
		if size, ok := sizes[name]; ok && size > bestSize {
			best, bestSize = name, size
		}
	}
	return best
}

func encodedLen(v any) int {
	data, _ := json.Marshal(v)
	return len(data)
}

func listField(ctx context.Context, store *blockstore.Store, threshold int, force bool, name string, v []string, aux []cid.Cid) (Field[[]string], []cid.Cid, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Field[[]string]{}, aux, err
	}
	if len(data) <= threshold && !force {
		return Inline(v), aux, nil
	}
	entries := make([][]byte, len(v))
	for i, s := range v {
		entries[i], _ = json.Marshal(s)
	}
	ref, aux, err := writeChunks(ctx, store, threshold, name, kindList, entries, aux)
	return Chunked[[]string](ref), aux, err
}

func mapField(ctx context.Context, store *blockstore.Store, threshold int, force bool, name string, v map[string]string, aux []cid.Cid) (Field[map[string]string], []cid.Cid, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Field[map[string]string]{}, aux, err
	}
	if len(data) <= threshold && !force {
		return Inline(v), aux, nil
	}
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	entries := make([][]byte, len(keys))
	for i, key := range keys {
		kb, _ := json.Marshal(key)
		vb, _ := json.Marshal(v[key])
		entries[i] = append(append(kb, ':'), vb...)
	}
	ref, aux, err := writeChunks(ctx, store, threshold, name, kindMap, entries, aux)
	return Chunked[map[string]string](ref), aux, err
}

// writeChunks packs entries greedily into segments of at most threshold
// bytes, stores them and then the manifest listing them.
func writeChunks(ctx context.Context, store *blockstore.Store, threshold int, name string, kind fieldKind, entries [][]byte, aux []cid.Cid) (cid.Cid, []cid.Cid, error) {
	open, closing := byte('['), byte(']')
	if kind == kindMap {
		open, closing = '{', '}'
	}

	var segments [][]byte
	cur := []byte{open}
	for _, e := range entries {
		if len(e)+2 > threshold {
			return cid.Undef, aux, fmt.Errorf("%w: %s entry of %d bytes, threshold %d", ErrEntryTooLarge, name, len(e), threshold)
		}
		extra := len(e) + 1
		if len(cur) > 1 {
			extra++
		}
		if len(cur)+extra > threshold {
			segments = append(segments, append(cur, closing))
			cur = []byte{open}
		}
		if len(cur) > 1 {
			cur = append(cur, ',')
		}
		cur = append(cur, e...)
	}
	if len(cur) > 1 {
		segments = append(segments, append(cur, closing))
	}

	manifest := chunkManifest{Type: typeChunkedField, Field: name, Kind: kind, Segments: make([]string, len(segments))}
	for i, seg := range segments {
		c, err := store.PutWithCodec(ctx, blockstore.CodecDagJSON, seg)
		if err != nil {
			return cid.Undef, aux, fmt.Errorf("write %s segment %d: %w", name, i, err)
		}
		manifest.Segments[i] = c.String()
		aux = append(aux, c)
	}
	ref, err := store.PutJSON(ctx, manifest)
	if err != nil {
		return cid.Undef, aux, fmt.Errorf("write %s manifest: %w", name, err)
	}
	return ref, append(aux, ref), nil
}

// resolveList returns the value of a list field, reading chunks if needed.
func resolveList(ctx context.Context, store *blockstore.Store, name string, f Field[[]string], aux *[]cid.Cid) ([]string, error) {
	if !f.IsChunked() {
		return f.Value, nil
	}
	segments, err := readChunks(ctx, store, name, kindList, f.Ref, aux)
	if err != nil {
		return nil, err
	}
	var out []string
	for i, seg := range segments {
		var part []string
		if err := json.Unmarshal(seg, &part); err != nil {
			return nil, fmt.Errorf("%w: %s segment %d: %v", kgerrors.ErrCorruptBlock, name, i, err)
		}
		out = append(out, part...)
	}
	return out, nil
}

// resolveMap returns the value of a map field, reading chunks if needed.
func resolveMap(ctx context.Context, store *blockstore.Store, name string, f Field[map[string]string], aux *[]cid.Cid) (map[string]string, error) {
	if !f.IsChunked() {
		return f.Value, nil
	}
	segments, err := readChunks(ctx, store, name, kindMap, f.Ref, aux)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for i, seg := range segments {
		var part map[string]string
		if err := json.Unmarshal(seg, &part); err != nil {
			return nil, fmt.Errorf("%w: %s segment %d: %v", kgerrors.ErrCorruptBlock, name, i, err)
		}
		for key, v := range part {
			out[key] = v
		}
	}
	return out, nil
}

func readChunks(ctx context.Context, store *blockstore.Store, name string, kind fieldKind, ref cid.Cid, aux *[]cid.Cid) ([][]byte, error) {
	var m chunkManifest
	if err := store.GetJSON(ctx, ref, &m); err != nil {
		return nil, fmt.Errorf("read %s manifest: %w", name, err)
	}
	if m.Type != typeChunkedField || m.Kind != kind {
		return nil, fmt.Errorf("%w: %s manifest has type %q kind %q", kgerrors.ErrCorruptBlock, name, m.Type, m.Kind)
	}
	cids := make([]cid.Cid, len(m.Segments))
	for i, s := range m.Segments {
		c, err := cid.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s segment %d: %v", kgerrors.ErrCorruptBlock, name, i, err)
		}
		cids[i] = c
	}
	segments, err := store.GetBatch(ctx, cids)
	if err != nil {
		return nil, fmt.Errorf("read %s segments: %w", name, err)
	}
	*aux = append(*aux, cids...)
	*aux = append(*aux, ref)
	return segments, nil
}
