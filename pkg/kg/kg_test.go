package kg

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endomorphosis/ipfskg/pkg/algo"
	"github.com/endomorphosis/ipfskg/pkg/blockstore"
	"github.com/endomorphosis/ipfskg/pkg/embed"
	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/graphrag"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
	"github.com/endomorphosis/ipfskg/pkg/linkpredict"
	"github.com/endomorphosis/ipfskg/pkg/vectorindex"
)

func newStore(t *testing.T, maxBlock int) *blockstore.Store {
	t.Helper()
	s, err := blockstore.Open(blockstore.Options{MaxBlockSize: maxBlock, ChunkSize: min(maxBlock, 256<<10)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newKG(t *testing.T, store *blockstore.Store, opts Options) *KnowledgeGraph {
	t.Helper()
	k, err := New(store, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

// research builds ada -worked_on-> engine <-designed- babbage, ada -knows-> babbage.
func research(t *testing.T, k *KnowledgeGraph) {
	t.Helper()
	ctx := context.Background()
	for _, in := range []EntityInput{
		{ID: "ada", Type: "person", Name: "Ada Lovelace", Confidence: 1,
			Properties: graph.Properties{"born": 1815, "tags": []string{"math"}}, Embedding: []float32{1, 0, 0}},
		{ID: "engine", Type: "machine", Name: "Analytical Engine", Confidence: 0.9,
			SourceText: "a proposed mechanical computer", Embedding: []float32{0, 1, 0}},
		{ID: "babbage", Type: "person", Name: "Charles Babbage", Confidence: 1,
			Properties: graph.Properties{"born": 1791}, Embedding: []float32{0.6, 0.8, 0}},
	} {
		_, err := k.AddEntity(ctx, in)
		require.NoError(t, err)
	}
	for _, in := range []RelationshipInput{
		{ID: "r1", Type: "worked_on", SourceID: "ada", TargetID: "engine", Confidence: 0.9},
		{ID: "r2", Type: "designed", SourceID: "babbage", TargetID: "engine", Confidence: 1,
			Properties: graph.Properties{"year": 1837}},
		{ID: "r3", Type: "knows", SourceID: "ada", TargetID: "babbage", Confidence: 0.8},
	} {
		_, err := k.AddRelationship(ctx, in)
		require.NoError(t, err)
	}
}

func assertSameGraph(t *testing.T, want, got *KnowledgeGraph) {
	t.Helper()
	assert.Equal(t, want.Graph().Indexes(), got.Graph().Indexes())
	assert.Equal(t, want.Graph().Entities(), got.Graph().Entities())
	assert.Equal(t, want.Graph().Relationships(), got.Graph().Relationships())
	assert.Equal(t, want.Embeddings(), got.Embeddings())
	assert.Equal(t, want.Name(), got.Name())
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 0)
	k := newKG(t, store, Options{Name: "research"})
	research(t, k)

	root := k.RootCID()
	require.True(t, root.Defined())
	assert.False(t, k.Dirty())

	e, err := k.Entity("ada")
	require.NoError(t, err)
	assert.Equal(t, 1815.0, e.Properties["born"], "properties are JSON-normalised on entry")
	assert.Equal(t, []any{"math"}, e.Properties["tags"])

	loaded, err := FromCID(ctx, store, root, Options{})
	require.NoError(t, err)
	defer loaded.Close()
	assertSameGraph(t, k, loaded)
	assert.Equal(t, root, loaded.RootCID())
	require.NotNil(t, loaded.Vectors())
	assert.Equal(t, 3, loaded.Vectors().Len())

	c, err := loaded.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, c, "loading does not change the root")
}

func TestRootIsDeterministic(t *testing.T) {
	a := newKG(t, newStore(t, 0), Options{})
	b := newKG(t, newStore(t, 0), Options{})
	research(t, a)
	research(t, b)
	assert.Equal(t, a.RootCID(), b.RootCID())
}

func TestRootLayout(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 0)
	k := newKG(t, store, Options{Name: "research"})
	research(t, k)

	var root map[string]any
	require.NoError(t, store.GetJSON(ctx, k.RootCID(), &root))
	assert.Equal(t, "knowledge_graph", root["type"])
	assert.Equal(t, "research", root["name"])
	assert.Equal(t, 3.0, root["entity_count"])
	assert.Equal(t, 3.0, root["relationship_count"])
	assert.Equal(t, []any{"machine", "person"}, root["entity_types"])
	assert.Equal(t, []any{"ada", "engine", "babbage"}, root["entity_ids"])
	assert.Equal(t, []any{"r1", "r2", "r3"}, root["relationship_ids"])

	c, ok := k.EntityCID("ada")
	require.True(t, ok)
	assert.Equal(t, c.String(), root["entity_cids"].(map[string]any)["ada"])

	var blk map[string]any
	require.NoError(t, store.GetJSON(ctx, c, &blk))
	assert.Equal(t, "entity", blk["type"])
	assert.Equal(t, "person", blk["entity_type"])
	assert.Len(t, blk["embedding"], 3)
}

func TestValidationHasNoEffect(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 0)
	k := newKG(t, store, Options{})
	research(t, k)
	root, blocks, indexes := k.RootCID(), store.Len(), k.Graph().Indexes()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"missing endpoint", func() error {
			_, err := k.AddRelationship(ctx, RelationshipInput{Type: "knows", SourceID: "ada", TargetID: "nobody", Confidence: 1})
			return err
		}, graph.ErrMissingEndpoint},
		{"bad confidence", func() error {
			_, err := k.AddEntity(ctx, EntityInput{Type: "person", Name: "X", Confidence: 1.5})
			return err
		}, graph.ErrInvalidConfidence},
		{"missing type", func() error {
			_, err := k.AddEntity(ctx, EntityInput{Name: "X"})
			return err
		}, graph.ErrMissingType},
		{"duplicate entity", func() error {
			_, err := k.AddEntity(ctx, EntityInput{ID: "ada", Type: "person"})
			return err
		}, graph.ErrAlreadyExists},
		{"duplicate relationship", func() error {
			_, err := k.AddRelationship(ctx, RelationshipInput{ID: "r1", Type: "x", SourceID: "ada", TargetID: "engine"})
			return err
		}, graph.ErrAlreadyExists},
		{"dimension mismatch", func() error {
			_, err := k.AddEntity(ctx, EntityInput{Type: "person", Embedding: []float32{1, 2}})
			return err
		}, vectorindex.ErrDimensionMismatch},
		{"unencodable properties", func() error {
			_, err := k.AddEntity(ctx, EntityInput{Type: "person", Properties: graph.Properties{"f": func() {}}})
			return err
		}, kgerrors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, kgerrors.ErrValidation)
			assert.Equal(t, root, k.RootCID())
			assert.Equal(t, blocks, store.Len())
			assert.Equal(t, indexes, k.Graph().Indexes())
			assert.Equal(t, 3, k.Vectors().Len())
		})
	}
}

func TestRemoveEntityCascades(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 0)
	k := newKG(t, store, Options{})
	research(t, k)
	before := k.RootCID()

	removed, err := k.RemoveEntity(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, []graph.RelationshipID{"r1", "r3"}, removed)
	assert.NotEqual(t, before, k.RootCID())
	assert.Equal(t, 2, k.Vectors().Len())
	_, ok := k.Embedding("ada")
	assert.False(t, ok)

	hits, err := k.TextIndex().Search(ctx, "lovelace", 5, "")
	require.NoError(t, err)
	assert.Empty(t, hits)

	loaded, err := FromCID(ctx, store, k.RootCID(), Options{})
	require.NoError(t, err)
	defer loaded.Close()
	assertSameGraph(t, k, loaded)

	_, err = k.RemoveEntity(ctx, "ada")
	assert.ErrorIs(t, err, kgerrors.ErrNotFound)

	require.NoError(t, k.RemoveRelationship(ctx, "r2"))
	assert.Zero(t, k.Graph().RelationshipCount())
}

func TestFailedCommitRollsBack(t *testing.T) {
	store := newStore(t, 0)
	k := newKG(t, store, Options{})
	research(t, k)
	root, indexes, rels := k.RootCID(), k.Graph().Indexes(), k.Graph().Relationships()
	entities, vectors, embeddings := k.Graph().Entities(), k.Vectors().IDs(), k.Embeddings()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	assertUnchanged := func(t *testing.T) {
		t.Helper()
		assert.Equal(t, root, k.RootCID())
		assert.False(t, k.Dirty())
		assert.Equal(t, indexes, k.Graph().Indexes())
		assert.Equal(t, entities, k.Graph().Entities())
		assert.Equal(t, rels, k.Graph().Relationships())
		assert.Equal(t, vectors, k.Vectors().IDs())
		assert.Equal(t, embeddings, k.Embeddings())
	}

	t.Run("remove entity", func(t *testing.T) {
		_, err := k.RemoveEntity(cancelled, "ada")
		require.ErrorIs(t, err, context.Canceled)
		assertUnchanged(t)
		assert.True(t, k.Graph().HasEntity("ada"))
		c, ok := k.EntityCID("ada")
		assert.True(t, ok)
		assert.True(t, c.Defined())

		hits, err := k.TextIndex().Search(context.Background(), "lovelace", 5, "")
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, graph.EntityID("ada"), hits[0].ID)

		res, err := k.Vectors().Search(context.Background(), []float32{1, 0, 0}, 1, nil)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "ada", res[0].Metadata[graphrag.MetadataEntityID])
	})

	t.Run("remove relationship", func(t *testing.T) {
		require.ErrorIs(t, k.RemoveRelationship(cancelled, "r2"), context.Canceled)
		assertUnchanged(t)
	})

	t.Run("replace properties", func(t *testing.T) {
		require.ErrorIs(t, k.ReplaceEntityProperties(cancelled, "ada", graph.Properties{"born": 1900}), context.Canceled)
		require.ErrorIs(t, k.ReplaceRelationshipProperties(cancelled, "r2", graph.Properties{"year": 1900}), context.Canceled)
		assertUnchanged(t)
		assert.Empty(t, k.Graph().EntitiesByProperty("born", 1900))
	})

	t.Run("next commit matches a clean removal", func(t *testing.T) {
		ctx := context.Background()
		_, err := k.RemoveEntity(ctx, "ada")
		require.NoError(t, err)

		clean := newKG(t, newStore(t, 0), Options{})
		research(t, clean)
		_, err = clean.RemoveEntity(ctx, "ada")
		require.NoError(t, err)
		assert.Equal(t, clean.RootCID(), k.RootCID())
	})
}

func TestReplaceProperties(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 0)
	k := newKG(t, store, Options{})
	research(t, k)
	oldCID, _ := k.EntityCID("engine")

	require.NoError(t, k.ReplaceEntityProperties(ctx, "engine", graph.Properties{"status": "unbuilt"}))
	newCID, _ := k.EntityCID("engine")
	assert.NotEqual(t, oldCID, newCID)
	assert.Len(t, k.Graph().EntitiesByProperty("status", "unbuilt"), 1)

	require.NoError(t, k.ReplaceRelationshipProperties(ctx, "r1", graph.Properties{"role": "programmer"}))

	loaded, err := FromCID(ctx, store, k.RootCID(), Options{})
	require.NoError(t, err)
	defer loaded.Close()
	assertSameGraph(t, k, loaded)
	emb, ok := loaded.Embedding("engine")
	require.True(t, ok, "embedding survives a property rewrite")
	assert.Equal(t, []float32{0, 1, 0}, emb)
}

func TestChunkedFields(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 4096)
	k := newKG(t, store, Options{ChunkThreshold: 512, DisableTextIndex: true})

	require.NoError(t, k.Batch(ctx, func() error {
		for i := 0; i < 80; i++ {
			if _, err := k.AddEntity(ctx, EntityInput{ID: graph.EntityID(fmt.Sprintf("entity-%03d", i)), Type: "node", Confidence: 1}); err != nil {
				return err
			}
			if i > 0 {
				if _, err := k.AddRelationship(ctx, RelationshipInput{
					ID:       graph.RelationshipID(fmt.Sprintf("rel-%03d", i)),
					Type:     "next",
					SourceID: graph.EntityID(fmt.Sprintf("entity-%03d", i-1)),
					TargetID: graph.EntityID(fmt.Sprintf("entity-%03d", i)),
				}); err != nil {
					return err
				}
			}
		}
		return nil
	}))

	raw, err := store.Get(ctx, k.RootCID())
	require.NoError(t, err)
	assert.Less(t, len(raw), 4096)

	var root map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &root))
	for _, field := range []string{"entity_ids", "entity_cids", "relationship_ids", "relationship_cids"} {
		var ref chunkRef
		require.NoError(t, json.Unmarshal(root[field], &ref), field)
		assert.True(t, ref.Chunked, field)

		var m chunkManifest
		require.NoError(t, store.GetJSON(ctx, mustCID(t, ref.CID), &m))
		assert.Equal(t, field, m.Field)
		assert.Greater(t, len(m.Segments), 1, field)
		for _, s := range m.Segments {
			seg, err := store.Get(ctx, mustCID(t, s))
			require.NoError(t, err)
			assert.LessOrEqual(t, len(seg), 512)
		}
	}

	loaded, err := FromCID(ctx, store, k.RootCID(), Options{ChunkThreshold: 512, DisableTextIndex: true})
	require.NoError(t, err)
	assertSameGraph(t, k, loaded)
}

// Every field fits under the chunk threshold on its own, but together they
// push the root past the block limit; the largest field must be spilled.
func TestRootSpillsToFitBlockLimit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 4096)
	k := newKG(t, store, Options{ChunkThreshold: 4000, DisableTextIndex: true})

	for i := 0; i < 52; i++ {
		_, err := k.AddEntity(ctx, EntityInput{ID: graph.EntityID(fmt.Sprintf("e%04d", i)), Type: "node", Confidence: 1})
		require.NoError(t, err, "entity %d", i)
	}

	raw, err := store.Get(ctx, k.RootCID())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(raw), store.MaxBlockSize())

	var root map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &root))
	var ref chunkRef
	require.NoError(t, json.Unmarshal(root["entity_cids"], &ref))
	assert.True(t, ref.Chunked, "entity_cids is the largest field")
	var ids []string
	require.NoError(t, json.Unmarshal(root["entity_ids"], &ids), "entity_ids stays inline")
	assert.Len(t, ids, 52)

	loaded, err := FromCID(ctx, store, k.RootCID(), Options{ChunkThreshold: 4000, DisableTextIndex: true})
	require.NoError(t, err)
	defer loaded.Close()
	assertSameGraph(t, k, loaded)
}

func TestCapacityExceededLeavesRoot(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 4096)
	k := newKG(t, store, Options{ChunkThreshold: 512})
	_, err := k.AddEntity(ctx, EntityInput{ID: "small", Type: "node", Confidence: 1})
	require.NoError(t, err)
	root, indexes := k.RootCID(), k.Graph().Indexes()

	_, err = k.AddEntity(ctx, EntityInput{ID: graph.EntityID(strings.Repeat("x", 600)), Type: "node", Confidence: 1})
	require.ErrorIs(t, err, ErrEntryTooLarge)
	assert.ErrorIs(t, err, kgerrors.ErrCapacityExceeded)
	assert.Equal(t, root, k.RootCID())
	assert.Equal(t, indexes, k.Graph().Indexes())
	assert.False(t, k.Dirty())
}

func TestCARRoundTrip(t *testing.T) {
	ctx := context.Background()
	k := newKG(t, newStore(t, 4096), Options{ChunkThreshold: 256})
	research(t, k)
	for i := 0; i < 20; i++ {
		_, err := k.AddEntity(ctx, EntityInput{ID: graph.EntityID(fmt.Sprintf("extra-%02d", i)), Type: "node", Confidence: 1})
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "graph.car")
	root, err := k.ExportCAR(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, k.RootCID(), root)

	other := newStore(t, 4096)
	loaded, err := FromCAR(ctx, other, path, Options{ChunkThreshold: 256})
	require.NoError(t, err)
	defer loaded.Close()
	assertSameGraph(t, k, loaded)
	assert.Equal(t, root, loaded.RootCID())
}

func TestFromCIDRejectsOtherBlocks(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 0)
	c, err := store.PutJSON(ctx, map[string]any{"type": "entity"})
	require.NoError(t, err)
	_, err = FromCID(ctx, store, c, Options{})
	assert.ErrorIs(t, err, ErrNotGraphRoot)
	assert.ErrorIs(t, err, kgerrors.ErrCorruptBlock)

	raw, err := store.Put(ctx, []byte("not json"))
	require.NoError(t, err)
	_, err = FromCID(ctx, store, raw, Options{})
	assert.ErrorIs(t, err, kgerrors.ErrCorruptBlock)
}

func TestDeferCommit(t *testing.T) {
	ctx := context.Background()
	k := newKG(t, newStore(t, 0), Options{DeferCommit: true})
	research(t, k)
	assert.False(t, k.RootCID().Defined())
	assert.True(t, k.Dirty())

	root, err := k.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, root.Defined())
	assert.False(t, k.Dirty())

	again, err := k.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, again)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(newStore(t, 4096), Options{ChunkThreshold: 8192})
	assert.ErrorIs(t, err, kgerrors.ErrValidation)
	_, err = New(nil, Options{})
	assert.ErrorIs(t, err, kgerrors.ErrValidation)
}

func TestEmbedderAndSearch(t *testing.T) {
	ctx := context.Background()
	vocab := map[string][]float32{"lovelace": {1, 0}, "engine": {0, 1}}
	embedder := embed.Func{Dim: 2, Fn: func(_ context.Context, text string) ([]float32, error) {
		for word, v := range vocab {
			if strings.Contains(strings.ToLower(text), word) {
				return v, nil
			}
		}
		return []float32{0.5, 0.5}, nil
	}}
	k := newKG(t, newStore(t, 0), Options{Embedder: embedder})

	ada, err := k.AddEntity(ctx, EntityInput{Type: "person", Name: "Ada Lovelace", Confidence: 1})
	require.NoError(t, err)
	eng, err := k.AddEntity(ctx, EntityInput{Type: "machine", Name: "Analytical Engine", Confidence: 1})
	require.NoError(t, err)
	_, err = k.AddRelationship(ctx, RelationshipInput{Type: "worked_on", SourceID: ada.ID, TargetID: eng.ID, Confidence: 1})
	require.NoError(t, err)

	emb, ok := k.Embedding(ada.ID)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0}, emb)

	results, err := k.Search(ctx, graphrag.Query{Text: "Lovelace"}, graphrag.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ada.ID, results[0].Entity.ID)
	assert.Equal(t, eng.ID, results[1].Entity.ID)
	assert.Equal(t, []graph.EntityID{ada.ID, eng.ID}, results[1].Path)
}

func TestSearchCache(t *testing.T) {
	ctx := context.Background()
	k := newKG(t, newStore(t, 0), Options{SearchCacheSize: 8})
	research(t, k)

	q := graphrag.Query{Vector: []float32{1, 0, 0}}
	first, err := k.Search(ctx, q, graphrag.DefaultOptions())
	require.NoError(t, err)
	again, err := k.Search(ctx, q, graphrag.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, first, again)
	st := k.SearchCacheStats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)

	opts := graphrag.DefaultOptions()
	opts.MaxDepth = 0
	_, err = k.Search(ctx, q, opts)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), k.SearchCacheStats().Misses, "options are part of the key")

	_, err = k.AddEntity(ctx, EntityInput{ID: "countess", Type: "person", Name: "Countess of Lovelace",
		Confidence: 1, Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	after, err := k.Search(ctx, q, graphrag.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), k.SearchCacheStats().Misses, "a write invalidates cached results")
	assert.Len(t, after, len(first)+1)
}

func TestApplyPrediction(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 0)
	k := newKG(t, store, Options{})
	research(t, k)

	preds, err := k.Predict(ctx, linkpredict.Options{})
	require.NoError(t, err)
	p, found := linkpredict.Prediction{}, false
	for _, cand := range preds {
		if cand.Key() == (linkpredict.Key{SourceID: "ada", TargetID: "engine", Type: "designed"}) {
			p, found = cand, true
		}
	}
	if !found {
		p = linkpredict.Prediction{SourceID: "babbage", TargetID: "ada", Type: "knows",
			Confidence: 0.7, Method: linkpredict.MethodSymmetric, Explanation: "reverse of knows"}
	}

	r, err := k.ApplyPrediction(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, true, r.Properties["predicted"])
	assert.Equal(t, string(p.Method), r.Properties["method"])
	assert.Equal(t, p.Confidence, r.Confidence)
	if len(p.Evidence) > 0 {
		evidence, ok := r.Properties.Strings("evidence")
		require.True(t, ok)
		assert.Len(t, evidence, len(p.Evidence))
		assert.Equal(t, string(p.Evidence[0]), evidence[0])
	}

	_, err = k.ApplyPrediction(ctx, p)
	assert.ErrorIs(t, err, graph.ErrAlreadyExists)

	loaded, err := FromCID(ctx, store, k.RootCID(), Options{})
	require.NoError(t, err)
	defer loaded.Close()
	assertSameGraph(t, k, loaded)
}

func TestMergeResolution(t *testing.T) {
	ctx := context.Background()
	policies := map[MergePolicy]any{MergeKeep: 1815.0, MergeReplace: 1816.0, MergeUnion: 1815.0}
	for policy, born := range policies {
		t.Run(string(policy), func(t *testing.T) {
			store := newStore(t, 0)
			k := newKG(t, store, Options{})
			research(t, k)
			_, err := k.AddEntity(ctx, EntityInput{ID: "ada2", Type: "person", Name: "A. Lovelace", Confidence: 1,
				Properties: graph.Properties{"born": 1816, "title": "Countess"}, Embedding: []float32{1, 0.05, 0}})
			require.NoError(t, err)
			_, err = k.AddRelationship(ctx, RelationshipInput{ID: "r4", Type: "knows", SourceID: "ada2", TargetID: "babbage", Confidence: 1})
			require.NoError(t, err)
			_, err = k.AddRelationship(ctx, RelationshipInput{ID: "r5", Type: "wrote_about", SourceID: "ada2", TargetID: "engine", Confidence: 1})
			require.NoError(t, err)
			before := k.RootCID()

			res, err := k.Resolve(ctx, []graph.EntityID{"ada", "ada2", "babbage"}, algo.ResolutionOptions{Threshold: 0.99})
			require.NoError(t, err)
			require.Equal(t, []graph.EntityID{"ada"}, res.Merged())

			report, err := k.MergeResolution(ctx, res, policy)
			require.NoError(t, err)
			assert.Equal(t, []graph.EntityID{"ada2"}, report.Removed)
			assert.Equal(t, 1, report.Redirected)
			assert.Equal(t, 1, report.Dropped)
			assert.NotEqual(t, before, k.RootCID())
			assert.False(t, k.Graph().HasEntity("ada2"))

			ada, err := k.Entity("ada")
			require.NoError(t, err)
			assert.Equal(t, born, ada.Properties["born"])
			if policy == MergeKeep {
				assert.NotContains(t, ada.Properties, "title")
			} else {
				assert.Equal(t, "Countess", ada.Properties["title"])
			}
			rels := k.Graph().RelationshipsBetween("ada", "engine")
			require.Len(t, rels, 2)
			assert.Equal(t, "wrote_about", rels[1].Type)

			loaded, err := FromCID(ctx, store, k.RootCID(), Options{})
			require.NoError(t, err)
			defer loaded.Close()
			assertSameGraph(t, k, loaded)
		})
	}

	_, err := ParseMergePolicy("overwrite")
	assert.ErrorIs(t, err, kgerrors.ErrValidation)
}

func TestQueryWrappers(t *testing.T) {
	ctx := context.Background()
	k := newKG(t, newStore(t, 0), Options{})
	research(t, k)

	pr, err := k.PageRank(ctx, algo.PageRankOptions{QueryVector: []float32{1, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, graph.EntityID("engine"), pr.Ranked()[0].ID)

	comm, err := k.Communities(ctx, algo.CommunityOptions{})
	require.NoError(t, err)
	assert.Len(t, comm.Communities, 1)
}

func mustCID(t *testing.T, s string) cid.Cid {
	t.Helper()
	c, err := cid.Decode(s)
	require.NoError(t, err)
	return c
}
