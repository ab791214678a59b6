package algo

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
)

func buildGraph(t testing.TB, ids []string, edges [][2]string) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, id := range ids {
		require.NoError(t, g.AddEntity(&graph.Entity{ID: graph.EntityID(id), Type: "node", Name: id, Confidence: 1}))
	}
	for _, e := range edges {
		require.NoError(t, g.AddRelationship(&graph.Relationship{
			Type: "link", SourceID: graph.EntityID(e[0]), TargetID: graph.EntityID(e[1]), Confidence: 1,
		}))
	}
	return g
}

func sum(scores map[graph.EntityID]float64) float64 {
	total := 0.0
	for _, s := range scores {
		total += s
	}
	return total
}

func TestPageRank(t *testing.T) {
	ctx := context.Background()

	t.Run("source node settles at teleport mass", func(t *testing.T) {
		// a has no incoming edges; b and c form a cycle, so there is no
		// dangling mass.
		g := buildGraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "b"}})
		res, err := PageRank(ctx, g, PageRankOptions{})
		require.NoError(t, err)
		assert.True(t, res.Converged)
		assert.InDelta(t, 1.0, sum(res.Scores), 1e-9)
		assert.InDelta(t, (1-DefaultDamping)/3, res.Scores["a"], 1e-6)
		assert.Greater(t, res.Scores["b"], res.Scores["a"])
	})

	t.Run("dangling nodes keep the sum at one", func(t *testing.T) {
		g := buildGraph(t, []string{"a", "b", "c", "d"}, [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}})
		res, err := PageRank(ctx, g, PageRankOptions{})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sum(res.Scores), 1e-9)
		assert.Equal(t, graph.EntityID("c"), res.Ranked()[0].ID)
	})

	t.Run("edge weights", func(t *testing.T) {
		g := buildGraph(t, []string{"hub", "heavy", "light"}, nil)
		require.NoError(t, g.AddRelationship(&graph.Relationship{
			Type: "w", SourceID: "hub", TargetID: "heavy", Properties: graph.Properties{"weight": 9.0},
		}))
		require.NoError(t, g.AddRelationship(&graph.Relationship{
			Type: "w", SourceID: "hub", TargetID: "light", Properties: graph.Properties{"weight": 1.0},
		}))
		res, err := PageRank(ctx, g, PageRankOptions{})
		require.NoError(t, err)
		assert.Greater(t, res.Scores["heavy"], res.Scores["light"])
	})

	t.Run("query vector modulates damping", func(t *testing.T) {
		g := buildGraph(t, []string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}})
		plain, err := PageRank(ctx, g, PageRankOptions{})
		require.NoError(t, err)
		res, err := PageRank(ctx, g, PageRankOptions{
			QueryVector: []float32{1, 0},
			Embeddings:  map[graph.EntityID][]float32{"a": {1, 0}, "b": {0, 1}},
		})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sum(res.Scores), 1e-9)
		// b teleports more of its mass, so a gains less from it
		assert.InDelta(t, plain.Scores["a"], plain.Scores["b"], 1e-9)
		assert.Greater(t, res.Scores["b"], res.Scores["a"])
	})

	t.Run("empty graph", func(t *testing.T) {
		res, err := PageRank(ctx, graph.New(), PageRankOptions{})
		require.NoError(t, err)
		assert.Empty(t, res.Scores)
		assert.True(t, res.Converged)
	})

	t.Run("invalid damping", func(t *testing.T) {
		_, err := PageRank(ctx, graph.New(), PageRankOptions{Damping: 1.5})
		assert.ErrorIs(t, err, kgerrors.ErrValidation)
	})

	t.Run("iteration cap", func(t *testing.T) {
		g := buildGraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"a", "c"}})
		res, err := PageRank(ctx, g, PageRankOptions{MaxIterations: 1, Tolerance: 1e-15})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Iterations)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		g := buildGraph(t, []string{"a"}, nil)
		_, err := PageRank(cctx, g, PageRankOptions{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPageRankSumsToOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := graph.New()
		n := rapid.IntRange(1, 15).Draw(t, "n")
		for i := 0; i < n; i++ {
			_ = g.AddEntity(&graph.Entity{ID: graph.EntityID(fmt.Sprint(i)), Type: "t"})
		}
		for i, m := 0, rapid.IntRange(0, 40).Draw(t, "m"); i < m; i++ {
			_ = g.AddRelationship(&graph.Relationship{
				Type:       "e",
				SourceID:   graph.EntityID(fmt.Sprint(rapid.IntRange(0, n-1).Draw(t, "s"))),
				TargetID:   graph.EntityID(fmt.Sprint(rapid.IntRange(0, n-1).Draw(t, "d"))),
				Confidence: rapid.Float64Range(0, 1).Draw(t, "c"),
			})
		}
		res, err := PageRank(context.Background(), g, PageRankOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if total := sum(res.Scores); math.Abs(total-1) > 1e-6 {
			t.Fatalf("scores sum to %v", total)
		}
		for id, s := range res.Scores {
			if s < 0 {
				t.Fatalf("negative score for %s", id)
			}
		}
	})
}

func TestDegreeCentrality(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"a", "c"}})
	ranked := DegreeCentrality(g, graph.Outgoing)
	require.Len(t, ranked, 3)
	assert.Equal(t, graph.EntityID("a"), ranked[0].ID)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-12)
	assert.Equal(t, []ScoredEntity{{ID: "b"}, {ID: "c"}}, ranked[1:])

	incoming := DegreeCentrality(g, graph.Incoming)
	assert.Equal(t, []graph.EntityID{"b", "c", "a"},
		[]graph.EntityID{incoming[0].ID, incoming[1].ID, incoming[2].ID})
	assert.InDelta(t, 0.5, incoming[0].Score, 1e-12)
}

func TestCommunities(t *testing.T) {
	g := buildGraph(t,
		[]string{"a", "b", "c", "d", "e", "f", "lonely"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"d", "e"}, {"e", "f"}, {"f", "d"}},
	)
	res, err := Communities(context.Background(), g, CommunityOptions{})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, [][]graph.EntityID{{"a", "b", "c"}, {"d", "e", "f"}, {"lonely"}}, res.Communities)
	assert.Equal(t, res.Labels["a"], res.Labels["c"])
	assert.NotEqual(t, res.Labels["a"], res.Labels["d"])
	assert.InDelta(t, 0.5, res.Modularity, 1e-9)

	again, err := Communities(context.Background(), g, CommunityOptions{})
	require.NoError(t, err)
	assert.Equal(t, res.Communities, again.Communities)
}

func TestCommunitiesNoEdges(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, nil)
	res, err := Communities(context.Background(), g, CommunityOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Communities, 2)
	assert.Zero(t, res.Modularity)
}

func TestConnectedComponents(t *testing.T) {
	g := buildGraph(t,
		[]string{"a", "b", "c", "d", "e"},
		[][2]string{{"b", "a"}, {"d", "c"}, {"c", "e"}},
	)
	assert.Equal(t, [][]graph.EntityID{{"a", "b"}, {"c", "d", "e"}}, ConnectedComponents(g))
}

func TestUnionFind(t *testing.T) {
	uf := NewUnionFind(5)
	assert.True(t, uf.Union(4, 2))
	assert.True(t, uf.Union(2, 0))
	assert.False(t, uf.Union(0, 4))
	assert.Equal(t, uf.Find(0), uf.Find(4))
	assert.Equal(t, [][]int{{0, 2, 4}, {1}, {3}}, uf.Groups())
}
