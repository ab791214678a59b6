package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTraverse(t *testing.T) {
	g := chain(t)

	t.Run("max depth is inclusive", func(t *testing.T) {
		got, err := g.Traverse("a", TraverseOptions{MaxDepth: 2})
		require.NoError(t, err)
		assert.Equal(t, []EntityID{"b", "c"}, got)
	})

	t.Run("zero depth is empty", func(t *testing.T) {
		got, err := g.Traverse("a", TraverseOptions{MaxDepth: 0})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("incoming", func(t *testing.T) {
		got, err := g.Traverse("d", TraverseOptions{Direction: Incoming, MaxDepth: 10})
		require.NoError(t, err)
		assert.Equal(t, []EntityID{"c", "b", "a"}, got)
	})

	t.Run("both directions", func(t *testing.T) {
		got, err := g.Traverse("b", TraverseOptions{Direction: Both, MaxDepth: 1})
		require.NoError(t, err)
		assert.Equal(t, []EntityID{"c", "a"}, got)
	})

	t.Run("unknown start", func(t *testing.T) {
		_, err := g.Traverse("ghost", TraverseOptions{MaxDepth: 1})
		assert.ErrorIs(t, err, ErrEntityNotFound)
	})

	t.Run("bad direction", func(t *testing.T) {
		_, err := g.Traverse("a", TraverseOptions{Direction: "sideways", MaxDepth: 1})
		assert.ErrorIs(t, err, ErrInvalidDirection)
	})
}

func TestTraverseFilters(t *testing.T) {
	g := New()
	mustEntity(t, g, "root", "hub", nil)
	mustEntity(t, g, "p1", "person", nil)
	mustEntity(t, g, "o1", "org", nil)
	mustEntity(t, g, "p2", "person", nil)
	mustRel(t, g, "r1", "knows", "root", "p1")
	mustRel(t, g, "r2", "owns", "root", "o1")
	mustRel(t, g, "r3", "knows", "o1", "p2")
	require.NoError(t, g.ReplaceRelationshipProperties("r1", Properties{"weight": 0.1}))

	t.Run("edge type", func(t *testing.T) {
		got, err := g.Traverse("root", TraverseOptions{EdgeType: "knows", MaxDepth: 3})
		require.NoError(t, err)
		assert.Equal(t, []EntityID{"p1"}, got)
	})

	t.Run("node filter blocks expansion", func(t *testing.T) {
		got, err := g.Traverse("root", TraverseOptions{
			MaxDepth:   3,
			NodeFilter: func(e *Entity) bool { return e.Type != "org" },
		})
		require.NoError(t, err)
		assert.Equal(t, []EntityID{"p1"}, got)
	})

	t.Run("edge filter", func(t *testing.T) {
		got, err := g.Traverse("root", TraverseOptions{
			MaxDepth: 3,
			EdgeFilter: func(p Properties) bool {
				w, ok := p.Float("weight")
				return !ok || w > 0.5
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []EntityID{"o1", "p2"}, got)
	})
}

func TestTraverseWithDepth(t *testing.T) {
	g := chain(t)
	hops, err := g.TraverseWithDepth("a", TraverseOptions{MaxDepth: 3})
	require.NoError(t, err)
	require.Len(t, hops, 3)

	last := hops[2]
	assert.Equal(t, EntityID("d"), last.ID)
	assert.Equal(t, 3, last.Depth)
	assert.Equal(t, []EntityID{"a", "b", "c", "d"}, last.Path)
	assert.Equal(t, []RelationshipID{"ab", "bc", "cd"}, last.Relationships)
}

func TestTraverseProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := New()
		n := rapid.IntRange(1, 10).Draw(t, "n")
		for i := 0; i < n; i++ {
			_ = g.AddEntity(&Entity{ID: EntityID(fmt.Sprint(i)), Type: "t"})
		}
		for i, m := 0, rapid.IntRange(0, 25).Draw(t, "m"); i < m; i++ {
			_ = g.AddRelationship(&Relationship{
				Type:     "e",
				SourceID: EntityID(fmt.Sprint(rapid.IntRange(0, n-1).Draw(t, "s"))),
				TargetID: EntityID(fmt.Sprint(rapid.IntRange(0, n-1).Draw(t, "d"))),
			})
		}
		start := EntityID(fmt.Sprint(rapid.IntRange(0, n-1).Draw(t, "start")))
		depth := rapid.IntRange(0, 5).Draw(t, "depth")
		dir := rapid.SampledFrom([]Direction{Outgoing, Incoming, Both}).Draw(t, "dir")

		hops, err := g.TraverseWithDepth(start, TraverseOptions{Direction: dir, MaxDepth: depth})
		if err != nil {
			t.Fatal(err)
		}
		if depth == 0 && len(hops) != 0 {
			t.Fatalf("depth 0 returned %d hops", len(hops))
		}
		seen := map[EntityID]bool{}
		prev := 0
		for _, h := range hops {
			if h.ID == start {
				t.Fatalf("start %s returned", start)
			}
			if seen[h.ID] {
				t.Fatalf("%s visited twice", h.ID)
			}
			seen[h.ID] = true
			if h.Depth < prev || h.Depth > depth {
				t.Fatalf("depth %d out of order or bound", h.Depth)
			}
			prev = h.Depth
			if len(h.Path) != h.Depth+1 || len(h.Relationships) != h.Depth {
				t.Fatalf("path length mismatch for %s", h.ID)
			}
		}
	})
}

func TestFindPaths(t *testing.T) {
	// a -> b -> d, a -> c -> d, a -> d, d -> a
	g := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		mustEntity(t, g, id, "n", nil)
	}
	mustRel(t, g, "ab", "x", "a", "b")
	mustRel(t, g, "bd", "x", "b", "d")
	mustRel(t, g, "ac", "y", "a", "c")
	mustRel(t, g, "cd", "x", "c", "d")
	mustRel(t, g, "ad", "x", "a", "d")
	mustRel(t, g, "da", "x", "d", "a")

	t.Run("all simple paths", func(t *testing.T) {
		paths, err := g.FindPaths("a", "d", PathOptions{MaxDepth: 3})
		require.NoError(t, err)
		assert.Equal(t, [][]EntityID{
			{"a", "b", "d"},
			{"a", "c", "d"},
			{"a", "d"},
		}, paths)
	})

	t.Run("depth bound", func(t *testing.T) {
		paths, err := g.FindPaths("a", "d", PathOptions{MaxDepth: 1})
		require.NoError(t, err)
		assert.Equal(t, [][]EntityID{{"a", "d"}}, paths)
	})

	t.Run("edge types", func(t *testing.T) {
		paths, err := g.FindPaths("a", "d", PathOptions{EdgeTypes: []string{"x"}, MaxDepth: 3})
		require.NoError(t, err)
		assert.Equal(t, [][]EntityID{{"a", "b", "d"}, {"a", "d"}}, paths)
	})

	t.Run("max paths", func(t *testing.T) {
		paths, err := g.FindPaths("a", "d", PathOptions{MaxDepth: 3, MaxPaths: 1})
		require.NoError(t, err)
		assert.Len(t, paths, 1)
	})

	t.Run("node reused across paths", func(t *testing.T) {
		paths, err := g.FindPaths("b", "c", PathOptions{MaxDepth: 4})
		require.NoError(t, err)
		assert.Equal(t, [][]EntityID{{"b", "d", "a", "c"}}, paths)
	})

	t.Run("same start and end", func(t *testing.T) {
		paths, err := g.FindPaths("a", "a", PathOptions{MaxDepth: 3})
		require.NoError(t, err)
		assert.Equal(t, [][]EntityID{{"a"}}, paths)
	})

	t.Run("unknown end", func(t *testing.T) {
		_, err := g.FindPaths("a", "ghost", PathOptions{MaxDepth: 3})
		assert.ErrorIs(t, err, ErrEntityNotFound)
	})
}

func TestShortestPath(t *testing.T) {
	g := chain(t)
	mustRel(t, g, "ac", "skip", "a", "c")

	path, err := g.ShortestPath("a", "d", TraverseOptions{})
	require.NoError(t, err)
	assert.Equal(t, []EntityID{"a", "c", "d"}, path)

	_, err = g.ShortestPath("d", "a", TraverseOptions{})
	assert.ErrorIs(t, err, ErrNoPath)

	path, err = g.ShortestPath("d", "a", TraverseOptions{Direction: Incoming})
	require.NoError(t, err)
	assert.Equal(t, []EntityID{"d", "c", "a"}, path)
}

func TestNeighborsAndDegree(t *testing.T) {
	g := chain(t)
	mustRel(t, g, "bb", "loop", "b", "b")
	mustRel(t, g, "ab2", "again", "a", "b")

	assert.Equal(t, []EntityID{"c"}, g.Neighbors("b", Outgoing))
	assert.Equal(t, []EntityID{"c", "a"}, g.Neighbors("b", Both))
	assert.Equal(t, 2, g.Degree("b", Outgoing))
	assert.Equal(t, 3, g.Degree("b", Incoming))
}
