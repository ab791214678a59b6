package linkpredict

import (
	"testing"

	"github.com/endomorphosis/ipfskg/pkg/graph"
)

// TestCommonNeighbors verifies basic common neighbor counting.
func TestCommonNeighbors(t *testing.T) {
	adj := buildTestAdjacency()

	// alice and diana share bob and charlie as common neighbors
	predictions := CommonNeighbors(adj, "alice", 5)

	if len(predictions) != 1 {
		t.Fatalf("Expected 1 prediction, got %d", len(predictions))
	}
	if predictions[0].TargetID != "diana" {
		t.Errorf("Expected diana, got %s", predictions[0].TargetID)
	}

	// 2 common neighbors -> 1 - 1/(1 + 2/2) = 0.5
	if got := predictions[0].Score; got < 0.49 || got > 0.51 {
		t.Errorf("Expected normalized score ~0.50, got %.3f", got)
	}
}

// TestJaccard verifies Jaccard coefficient calculation.
func TestJaccard(t *testing.T) {
	adj := buildTestAdjacency()

	predictions := Jaccard(adj, "alice", 5)
	if len(predictions) != 1 {
		t.Fatalf("Expected 1 prediction, got %d", len(predictions))
	}

	// identical neighbourhoods {bob, charlie}
	if predictions[0].Score != 1.0 {
		t.Errorf("Expected jaccard 1.0, got %.3f", predictions[0].Score)
	}
	if predictions[0].Algorithm != AlgorithmJaccard {
		t.Errorf("Expected algorithm 'jaccard', got '%s'", predictions[0].Algorithm)
	}
}

// TestAdamicAdar verifies Adamic-Adar scoring.
func TestAdamicAdar(t *testing.T) {
	adj := buildTestAdjacency()

	predictions := AdamicAdar(adj, "alice", 5)
	if len(predictions) == 0 {
		t.Fatal("Expected predictions, got none")
	}
	if predictions[0].TargetID != "diana" {
		t.Errorf("Expected diana, got %s", predictions[0].TargetID)
	}
	if predictions[0].Score <= 0 || predictions[0].Score > 1 {
		t.Errorf("Score out of (0,1]: %.3f", predictions[0].Score)
	}
}

// TestPreferentialAttachment scores every non-neighbour, isolated ones at zero.
func TestPreferentialAttachment(t *testing.T) {
	adj := buildTestAdjacency()

	predictions := PreferentialAttachment(adj, "alice", 0)
	if len(predictions) != 2 {
		t.Fatalf("Expected diana and eve, got %d predictions", len(predictions))
	}
	if predictions[0].TargetID != "diana" {
		t.Errorf("Expected diana first, got %s", predictions[0].TargetID)
	}
	if predictions[1].Score != 0 {
		t.Errorf("Expected isolated eve to score 0, got %.3f", predictions[1].Score)
	}
}

// TestResourceAllocation verifies each shared neighbour contributes 1/degree.
func TestResourceAllocation(t *testing.T) {
	adj := buildTestAdjacency()

	predictions := ResourceAllocation(adj, "alice", 5)
	if len(predictions) != 1 {
		t.Fatalf("Expected 1 prediction, got %d", len(predictions))
	}
	// bob and charlie both have degree 2: 1/2 + 1/2 = 1, tanh(1/5)
	want := normalizeAlgorithmScore(1.0, AlgorithmResourceAllocation)
	if predictions[0].Score != want {
		t.Errorf("Expected %.4f, got %.4f", want, predictions[0].Score)
	}
}

// TestExcludeExistingEdges makes sure neighbours and self are never suggested.
func TestExcludeExistingEdges(t *testing.T) {
	adj := buildTestAdjacency()

	for name, score := range Scorers {
		for _, p := range score(adj, "alice", 0) {
			if p.TargetID == "alice" || p.TargetID == "bob" || p.TargetID == "charlie" {
				t.Errorf("%s suggested existing neighbour or self %s", name, p.TargetID)
			}
		}
	}
}

// TestUnknownSource returns nothing for entities outside the adjacency.
func TestUnknownSource(t *testing.T) {
	adj := buildTestAdjacency()

	for name, score := range Scorers {
		if preds := score(adj, "nobody", 5); preds != nil {
			t.Errorf("%s: expected nil for unknown source, got %v", name, preds)
		}
	}
}

// TestTopKLimit verifies truncation and ordering.
func TestTopKLimit(t *testing.T) {
	adj := Adjacency{
		"hub": {"a": {}, "b": {}},
		"a":   {"hub": {}, "x": {}, "y": {}},
		"b":   {"hub": {}, "x": {}},
		"x":   {"a": {}, "b": {}},
		"y":   {"a": {}},
	}

	predictions := CommonNeighbors(adj, "hub", 1)
	if len(predictions) != 1 {
		t.Fatalf("Expected 1 prediction, got %d", len(predictions))
	}
	if predictions[0].TargetID != "x" {
		t.Errorf("Expected x (2 shared), got %s", predictions[0].TargetID)
	}
}

// TestBuildAdjacency covers direction handling and self-loops.
func TestBuildAdjacency(t *testing.T) {
	g := graph.New()
	for _, id := range []graph.EntityID{"a", "b", "c"} {
		if err := g.AddEntity(&graph.Entity{ID: id, Type: "t"}); err != nil {
			t.Fatal(err)
		}
	}
	for _, r := range []*graph.Relationship{
		{Type: "x", SourceID: "a", TargetID: "b"},
		{Type: "x", SourceID: "b", TargetID: "b"},
	} {
		if err := g.AddRelationship(r); err != nil {
			t.Fatal(err)
		}
	}

	directed := BuildAdjacency(g, false)
	if !directed["a"].Contains("b") || directed["b"].Contains("a") {
		t.Error("directed adjacency should only hold a -> b")
	}
	if directed["b"].Contains("b") {
		t.Error("self-loops should be dropped")
	}
	if _, ok := directed["c"]; !ok {
		t.Error("isolated entity missing from adjacency")
	}

	undirected := BuildAdjacency(g, true)
	if !undirected["b"].Contains("a") || undirected.Degree("a") != 1 {
		t.Error("undirected adjacency should hold both directions")
	}
}

// buildTestAdjacency creates a small test graph.
//
// Structure:
//
//	alice -- bob -- diana
//	alice -- charlie -- diana
//	eve (isolated)
func buildTestAdjacency() Adjacency {
	return Adjacency{
		"alice":   {"bob": {}, "charlie": {}},
		"bob":     {"alice": {}, "diana": {}},
		"charlie": {"alice": {}, "diana": {}},
		"diana":   {"bob": {}, "charlie": {}},
		"eve":     {}, // isolated node
	}
}
