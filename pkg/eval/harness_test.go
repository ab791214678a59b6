package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endomorphosis/ipfskg/pkg/blockstore"
	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/graphrag"
	"github.com/endomorphosis/ipfskg/pkg/kg"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
)

// =============================================================================
// Metric Calculation Tests
// =============================================================================

func TestPrecision(t *testing.T) {
	expected := map[string]bool{"a": true, "b": true, "c": true}

	t.Run("perfect_precision", func(t *testing.T) {
		returned := []string{"a", "b", "c", "d", "e"}
		p := precision(returned, expected, 3)
		assert.Equal(t, 1.0, p) // 3/3 relevant in top 3
	})

	t.Run("partial_precision", func(t *testing.T) {
		returned := []string{"a", "x", "b", "y", "c"}
		p := precision(returned, expected, 5)
		assert.Equal(t, 0.6, p) // 3/5 relevant in top 5
	})

	t.Run("zero_precision", func(t *testing.T) {
		returned := []string{"x", "y", "z"}
		p := precision(returned, expected, 3)
		assert.Equal(t, 0.0, p)
	})

	t.Run("empty_returned", func(t *testing.T) {
		p := precision([]string{}, expected, 3)
		assert.Equal(t, 0.0, p)
	})
}

func TestRecall(t *testing.T) {
	expected := map[string]bool{"a": true, "b": true, "c": true, "d": true}

	t.Run("perfect_recall", func(t *testing.T) {
		returned := []string{"a", "b", "c", "d", "x", "y"}
		r := recall(returned, expected, 10)
		assert.Equal(t, 1.0, r) // 4/4 found
	})

	t.Run("partial_recall", func(t *testing.T) {
		returned := []string{"a", "b", "x", "y", "z"}
		r := recall(returned, expected, 5)
		assert.Equal(t, 0.5, r) // 2/4 found
	})

	t.Run("zero_recall", func(t *testing.T) {
		returned := []string{"x", "y", "z"}
		r := recall(returned, expected, 3)
		assert.Equal(t, 0.0, r)
	})
}

func TestMRR(t *testing.T) {
	expected := map[string]bool{"a": true, "b": true}

	t.Run("first_position", func(t *testing.T) {
		returned := []string{"a", "x", "y"}
		m := mrr(returned, expected)
		assert.Equal(t, 1.0, m) // 1/1
	})

	t.Run("second_position", func(t *testing.T) {
		returned := []string{"x", "a", "y"}
		m := mrr(returned, expected)
		assert.Equal(t, 0.5, m) // 1/2
	})

	t.Run("third_position", func(t *testing.T) {
		returned := []string{"x", "y", "b"}
		m := mrr(returned, expected)
		assert.InDelta(t, 0.333, m, 0.01) // 1/3
	})

	t.Run("not_found", func(t *testing.T) {
		returned := []string{"x", "y", "z"}
		m := mrr(returned, expected)
		assert.Equal(t, 0.0, m)
	})
}

func TestNDCG(t *testing.T) {
	// Graded relevance: 3=highly relevant, 2=relevant, 1=marginal
	grades := map[string]int{
		"best": 3,
		"good": 2,
		"ok":   1,
	}

	t.Run("perfect_ranking", func(t *testing.T) {
		// Best possible order
		returned := []string{"best", "good", "ok"}
		n := ndcg(returned, grades, 3)
		assert.InDelta(t, 1.0, n, 0.01) // Perfect ranking = 1.0
	})

	t.Run("worst_ranking", func(t *testing.T) {
		// Worst order (but still has relevant docs)
		returned := []string{"ok", "good", "best"}
		n := ndcg(returned, grades, 3)
		assert.Less(t, n, 1.0)    // Not perfect
		assert.Greater(t, n, 0.0) // Still has relevant docs
	})

	t.Run("no_relevant_docs", func(t *testing.T) {
		returned := []string{"x", "y", "z"}
		n := ndcg(returned, grades, 3)
		assert.Equal(t, 0.0, n)
	})
}

func TestAveragePrecision(t *testing.T) {
	expected := map[string]bool{"a": true, "b": true, "c": true}

	t.Run("perfect_ranking", func(t *testing.T) {
		returned := []string{"a", "b", "c", "x", "y"}
		ap := averagePrecision(returned, expected)
		// AP = (1/1 + 2/2 + 3/3) / 3 = (1 + 1 + 1) / 3 = 1.0
		assert.Equal(t, 1.0, ap)
	})

	t.Run("interleaved_ranking", func(t *testing.T) {
		returned := []string{"a", "x", "b", "y", "c"}
		ap := averagePrecision(returned, expected)
		// AP = (1/1 + 2/3 + 3/5) / 3 = (1 + 0.667 + 0.6) / 3 ≈ 0.756
		assert.InDelta(t, 0.756, ap, 0.01)
	})
}

func TestHitRate(t *testing.T) {
	expected := map[string]bool{"a": true, "b": true}

	t.Run("has_hit", func(t *testing.T) {
		returned := []string{"x", "y", "a"}
		hr := hitRate(returned, expected)
		assert.Equal(t, 1.0, hr)
	})

	t.Run("no_hit", func(t *testing.T) {
		returned := []string{"x", "y", "z"}
		hr := hitRate(returned, expected)
		assert.Equal(t, 0.0, hr)
	})
}

func TestDiversity(t *testing.T) {
	assert.Equal(t, 0.0, diversity(nil, 10))
	assert.Equal(t, 1.0, diversity([]string{"person", "machine"}, 10))
	assert.Equal(t, 0.5, diversity([]string{"person", "person", "machine", "machine"}, 10))
	assert.Equal(t, 0.5, diversity([]string{"person", "person", "machine"}, 2))
}

// =============================================================================
// Harness Tests
// =============================================================================

// stubSearcher returns canned results per query text and records the
// options it was called with.
type stubSearcher struct {
	results map[string][]graphrag.Result
	err     error
	opts    []graphrag.Options
}

func (s *stubSearcher) Search(_ context.Context, q graphrag.Query, opts graphrag.Options) ([]graphrag.Result, error) {
	s.opts = append(s.opts, opts)
	if s.err != nil {
		return nil, s.err
	}
	return s.results[q.Text], nil
}

func hit(id, typ, source string) graphrag.Result {
	return graphrag.Result{Entity: &graph.Entity{ID: graph.EntityID(id), Type: typ}, SeedSource: source}
}

func TestHarnessBasic(t *testing.T) {
	s := &stubSearcher{results: map[string][]graphrag.Result{
		"engine": {hit("engine", "machine", graphrag.SeedText), hit("babbage", "person", graphrag.SeedText)},
	}}
	harness := NewHarness(s)

	t.Run("add_test_case", func(t *testing.T) {
		harness.AddTestCase(TestCase{
			Name:     "engine",
			Query:    "engine",
			Expected: []string{"engine", "babbage"},
		})
	})

	t.Run("run_evaluation", func(t *testing.T) {
		result, err := harness.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "default", result.SuiteName)
		assert.Equal(t, 1, result.TotalTests)
		tr := result.Results[0]
		assert.Equal(t, []string{"engine", "babbage"}, tr.Returned)
		assert.Equal(t, graphrag.SeedText, tr.SeedSource)
		assert.Equal(t, 1.0, tr.Metrics.MRR)
		assert.Equal(t, 1.0, tr.Metrics.Recall10)
		assert.InDelta(t, 1.0, tr.Metrics.NDCG10, 1e-9)
		assert.Equal(t, 1.0, tr.Metrics.Diversity)
		assert.True(t, result.Passed())
	})

	t.Run("harness_defaults_reach_searcher", func(t *testing.T) {
		require.NotEmpty(t, s.opts)
		assert.Equal(t, 50, s.opts[0].MaxResults)
		assert.Equal(t, graphrag.DefaultOptions().TopK, s.opts[0].TopK)
	})
}

func TestHarnessOptionsOverride(t *testing.T) {
	s := &stubSearcher{}
	harness := NewHarness(s)
	depth := 0
	harness.AddTestCase(TestCase{
		Name:     "seeds only",
		Query:    "x",
		Expected: []string{"a"},
		Options:  &SearchOptions{TopK: 3, MaxDepth: &depth, EdgeType: "knows", Direction: "out"},
	})

	_, err := harness.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, s.opts, 1)
	got := s.opts[0]
	assert.Equal(t, 3, got.TopK)
	assert.Equal(t, 0, got.MaxDepth)
	assert.Equal(t, "knows", got.EdgeType)
	assert.Equal(t, graph.Outgoing, got.Direction)
	assert.Equal(t, 50, got.MaxResults)
}

func TestHarnessSearchError(t *testing.T) {
	s := &stubSearcher{err: errors.New("boom")}
	harness := NewHarness(s)
	harness.AddTestCases([]TestCase{
		{Name: "a", Query: "a", Expected: []string{"a"}},
		{Name: "b", Query: "b", Expected: []string{"b"}},
	})

	result, err := harness.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.FailedTests)
	assert.Equal(t, "boom", result.Results[0].Error)
	assert.Equal(t, Metrics{}, result.Aggregate)
	assert.False(t, result.Passed())
}

func TestHarnessCancelled(t *testing.T) {
	harness := NewHarness(&stubSearcher{})
	harness.AddTestCase(TestCase{Name: "a", Expected: []string{"a"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := harness.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHarnessNoTestCases(t *testing.T) {
	harness := NewHarness(&stubSearcher{})

	_, err := harness.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoTestCases)
	assert.ErrorIs(t, err, kgerrors.ErrValidation)
	assert.Contains(t, err.Error(), "no test cases")
}

// TestHarnessKnowledgeGraph runs the harness against a real graph: a query
// close to ada's embedding must rank ada first.
func TestHarnessKnowledgeGraph(t *testing.T) {
	ctx := context.Background()
	store, err := blockstore.Open(blockstore.Options{})
	require.NoError(t, err)
	defer store.Close()
	g, err := kg.New(store, kg.Options{})
	require.NoError(t, err)
	defer g.Close()

	for _, in := range []kg.EntityInput{
		{ID: "ada", Type: "person", Name: "Ada Lovelace", Confidence: 1, Embedding: []float32{1, 0, 0}},
		{ID: "engine", Type: "machine", Name: "Analytical Engine", Confidence: 1, Embedding: []float32{0, 1, 0}},
		{ID: "loom", Type: "machine", Name: "Jacquard Loom", Confidence: 1, Embedding: []float32{0, 0, 1}},
	} {
		_, err := g.AddEntity(ctx, in)
		require.NoError(t, err)
	}
	_, err = g.AddRelationship(ctx, kg.RelationshipInput{Type: "worked_on", SourceID: "ada", TargetID: "engine", Confidence: 1})
	require.NoError(t, err)

	harness := NewHarness(g)
	harness.AddTestCase(TestCase{
		Name:      "ada",
		Embedding: []float32{1, 0, 0},
		Expected:  []string{"ada"},
	})
	result, err := harness.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, result.Results[0].Error)

	tr := result.Results[0]
	require.NotEmpty(t, tr.Returned)
	assert.Equal(t, "ada", tr.Returned[0])
	assert.Equal(t, graphrag.SeedVector, tr.SeedSource)
	assert.Equal(t, 1.0, tr.Metrics.MRR)
	assert.Equal(t, 1.0, tr.Metrics.HitRate)
	assert.NotContains(t, tr.Returned, "loom")
}

func TestThresholds(t *testing.T) {
	defaults := DefaultThresholds()

	assert.Equal(t, 0.1, defaults.Precision10)
	assert.Equal(t, 0.5, defaults.Recall10)
	assert.Equal(t, 0.5, defaults.MRR)
	assert.Equal(t, 0.8, defaults.HitRate)
}

// =============================================================================
// Reporter Tests
// =============================================================================

func TestReporterPrintCompact(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewReporter(&buf)

	result := &EvalResult{
		TotalTests:  10,
		PassedTests: 8,
		FailedTests: 2,
		Aggregate: Metrics{
			Precision10: 0.75,
			Recall10:    0.60,
			MRR:         0.85,
			NDCG10:      0.70,
			HitRate:     0.90,
		},
	}

	reporter.PrintCompact(result)

	output := buf.String()
	assert.Contains(t, output, "FAIL")
	assert.Contains(t, output, "8/10")
	assert.Contains(t, output, "P@10=0.75")
}

func TestReporterPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewReporter(&buf)

	result := &EvalResult{
		SuiteName:   "test-suite",
		TotalTests:  5,
		PassedTests: 5,
		FailedTests: 0,
		Aggregate: Metrics{
			Precision10: 0.80,
			Recall10:    0.70,
			MRR:         0.90,
		},
		Thresholds: DefaultThresholds(),
	}

	reporter.PrintSummary(result)

	output := buf.String()
	assert.Contains(t, output, "test-suite")
	assert.Contains(t, output, "5/5")
	assert.Contains(t, output, "Precision")
}

func TestReporterPrintDetailsAndTags(t *testing.T) {
	s := &stubSearcher{results: map[string][]graphrag.Result{
		"people":   {hit("ada", "person", graphrag.SeedVector)},
		"machines": {hit("loom", "machine", graphrag.SeedText)},
	}}
	harness := NewHarness(s)
	harness.AddTestCases([]TestCase{
		{Name: "people", Query: "people", Expected: []string{"ada"}, Tags: []string{"person", "smoke"}},
		{Name: "machines", Query: "machines", Expected: []string{"engine"}, Tags: []string{"smoke"}},
	})
	result, err := harness.Run(context.Background())
	require.NoError(t, err)

	require.Contains(t, result.ByTag, "person")
	require.Contains(t, result.ByTag, "smoke")
	assert.Equal(t, 1.0, result.ByTag["person"].MRR)
	assert.Equal(t, 0.5, result.ByTag["smoke"].HitRate)

	var buf bytes.Buffer
	reporter := NewReporter(&buf)
	reporter.PrintSummary(result)
	reporter.PrintDetails(result)

	output := buf.String()
	assert.Contains(t, output, "By tag:")
	assert.Contains(t, output, "[ok] people")
	assert.Contains(t, output, "[miss] machines")
	assert.Contains(t, output, `"machines"`)
	assert.Contains(t, output, "WARN 1/2 tests passed")
}

func TestReporterSaveJSON(t *testing.T) {
	result := &EvalResult{SuiteName: "saved", TotalTests: 1, PassedTests: 1}
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, NewReporter(nil).SaveJSON(result, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back EvalResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "saved", back.SuiteName)
}

// =============================================================================
// Test Suite JSON Loading
// =============================================================================

func TestLoadSuiteJSON(t *testing.T) {
	suite := TestSuite{
		Name:        "sample-suite",
		Description: "A sample test suite",
		Version:     "1.0",
		TestCases: []TestCase{
			{
				Name:      "test1",
				Embedding: []float32{1, 0, 0},
				Expected:  []string{"ada", "babbage"},
				Options:   &SearchOptions{TopK: 2},
			},
		},
	}
	data, err := json.Marshal(suite)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "suite.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s := &stubSearcher{}
	harness := NewHarness(s)
	require.NoError(t, harness.LoadSuite(path))
	result, err := harness.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sample-suite", result.SuiteName)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "test1", result.Results[0].TestCase.Name)
	assert.Equal(t, 2, s.opts[0].TopK)

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, harness.LoadSuite(filepath.Join(t.TempDir(), "nope.json")))
	})

	t.Run("bad json", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
		assert.Error(t, harness.LoadSuite(bad))
	})
}

// =============================================================================
// Graded Relevance Tests
// =============================================================================

func TestGradedRelevance(t *testing.T) {
	s := &stubSearcher{results: map[string][]graphrag.Result{
		"q": {hit("ok", "doc", ""), hit("good", "doc", ""), hit("best", "doc", ""), hit("bad", "doc", "")},
	}}
	harness := NewHarness(s)
	harness.AddTestCase(TestCase{
		Name:     "graded test",
		Query:    "q",
		Expected: []string{"best", "good", "ok"},
		RelevanceGrades: map[string]int{
			"best": 3,
			"good": 2,
			"ok":   1,
			"bad":  0,
		},
	})

	result, err := harness.Run(context.Background())
	require.NoError(t, err)

	m := result.Results[0].Metrics
	// Every relevant entity was returned, but in reverse order of grade.
	assert.Equal(t, 1.0, m.Recall10)
	assert.Less(t, m.NDCG10, 1.0)
	assert.Greater(t, m.NDCG10, 0.0)
}
