// Package eval provides an evaluation harness for GraphRAG retrieval quality.
//
// The eval harness allows you to:
//   - Define test cases with queries and the entities they should surface
//   - Run them against a knowledge graph and compute standard IR metrics
//   - Compare graph snapshots (roots) or search settings before and after a change
//
// Metrics computed:
//   - Precision@K: What fraction of top-K results are relevant?
//   - Recall@K: What fraction of all relevant entities appear in top-K?
//   - MRR (Mean Reciprocal Rank): Where does the first relevant result appear?
//   - NDCG (Normalized Discounted Cumulative Gain): Ranking quality
//   - Diversity: How many distinct entity types do the top results cover?
//
// Example usage:
//
//	harness := eval.NewHarness(graph)
//	harness.AddTestCase(eval.TestCase{
//	    Name:      "engine designers",
//	    Embedding: []float32{1, 0, 0},
//	    Expected:  []string{"ada", "babbage"},
//	})
//
//	results, err := harness.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Precision@10: %.2f\n", results.Aggregate.Precision10)
//	fmt.Printf("MRR: %.2f\n", results.Aggregate.MRR)
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/graphrag"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
)

// ErrNoTestCases is returned by Run when nothing has been added.
var ErrNoTestCases = fmt.Errorf("%w: no test cases defined", kgerrors.ErrValidation)

// Searcher runs a GraphRAG query. *kg.KnowledgeGraph satisfies it.
type Searcher interface {
	Search(ctx context.Context, q graphrag.Query, opts graphrag.Options) ([]graphrag.Result, error)
}

// SearchOptions is the serialisable subset of graphrag.Options a test case
// may override. Zero fields keep the harness defaults.
type SearchOptions struct {
	TopK             int     `json:"top_k,omitempty"`
	MinSimilarity    float64 `json:"min_similarity,omitempty"`
	MaxDepth         *int    `json:"max_depth,omitempty"`
	SemanticWeight   float64 `json:"semantic_weight,omitempty"`
	StructuralWeight float64 `json:"structural_weight,omitempty"`
	Decay            float64 `json:"decay,omitempty"`
	MaxResults       int     `json:"max_results,omitempty"`
	EdgeType         string  `json:"edge_type,omitempty"`
	Direction        string  `json:"direction,omitempty"`
}

// apply overlays o on base.
func (o *SearchOptions) apply(base graphrag.Options) graphrag.Options {
	if o == nil {
		return base
	}
	if o.TopK > 0 {
		base.TopK = o.TopK
	}
	if o.MinSimilarity != 0 {
		base.MinSimilarity = o.MinSimilarity
	}
	if o.MaxDepth != nil {
		base.MaxDepth = *o.MaxDepth
	}
	if o.SemanticWeight != 0 || o.StructuralWeight != 0 {
		base.SemanticWeight = o.SemanticWeight
		base.StructuralWeight = o.StructuralWeight
	}
	if o.Decay != 0 {
		base.Decay = o.Decay
	}
	if o.MaxResults > 0 {
		base.MaxResults = o.MaxResults
	}
	if o.EdgeType != "" {
		base.EdgeType = o.EdgeType
	}
	if o.Direction != "" {
		base.Direction = graph.Direction(o.Direction)
	}
	return base
}

// TestCase defines a single evaluation test case.
type TestCase struct {
	// Name is a human-readable identifier for this test
	Name string `json:"name"`

	// Query is the search text. It seeds full-text search and, when the
	// graph has an embedder, is embedded into the query vector.
	Query string `json:"query,omitempty"`

	// Embedding is an optional pre-computed query vector
	Embedding []float32 `json:"embedding,omitempty"`

	// EntityType restricts seed entities to one type
	EntityType string `json:"entity_type,omitempty"`

	// Expected is the list of entity IDs that should be returned
	// Order matters for ranking metrics (first = most relevant)
	Expected []string `json:"expected"`

	// RelevanceGrades allows graded relevance (0-3 scale)
	// If nil, binary relevance is assumed (in Expected = relevant)
	RelevanceGrades map[string]int `json:"relevance_grades,omitempty"`

	// Tags for grouping and filtering test cases
	Tags []string `json:"tags,omitempty"`

	// Options overrides search options for this test
	Options *SearchOptions `json:"options,omitempty"`
}

// TestSuite is a collection of test cases.
type TestSuite struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	Created     time.Time  `json:"created"`
	TestCases   []TestCase `json:"test_cases"`
}

// Metrics contains all computed evaluation metrics.
type Metrics struct {
	// Precision at various K values
	Precision1  float64 `json:"precision@1"`
	Precision5  float64 `json:"precision@5"`
	Precision10 float64 `json:"precision@10"`

	// Recall at various K values
	Recall5  float64 `json:"recall@5"`
	Recall10 float64 `json:"recall@10"`
	Recall50 float64 `json:"recall@50"`

	// Mean Reciprocal Rank - where does first relevant result appear?
	MRR float64 `json:"mrr"`

	// Normalized Discounted Cumulative Gain
	NDCG5  float64 `json:"ndcg@5"`
	NDCG10 float64 `json:"ndcg@10"`

	// Mean Average Precision
	MAP float64 `json:"map"`

	// Diversity - distinct entity types over results in the top 10 (0-1)
	Diversity float64 `json:"diversity"`

	// Hit Rate - fraction of queries with at least one relevant result
	HitRate float64 `json:"hit_rate"`
}

// TestResult contains results for a single test case.
type TestResult struct {
	TestCase TestCase      `json:"test_case"`
	Metrics  Metrics       `json:"metrics"`
	Returned []string      `json:"returned"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`

	// SeedSource is how the top result was seeded, graphrag.SeedVector or SeedText
	SeedSource string `json:"seed_source"`
}

// EvalResult contains the complete evaluation results.
type EvalResult struct {
	// Suite info
	SuiteName string        `json:"suite_name"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`

	// Aggregate metrics (averaged across all test cases)
	Aggregate Metrics `json:"aggregate"`

	// ByTag averages metrics over the test cases carrying each tag
	ByTag map[string]Metrics `json:"by_tag,omitempty"`

	// Per-test results
	Results []TestResult `json:"results"`

	// Summary statistics
	TotalTests  int `json:"total_tests"`
	PassedTests int `json:"passed_tests"`
	FailedTests int `json:"failed_tests"`

	// Thresholds used for pass/fail
	Thresholds Thresholds `json:"thresholds"`
}

// Passed reports whether every test met the thresholds.
func (r *EvalResult) Passed() bool {
	return r.FailedTests == 0
}

// Thresholds define minimum acceptable metric values.
type Thresholds struct {
	Precision10 float64 `json:"precision@10"`
	Recall10    float64 `json:"recall@10"`
	MRR         float64 `json:"mrr"`
	NDCG10      float64 `json:"ndcg@10"`
	HitRate     float64 `json:"hit_rate"`
}

// DefaultThresholds returns sensible default thresholds.
//
// Knowledge graph queries usually have only a handful of relevant entities,
// so precision over ten results is capped well below 1 and is held to a
// lower bar than recall.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Precision10: 0.1,
		Recall10:    0.5,
		MRR:         0.5, // First relevant result in top 2 on average
		NDCG10:      0.5,
		HitRate:     0.8,
	}
}

// Harness is the main evaluation harness.
type Harness struct {
	searcher   Searcher
	options    graphrag.Options
	suiteName  string
	testCases  []TestCase
	thresholds Thresholds
	mu         sync.RWMutex
}

// NewHarness creates a new evaluation harness over s. Searches use
// graphrag.DefaultOptions with MaxResults raised to 50 so Recall@50 is
// meaningful.
func NewHarness(s Searcher) *Harness {
	opts := graphrag.DefaultOptions()
	opts.MaxResults = 50
	return &Harness{
		searcher:   s,
		options:    opts,
		suiteName:  "default",
		testCases:  make([]TestCase, 0),
		thresholds: DefaultThresholds(),
	}
}

// SetThresholds sets the pass/fail thresholds.
func (h *Harness) SetThresholds(t Thresholds) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.thresholds = t
}

// SetOptions sets the base search options every test case starts from.
func (h *Harness) SetOptions(opts graphrag.Options) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.options = opts
}

// AddTestCase adds a single test case.
func (h *Harness) AddTestCase(tc TestCase) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.testCases = append(h.testCases, tc)
}

// AddTestCases adds multiple test cases.
func (h *Harness) AddTestCases(cases []TestCase) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.testCases = append(h.testCases, cases...)
}

// LoadSuite loads a test suite from a JSON file.
func (h *Harness) LoadSuite(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read suite file: %w", err)
	}

	var suite TestSuite
	if err := json.Unmarshal(data, &suite); err != nil {
		return fmt.Errorf("failed to parse suite JSON: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.testCases = append(h.testCases, suite.TestCases...)
	if suite.Name != "" {
		h.suiteName = suite.Name
	}

	return nil
}

// Run executes the evaluation and returns results. A failing search is
// recorded on its test case; only context cancellation aborts the run.
func (h *Harness) Run(ctx context.Context) (*EvalResult, error) {
	h.mu.RLock()
	cases := make([]TestCase, len(h.testCases))
	copy(cases, h.testCases)
	thresholds := h.thresholds
	base := h.options
	name := h.suiteName
	h.mu.RUnlock()

	if len(cases) == 0 {
		return nil, ErrNoTestCases
	}

	startTime := time.Now()
	results := make([]TestResult, 0, len(cases))

	for _, tc := range cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := h.runTestCase(ctx, tc, base)
		if result.Error != "" && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		results = append(results, result)
	}

	aggregate := computeAggregate(results)
	passed, failed := countPassFail(results, thresholds)

	var byTag map[string]Metrics
	tagged := make(map[string][]TestResult)
	for _, r := range results {
		for _, tag := range r.TestCase.Tags {
			tagged[tag] = append(tagged[tag], r)
		}
	}
	if len(tagged) > 0 {
		byTag = make(map[string]Metrics, len(tagged))
		for tag, rs := range tagged {
			byTag[tag] = computeAggregate(rs)
		}
	}

	return &EvalResult{
		SuiteName:   name,
		Timestamp:   startTime,
		Duration:    time.Since(startTime),
		Aggregate:   aggregate,
		ByTag:       byTag,
		Results:     results,
		TotalTests:  len(results),
		PassedTests: passed,
		FailedTests: failed,
		Thresholds:  thresholds,
	}, nil
}

// runTestCase executes a single test case.
func (h *Harness) runTestCase(ctx context.Context, tc TestCase, base graphrag.Options) TestResult {
	start := time.Now()

	q := graphrag.Query{Vector: tc.Embedding, Text: tc.Query, EntityType: tc.EntityType}
	results, err := h.searcher.Search(ctx, q, tc.Options.apply(base))
	if err != nil {
		return TestResult{
			TestCase: tc,
			Error:    err.Error(),
			Duration: time.Since(start),
		}
	}

	returned := make([]string, len(results))
	types := make([]string, len(results))
	for i, r := range results {
		returned[i] = string(r.Entity.ID)
		types[i] = r.Entity.Type
	}

	tr := TestResult{
		TestCase: tc,
		Metrics:  computeMetrics(tc, returned, types),
		Returned: returned,
		Duration: time.Since(start),
	}
	if len(results) > 0 {
		tr.SeedSource = results[0].SeedSource
	}
	return tr
}

// computeMetrics calculates all metrics for a test case.
func computeMetrics(tc TestCase, returned, types []string) Metrics {
	expected := make(map[string]bool)
	for _, id := range tc.Expected {
		expected[id] = true
	}

	// Get relevance grades (default to binary)
	grades := tc.RelevanceGrades
	if grades == nil {
		grades = make(map[string]int)
		for _, id := range tc.Expected {
			grades[id] = 1
		}
	}

	m := Metrics{}

	m.Precision1 = precision(returned, expected, 1)
	m.Precision5 = precision(returned, expected, 5)
	m.Precision10 = precision(returned, expected, 10)

	m.Recall5 = recall(returned, expected, 5)
	m.Recall10 = recall(returned, expected, 10)
	m.Recall50 = recall(returned, expected, 50)

	m.MRR = mrr(returned, expected)

	m.NDCG5 = ndcg(returned, grades, 5)
	m.NDCG10 = ndcg(returned, grades, 10)

	m.MAP = averagePrecision(returned, expected)

	m.HitRate = hitRate(returned, expected)

	m.Diversity = diversity(types, 10)

	return m
}

// computeAggregate averages metrics across all results.
func computeAggregate(results []TestResult) Metrics {
	if len(results) == 0 {
		return Metrics{}
	}

	var agg Metrics
	validCount := 0

	for _, r := range results {
		if r.Error != "" {
			continue
		}
		validCount++
		agg.Precision1 += r.Metrics.Precision1
		agg.Precision5 += r.Metrics.Precision5
		agg.Precision10 += r.Metrics.Precision10
		agg.Recall5 += r.Metrics.Recall5
		agg.Recall10 += r.Metrics.Recall10
		agg.Recall50 += r.Metrics.Recall50
		agg.MRR += r.Metrics.MRR
		agg.NDCG5 += r.Metrics.NDCG5
		agg.NDCG10 += r.Metrics.NDCG10
		agg.MAP += r.Metrics.MAP
		agg.HitRate += r.Metrics.HitRate
		agg.Diversity += r.Metrics.Diversity
	}

	if validCount > 0 {
		n := float64(validCount)
		agg.Precision1 /= n
		agg.Precision5 /= n
		agg.Precision10 /= n
		agg.Recall5 /= n
		agg.Recall10 /= n
		agg.Recall50 /= n
		agg.MRR /= n
		agg.NDCG5 /= n
		agg.NDCG10 /= n
		agg.MAP /= n
		agg.HitRate /= n
		agg.Diversity /= n
	}

	return agg
}

// countPassFail counts tests that meet thresholds.
func countPassFail(results []TestResult, t Thresholds) (passed, failed int) {
	for _, r := range results {
		if r.Error != "" {
			failed++
			continue
		}
		if r.Metrics.Precision10 >= t.Precision10 &&
			r.Metrics.Recall10 >= t.Recall10 &&
			r.Metrics.MRR >= t.MRR &&
			r.Metrics.NDCG10 >= t.NDCG10 &&
			r.Metrics.HitRate >= t.HitRate {
			passed++
		} else {
			failed++
		}
	}
	return
}

// === Metric calculation functions ===

// precision calculates Precision@K.
// Precision = (relevant entities in top K) / K
func precision(returned []string, expected map[string]bool, k int) float64 {
	if k <= 0 || len(returned) == 0 {
		return 0.0
	}

	limit := min(k, len(returned))
	relevant := 0
	for i := 0; i < limit; i++ {
		if expected[returned[i]] {
			relevant++
		}
	}

	return float64(relevant) / float64(k)
}

// recall calculates Recall@K.
// Recall = (relevant entities in top K) / (total relevant entities)
func recall(returned []string, expected map[string]bool, k int) float64 {
	if len(expected) == 0 {
		return 0.0
	}

	limit := min(k, len(returned))
	relevant := 0
	for i := 0; i < limit; i++ {
		if expected[returned[i]] {
			relevant++
		}
	}

	return float64(relevant) / float64(len(expected))
}

// mrr calculates the reciprocal rank of the first relevant result.
func mrr(returned []string, expected map[string]bool) float64 {
	for i, id := range returned {
		if expected[id] {
			return 1.0 / float64(i+1)
		}
	}
	return 0.0
}

// ndcg calculates Normalized Discounted Cumulative Gain.
// NDCG@K = DCG@K / IDCG@K
func ndcg(returned []string, grades map[string]int, k int) float64 {
	dcg := dcg(returned, grades, k)
	idcg := idealDCG(grades, k)

	if idcg == 0 {
		return 0.0
	}
	return dcg / idcg
}

// dcg calculates Discounted Cumulative Gain.
func dcg(returned []string, grades map[string]int, k int) float64 {
	limit := min(k, len(returned))
	sum := 0.0

	for i := 0; i < limit; i++ {
		grade := grades[returned[i]]
		// (2^grade - 1) / log2(i + 2)
		sum += (math.Pow(2, float64(grade)) - 1) / math.Log2(float64(i+2))
	}

	return sum
}

// idealDCG calculates the DCG of a perfect ranking.
func idealDCG(grades map[string]int, k int) float64 {
	sortedGrades := make([]int, 0, len(grades))
	for _, g := range grades {
		sortedGrades = append(sortedGrades, g)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sortedGrades)))

	limit := min(k, len(sortedGrades))
	sum := 0.0

	for i := 0; i < limit; i++ {
		sum += (math.Pow(2, float64(sortedGrades[i])) - 1) / math.Log2(float64(i+2))
	}

	return sum
}

// averagePrecision calculates Average Precision for a single query.
func averagePrecision(returned []string, expected map[string]bool) float64 {
	if len(expected) == 0 {
		return 0.0
	}

	sum := 0.0
	relevantSeen := 0

	for i, id := range returned {
		if expected[id] {
			relevantSeen++
			sum += float64(relevantSeen) / float64(i+1)
		}
	}

	return sum / float64(len(expected))
}

// hitRate returns 1 if any expected entity is in returned, 0 otherwise.
func hitRate(returned []string, expected map[string]bool) float64 {
	for _, id := range returned {
		if expected[id] {
			return 1.0
		}
	}
	return 0.0
}

// diversity is the number of distinct entity types in the top k over the
// number of results considered.
func diversity(types []string, k int) float64 {
	limit := min(k, len(types))
	if limit == 0 {
		return 0.0
	}
	seen := make(map[string]struct{}, limit)
	for _, t := range types[:limit] {
		seen[t] = struct{}{}
	}
	return float64(len(seen)) / float64(limit)
}
