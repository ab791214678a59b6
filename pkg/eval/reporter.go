package eval

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// Reporter formats and outputs evaluation results.
type Reporter struct {
	writer io.Writer
}

// NewReporter creates a new reporter that writes to the given writer.
func NewReporter(w io.Writer) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	return &Reporter{writer: w}
}

// metricRow is one line of the metrics table. A negative target means the
// metric is informational and has no threshold.
type metricRow struct {
	name   string
	value  func(Metrics) float64
	target func(Thresholds) float64
}

func noTarget(Thresholds) float64 { return -1 }

// metricGroups are printed in order with a rule between groups.
var metricGroups = [][]metricRow{
	{
		{"Precision@1", func(m Metrics) float64 { return m.Precision1 }, noTarget},
		{"Precision@5", func(m Metrics) float64 { return m.Precision5 }, noTarget},
		{"Precision@10", func(m Metrics) float64 { return m.Precision10 }, func(t Thresholds) float64 { return t.Precision10 }},
	},
	{
		{"Recall@5", func(m Metrics) float64 { return m.Recall5 }, noTarget},
		{"Recall@10", func(m Metrics) float64 { return m.Recall10 }, func(t Thresholds) float64 { return t.Recall10 }},
		{"Recall@50", func(m Metrics) float64 { return m.Recall50 }, noTarget},
	},
	{
		{"MRR", func(m Metrics) float64 { return m.MRR }, func(t Thresholds) float64 { return t.MRR }},
		{"NDCG@5", func(m Metrics) float64 { return m.NDCG5 }, noTarget},
		{"NDCG@10", func(m Metrics) float64 { return m.NDCG10 }, func(t Thresholds) float64 { return t.NDCG10 }},
		{"MAP", func(m Metrics) float64 { return m.MAP }, noTarget},
	},
	{
		{"Hit Rate", func(m Metrics) float64 { return m.HitRate }, func(t Thresholds) float64 { return t.HitRate }},
		{"Diversity", func(m Metrics) float64 { return m.Diversity }, noTarget},
	},
}

const rule = "+-----------------------------------------------------------------+"

// PrintSummary prints a human-readable summary of results.
func (r *Reporter) PrintSummary(result *EvalResult) {
	w := r.writer

	fmt.Fprintln(w)
	fmt.Fprintf(w, "GraphRAG search evaluation: %s\n", result.SuiteName)
	fmt.Fprintf(w, "  started  %s\n", result.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "  took     %v\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  %s %d/%d tests passed (%.1f%%)\n",
		verdict(result), result.PassedTests, result.TotalTests, passRate(result))
	fmt.Fprintln(w)

	fmt.Fprintln(w, rule)
	for i, group := range metricGroups {
		if i > 0 {
			fmt.Fprintln(w, rule)
		}
		for _, row := range group {
			printMetricRow(w, row.name, row.value(result.Aggregate), row.target(result.Thresholds))
		}
	}
	fmt.Fprintln(w, rule)

	if len(result.ByTag) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "By tag:")
		tags := make([]string, 0, len(result.ByTag))
		for tag := range result.ByTag {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			m := result.ByTag[tag]
			fmt.Fprintf(w, "  %-16s P@10=%.2f R@10=%.2f MRR=%.2f NDCG@10=%.2f\n",
				tag, m.Precision10, m.Recall10, m.MRR, m.NDCG10)
		}
	}
	fmt.Fprintln(w)
}

func passRate(result *EvalResult) float64 {
	if result.TotalTests == 0 {
		return 0
	}
	return float64(result.PassedTests) / float64(result.TotalTests) * 100
}

func verdict(result *EvalResult) string {
	switch {
	case result.FailedTests == 0:
		return "PASS"
	case passRate(result) >= 50:
		return "WARN"
	default:
		return "FAIL"
	}
}

// printMetricRow prints value with a bar and, when target is set, whether
// the value meets it.
func printMetricRow(w io.Writer, name string, value, target float64) {
	mark, goal := " ", ""
	if target >= 0 {
		mark = "x"
		if value >= target {
			mark = "ok"
		}
		goal = fmt.Sprintf("  >= %.2f", target)
	}
	fmt.Fprintf(w, "| %-2s %-13s %s %.3f%s\n", mark, name, bar(value, 20), value, goal)
}

func bar(value float64, width int) string {
	filled := max(0, min(width, int(value*float64(width))))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// PrintDetails prints detailed per-test results.
func (r *Reporter) PrintDetails(result *EvalResult) {
	w := r.writer

	fmt.Fprintln(w, "Per-test results:")
	fmt.Fprintln(w)
	for i, tr := range result.Results {
		status := "ok"
		switch {
		case tr.Error != "":
			status = "error"
		case tr.Metrics.HitRate == 0:
			status = "miss"
		}

		fmt.Fprintf(w, "%2d. [%s] %s\n", i+1, status, tr.TestCase.Name)
		fmt.Fprintf(w, "    query: %s\n", describeQuery(tr.TestCase))
		if tr.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", tr.Error)
			continue
		}
		fmt.Fprintf(w, "    seed: %s  took: %v\n", tr.SeedSource, tr.Duration.Round(time.Microsecond))
		fmt.Fprintf(w, "    P@10=%.2f R@10=%.2f MRR=%.2f NDCG@10=%.2f\n",
			tr.Metrics.Precision10, tr.Metrics.Recall10, tr.Metrics.MRR, tr.Metrics.NDCG10)
		fmt.Fprintf(w, "    expected %v, returned %v\n", tr.TestCase.Expected, head(tr.Returned, 10))
	}
	fmt.Fprintln(w)
}

func head(ids []string, n int) []string {
	if len(ids) <= n {
		return ids
	}
	return append(ids[:n:n], "...")
}

// PrintJSON outputs results as JSON.
func (r *Reporter) PrintJSON(result *EvalResult) error {
	return writeJSON(r.writer, result)
}

// SaveJSON saves results to a JSON file.
func (r *Reporter) SaveJSON(result *EvalResult, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := writeJSON(file, result); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeJSON(w io.Writer, result *EvalResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// PrintCompact prints a one-line summary.
func (r *Reporter) PrintCompact(result *EvalResult) {
	status := "PASS"
	if result.FailedTests > 0 {
		status = "FAIL"
	}
	m := result.Aggregate
	fmt.Fprintf(r.writer, "[%s] %d/%d tests | P@10=%.2f R@10=%.2f MRR=%.2f NDCG=%.2f HitRate=%.2f | %v\n",
		status, result.PassedTests, result.TotalTests,
		m.Precision10, m.Recall10, m.MRR, m.NDCG10, m.HitRate,
		result.Duration.Round(time.Millisecond))
}

// describeQuery renders the text and vector parts of a test query.
func describeQuery(tc TestCase) string {
	var parts []string
	if tc.Query != "" {
		parts = append(parts, fmt.Sprintf("%q", truncate(tc.Query, 50)))
	}
	if len(tc.Embedding) > 0 {
		parts = append(parts, fmt.Sprintf("vector[%d]", len(tc.Embedding)))
	}
	if tc.EntityType != "" {
		parts = append(parts, "type="+tc.EntityType)
	}
	if len(parts) == 0 {
		return "(empty)"
	}
	return strings.Join(parts, " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
