package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/endomorphosis/ipfskg/pkg/eval"
	"github.com/endomorphosis/ipfskg/pkg/kg"
)

func newGraphEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <suite.json>",
		Short: "Measure search quality against a test suite",
		Long: `Run a suite of GraphRAG queries with known relevant entities and report
Precision, Recall, MRR, NDCG and hit rate. The command fails when any
test case falls below the thresholds.`,
		Args: cobra.ExactArgs(1),
		RunE: runGraphEval,
	}
	cmd.Flags().String("output", "summary", "Output format: summary, detailed, json, compact")
	cmd.Flags().String("save", "", "Save results to a JSON file")
	cmd.Flags().String("threshold", "", "Override thresholds (p10=0.5,r10=0.5,mrr=0.5,ndcg=0.5,hit=0.8)")
	return cmd
}

func runGraphEval(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	savePath, _ := cmd.Flags().GetString("save")
	thresholdStr, _ := cmd.Flags().GetString("threshold")
	thresholds, err := parseThresholds(thresholdStr)
	if err != nil {
		return err
	}

	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		harness := eval.NewHarness(g)
		harness.SetThresholds(thresholds)
		if err := harness.LoadSuite(args[0]); err != nil {
			return err
		}
		result, err := harness.Run(cmd.Context())
		if err != nil {
			return err
		}

		reporter := eval.NewReporter(cmd.OutOrStdout())
		switch output {
		case "detailed":
			reporter.PrintSummary(result)
			reporter.PrintDetails(result)
		case "json":
			if err := reporter.PrintJSON(result); err != nil {
				return err
			}
		case "compact":
			reporter.PrintCompact(result)
		default:
			reporter.PrintSummary(result)
		}

		if savePath != "" {
			if err := reporter.SaveJSON(result, savePath); err != nil {
				return err
			}
			e.logger.Info("evaluation results saved", "path", savePath)
		}
		if !result.Passed() {
			return fmt.Errorf("%d of %d test cases below thresholds", result.FailedTests, result.TotalTests)
		}
		return nil
	})
}

// parseThresholds overlays name=value pairs on the default thresholds.
func parseThresholds(s string) (eval.Thresholds, error) {
	t := eval.DefaultThresholds()
	if strings.TrimSpace(s) == "" {
		return t, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return t, fmt.Errorf("invalid threshold %q, want name=value", pair)
		}
		val, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return t, fmt.Errorf("invalid threshold %q: %w", pair, err)
		}
		switch name {
		case "p10", "precision10":
			t.Precision10 = val
		case "r10", "recall10":
			t.Recall10 = val
		case "mrr":
			t.MRR = val
		case "ndcg", "ndcg10":
			t.NDCG10 = val
		case "hit", "hitrate":
			t.HitRate = val
		default:
			return t, fmt.Errorf("unknown threshold %q", name)
		}
	}
	return t, nil
}
