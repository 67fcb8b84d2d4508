package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/veritas/internal/pipeline"
	"github.com/ppiankov/veritas/internal/score"
	"github.com/ppiankov/veritas/internal/worker"
)

var (
	dataPath     string
	batchStart   int
	batchLimit   int
	batchRandom  bool
	batchSeed    int64
	concurrency  int
	batchTimeout time.Duration
	batchTrace   bool
	batchReport  string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Evaluate the pipeline on a labelled JSONL dataset",
	Long: `Batch verifies every selected record of a JSONL dataset whose lines
carry {"id", "claim", "label"} with labels SUPPORTS, REFUTES or
NOT ENOUGH INFO, and reports accuracy and a confusion table.

Example:
  veritas batch --data claims.jsonl
  veritas batch --data claims.jsonl --start 100 --limit 50
  veritas batch --data claims.jsonl --random --seed 7 --concurrency 4
  veritas batch --data claims.jsonl --report report.json --show-trace`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVar(&dataPath, "data", "", "JSONL dataset path (required)")
	batchCmd.Flags().IntVar(&batchStart, "start", 0, "skip the first N records")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "evaluate at most N records (default: batch.limit)")
	batchCmd.Flags().BoolVar(&batchRandom, "random", false, "sample records at random instead of in order")
	batchCmd.Flags().Int64Var(&batchSeed, "seed", 0, "random seed (default: batch.seed)")
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent runs (default: batch.concurrency)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for the batch")
	batchCmd.Flags().BoolVar(&batchTrace, "show-trace", false, "print each run's history")
	batchCmd.Flags().StringVar(&batchReport, "report", "", "write the summary as JSON to this path")
	addLLMFlags(batchCmd)
	_ = batchCmd.MarkFlagRequired("data")
}

func runBatch(cmd *cobra.Command, args []string) error {
	applyLLMFlags(cmd, cfg)
	if cmd.Flags().Changed("limit") {
		cfg.Batch.Limit = batchLimit
	}
	if cmd.Flags().Changed("seed") {
		cfg.Batch.Seed = batchSeed
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Batch.Concurrency = concurrency
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	records, err := worker.ReadRecordsFromFile(dataPath)
	if err != nil {
		return fmt.Errorf("read dataset: %w", err)
	}
	selected := worker.Select(records, worker.SelectOptions{
		Start:  batchStart,
		Limit:  cfg.Batch.Limit,
		Random: batchRandom,
		Seed:   cfg.Batch.Seed,
	})

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Veritas Batch Evaluation\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Dataset:      %s (%d records)\n", dataPath, len(records))
	fmt.Fprintf(os.Stderr, "  Selected:     %d\n", len(selected))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Batch.Concurrency)
	if cfg.LLM.Provider != "" {
		fmt.Fprintf(os.Stderr, "  LLM:          %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	}
	fmt.Fprintf(os.Stderr, "\n")

	p, err := pipeline.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	start := time.Now()
	report := worker.NewEvaluator(p, cfg.Batch.Concurrency).Evaluate(ctx, selected)

	out := cmd.OutOrStdout()
	printBatch(out, report, batchTrace)
	summary := score.NewScorer(worker.GoldNEI).Calculate(report.Confusion)
	printSummary(out, summary)

	fmt.Fprintf(os.Stderr, "\n  Elapsed: %v\n\n", time.Since(start).Round(time.Millisecond))
	if report.Total < len(selected) {
		fmt.Fprintf(os.Stderr, "  %d records were not evaluated before the timeout\n", len(selected)-report.Total)
	}

	if batchReport != "" {
		data, err := json.MarshalIndent(batchSummary{Report: report, Summary: summary}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		if err := os.WriteFile(batchReport, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", batchReport)
	}
	return nil
}

// batchSummary is the JSON export of a batch
type batchSummary struct {
	Report  *worker.Report `json:"report"`
	Summary score.Summary  `json:"summary"`
}

// printBatch prints one line per record with the running accuracy,
// followed by the final accuracy and the confusion counts.
func printBatch(w io.Writer, report *worker.Report, trace bool) {
	correct := 0
	for i, r := range report.Results {
		if r.Correct {
			correct++
		}
		mark := "✗"
		if r.Correct {
			mark = "✓"
		}
		fmt.Fprintf(w, "%s [%s] gold=%s pred=%s acc=%.3f (%d/%d) %s\n",
			mark, r.Record.RecordID(), r.Record.Gold(), r.Predicted,
			float64(correct)/float64(i+1), correct, i+1, r.Record.Claim)
		if r.Error != nil {
			fmt.Fprintf(w, "    error: %v\n", r.Error)
		}
		if trace && r.Run != nil {
			printTrace(w, r.Run)
		}
	}

	fmt.Fprintf(w, "\nAccuracy: %.3f (%d/%d)\n", report.Accuracy(), report.Correct, report.Total)
	if len(report.Confusion) == 0 {
		return
	}
	fmt.Fprintf(w, "Confusion (gold -> predicted):\n")
	golds := make([]string, 0, len(report.Confusion))
	for g := range report.Confusion {
		golds = append(golds, g)
	}
	sort.Strings(golds)
	for _, g := range golds {
		preds := make([]string, 0, len(report.Confusion[g]))
		for p := range report.Confusion[g] {
			preds = append(preds, p)
		}
		sort.Strings(preds)
		for _, p := range preds {
			fmt.Fprintf(w, "  %-16s -> %-16s %d\n", g, p, report.Confusion[g][p])
		}
	}
}

func printSummary(w io.Writer, sum score.Summary) {
	if sum.Total == 0 {
		return
	}
	fmt.Fprintf(w, "\n%-16s %9s %6s %6s %7s\n", "Label", "Precision", "Recall", "F1", "Support")
	for _, ls := range sum.Labels {
		fmt.Fprintf(w, "%-16s %9.3f %6.3f %6.3f %7d\n", ls.Label, ls.Precision, ls.Recall, ls.F1, ls.Support)
	}
	fmt.Fprintf(w, "Macro F1: %.3f\n", sum.MacroF1)

	for _, sig := range sum.Signals {
		fmt.Fprintf(w, "  [%s] %s\n", sig.Severity, sig.Description)
	}
}
