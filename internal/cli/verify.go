package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/pipeline"
	"github.com/ppiankov/veritas/internal/state"
)

var (
	showTrace   bool
	outJSON     string
	runTimeout  time.Duration
	llmProvider string
	llmModel    string
	noSkills    bool
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <claim>",
	Short: "Verify a single claim",
	Long: `Verify runs one claim through the pipeline and prints one verdict per
sub-claim with its rationale and citations.

Example:
  veritas verify "The Eiffel Tower is in Paris"
  veritas verify "Water boils at 90 C at sea level" --trace
  veritas verify "Mount Everest is the tallest mountain" --json run.json
  veritas verify "Insulin was discovered in 1921" --llm-provider anthropic --llm-model claude-3-5-haiku-latest`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().BoolVar(&showTrace, "trace", false, "print the run history")
	verifyCmd.Flags().StringVar(&outJSON, "json", "", "write result and run snapshot as JSON (\"-\" for stdout)")
	verifyCmd.Flags().DurationVar(&runTimeout, "timeout", 2*time.Minute, "overall run timeout")
	addLLMFlags(verifyCmd)
}

// addLLMFlags registers the model overrides shared by verify, batch and serve
func addLLMFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&llmProvider, "llm-provider", "", "LLM provider (openai, anthropic, ollama, llamacpp); empty uses heuristics only")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "LLM model name")
	cmd.Flags().BoolVar(&noSkills, "no-skills", false, "never call the model; run heuristic tools only")
}

// applyLLMFlags layers the model flags over the loaded config
func applyLLMFlags(cmd *cobra.Command, c *model.Config) {
	if cmd.Flags().Changed("llm-provider") && llmProvider != c.LLM.Provider {
		c.LLM.Provider = llmProvider
		c.LLM.APIKey = ""
		c.LLM.BaseURL = ""
	}
	if cmd.Flags().Changed("llm-model") {
		c.LLM.Model = llmModel
	}
	if noSkills {
		c.Orchestrator.UseSkills = false
	}
	applyCredentials(c, os.Getenv)
}

func runVerify(cmd *cobra.Command, args []string) error {
	claim := strings.TrimSpace(strings.Join(args, " "))
	if claim == "" {
		return fmt.Errorf("claim is empty")
	}

	applyLLMFlags(cmd, cfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	p, err := pipeline.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Verifying: %s\n", claim)
		if cfg.LLM.Provider != "" {
			fmt.Fprintf(os.Stderr, "Model: %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
		}
		fmt.Fprintln(os.Stderr)
	}

	result, run := p.Verify(ctx, claim)

	out := cmd.OutOrStdout()
	printResult(out, claim, result, run)
	if showTrace {
		printTrace(out, run)
	}

	if outJSON != "" {
		if err := writeRunJSON(outJSON, out, result, run); err != nil {
			return err
		}
	}
	return nil
}

func printResult(w io.Writer, claim string, result *model.Result, run *state.Run) {
	fmt.Fprintf(w, "Claim:    %s\n", claim)
	fmt.Fprintf(w, "Decision: %s\n", result.Decision())
	for _, v := range result.Data.Verdicts {
		text := v.ClaimID
		if c, ok := run.ClaimByID(v.ClaimID); ok {
			text = c.Text
		}
		fmt.Fprintf(w, "\n  [%s] %s (%s confidence)\n", v.ClaimID, v.Label, v.Confidence)
		fmt.Fprintf(w, "    %s\n", text)
		if v.Rationale != "" {
			fmt.Fprintf(w, "    %s\n", v.Rationale)
		}
		for _, id := range v.Citations {
			line := id
			if ev, ok := run.EvidenceByID(id); ok && ev.URL != "" {
				line += "  " + ev.URL
			}
			fmt.Fprintf(w, "    - %s\n", line)
		}
	}
}

func printTrace(w io.Writer, run *state.Run) {
	fmt.Fprintf(w, "\nTrace (%d steps, revision %d):\n", run.Steps, run.Revision)
	for _, a := range run.History {
		detail := ""
		if a.Detail != "" {
			detail = "  " + a.Detail
		}
		fmt.Fprintf(w, "  %-16s %-32s %-8s%s\n", a.Phase, a.Name, a.Status, detail)
	}
}

// runSnapshot is the JSON export of one run
type runSnapshot struct {
	Result *model.Result `json:"result"`
	Run    *state.Run    `json:"run"`
}

func writeRunJSON(path string, stdout io.Writer, result *model.Result, run *state.Run) error {
	data, err := json.MarshalIndent(runSnapshot{Result: result, Run: run}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", path)
	return nil
}
