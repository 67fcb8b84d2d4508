package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/state"
	"github.com/rotisserie/eris"
)

// Gold labels of labelled claim datasets
const (
	GoldSupports = "SUPPORTS"
	GoldRefutes  = "REFUTES"
	GoldNEI      = "NOT ENOUGH INFO"
)

// GoldLabel maps a run decision to the dataset vocabulary
func GoldLabel(l model.Label) string {
	switch l {
	case model.LabelSupported:
		return GoldSupports
	case model.LabelRefuted:
		return GoldRefutes
	default:
		return GoldNEI
	}
}

// Verifier defines the interface for verifying a single claim
type Verifier interface {
	Verify(ctx context.Context, claim string) (*model.Result, *state.Run)
}

// Record is one labelled claim of a JSONL dataset
type Record struct {
	ID    json.RawMessage `json:"id"`
	Claim string          `json:"claim"`
	Label string          `json:"label"`
}

// RecordID renders the id for display; datasets use both numbers and strings
func (r Record) RecordID() string {
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	return string(r.ID)
}

// Gold returns the gold label, defaulting to NOT ENOUGH INFO
func (r Record) Gold() string {
	if r.Label == "" {
		return GoldNEI
	}
	return r.Label
}

// evaluate verifies one record. A panic in the verifier is reported as
// an error and predicted NOT ENOUGH INFO.
func evaluate(ctx context.Context, v Verifier, rec Record) (out *ClaimResult) {
	start := time.Now()
	out = &ClaimResult{Record: rec, Predicted: GoldNEI}

	defer func() {
		if r := recover(); r != nil {
			out.Error = eris.Errorf("verify record %s: panic: %v", rec.RecordID(), r)
			out.Predicted = GoldNEI
		}
		out.Elapsed = time.Since(start)
		out.Correct = out.Predicted == rec.Gold()
	}()

	result, run := v.Verify(ctx, rec.Claim)
	out.Result = result
	out.Run = run
	if result != nil {
		out.Predicted = GoldLabel(result.Decision())
	}
	return out
}

// ClaimResult is the outcome of verifying one record
type ClaimResult struct {
	Index     int
	Record    Record
	Predicted string
	Correct   bool
	Result    *model.Result
	Run       *state.Run
	Elapsed   time.Duration
	Error     error
}

// Report summarizes an evaluation
type Report struct {
	Results   []*ClaimResult            `json:"-"` // Input order
	Total     int                       `json:"total"`
	Correct   int                       `json:"correct"`
	Confusion map[string]map[string]int `json:"confusion"` // gold -> predicted -> count
}

// Accuracy returns correct/total, 0 for an empty report
func (r *Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Evaluator verifies labelled records concurrently
type Evaluator struct {
	verifier    Verifier
	concurrency int
}

// NewEvaluator creates a new evaluator
func NewEvaluator(verifier Verifier, concurrency int) *Evaluator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Evaluator{
		verifier:    verifier,
		concurrency: concurrency,
	}
}

// Evaluate verifies every record and returns the results in input order
func (e *Evaluator) Evaluate(ctx context.Context, records []Record) *Report {
	report := &Report{
		Results:   make([]*ClaimResult, 0, len(records)),
		Confusion: make(map[string]map[string]int),
	}
	if len(records) == 0 {
		return report
	}

	pool := NewPool(e.concurrency, func(ctx context.Context, rec Record) *ClaimResult {
		return evaluate(ctx, e.verifier, rec)
	})

	// Records never started before ctx ended have no result
	for i, slot := range pool.Map(ctx, records) {
		if !slot.Done {
			continue
		}
		cr := slot.Value
		cr.Index = i
		report.Results = append(report.Results, cr)
		report.Total++
		if cr.Correct {
			report.Correct++
		}
		gold := cr.Record.Gold()
		if report.Confusion[gold] == nil {
			report.Confusion[gold] = make(map[string]int)
		}
		report.Confusion[gold][cr.Predicted]++
	}

	return report
}

// SelectOptions picks the records of a dataset to evaluate
type SelectOptions struct {
	Start  int
	Limit  int
	Random bool
	Seed   int64
}

// Select applies the start offset, then either takes the next Limit records
// or a seeded shuffle of the remainder truncated to Limit. Limit <= 0
// keeps everything.
func Select(records []Record, opts SelectOptions) []Record {
	if opts.Start > 0 {
		if opts.Start >= len(records) {
			return []Record{}
		}
		records = records[opts.Start:]
	}

	selected := append([]Record(nil), records...)
	if opts.Random {
		seed := uint64(opts.Seed)
		rng := rand.New(rand.NewPCG(seed, seed))
		rng.Shuffle(len(selected), func(i, j int) {
			selected[i], selected[j] = selected[j], selected[i]
		})
	}

	if opts.Limit > 0 && opts.Limit < len(selected) {
		selected = selected[:opts.Limit]
	}
	return selected
}

// ReadRecordsFromFile reads a JSONL dataset, skipping blank lines
func ReadRecordsFromFile(filePath string) ([]Record, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, eris.Wrap(err, "open dataset")
	}
	defer func() { _ = file.Close() }()

	var records []Record

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, eris.Wrapf(err, "decode line %d", line)
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "scan dataset")
	}

	return records, nil
}
