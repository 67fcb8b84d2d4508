package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockVerifier labels claims by keyword
type MockVerifier struct {
	calls atomic.Int32
}

func (m *MockVerifier) Verify(ctx context.Context, claim string) (*model.Result, *state.Run) {
	m.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	if strings.Contains(claim, "panic") {
		panic("boom")
	}

	label := model.LabelInsufficient
	switch {
	case strings.Contains(claim, "true"):
		label = model.LabelSupported
	case strings.Contains(claim, "false"):
		label = model.LabelRefuted
	}
	run := state.New("test", claim)
	return model.NewResult([]model.ComposedVerdict{
		{ClaimID: "s1", Label: label, Confidence: model.ConfidenceMed},
	}), run
}

func records(claims ...string) []Record {
	out := make([]Record, 0, len(claims))
	for i, c := range claims {
		gold := GoldNEI
		switch {
		case strings.Contains(c, "true"):
			gold = GoldSupports
		case strings.Contains(c, "false"):
			gold = GoldRefutes
		}
		out = append(out, Record{ID: []byte(string(rune('0' + i))), Claim: c, Label: gold})
	}
	return out
}

func TestEvaluator_OrderedResults(t *testing.T) {
	verifier := &MockVerifier{}
	eval := NewEvaluator(verifier, 3)

	recs := records("a true claim", "a false claim", "unknown", "another true one", "and false")
	report := eval.Evaluate(context.Background(), recs)

	require.Len(t, report.Results, 5)
	for i, r := range report.Results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, recs[i].Claim, r.Record.Claim)
		assert.True(t, r.Correct, recs[i].Claim)
	}
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 5, report.Correct)
	assert.InDelta(t, 1.0, report.Accuracy(), 1e-9)
	assert.Equal(t, 2, report.Confusion[GoldSupports][GoldSupports])
	assert.Equal(t, 1, report.Confusion[GoldNEI][GoldNEI])
	assert.Equal(t, int32(5), verifier.calls.Load())
}

func TestEvaluator_WrongPredictionsAndConfusion(t *testing.T) {
	recs := []Record{
		{ID: []byte(`"a"`), Claim: "a true claim", Label: GoldRefutes},
		{ID: []byte(`"b"`), Claim: "nothing here"},
	}
	report := NewEvaluator(&MockVerifier{}, 1).Evaluate(context.Background(), recs)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Correct)
	assert.InDelta(t, 0.5, report.Accuracy(), 1e-9)
	assert.Equal(t, 1, report.Confusion[GoldRefutes][GoldSupports])
	assert.Equal(t, "a", report.Results[0].Record.RecordID())
}

func TestEvaluator_PanicBecomesNEI(t *testing.T) {
	recs := []Record{{ID: []byte("7"), Claim: "this will panic", Label: GoldNEI}}
	report := NewEvaluator(&MockVerifier{}, 1).Evaluate(context.Background(), recs)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Error(t, res.Error)
	assert.Equal(t, GoldNEI, res.Predicted)
	assert.True(t, res.Correct)
}

func TestEvaluator_Empty(t *testing.T) {
	report := NewEvaluator(&MockVerifier{}, 2).Evaluate(context.Background(), nil)
	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 0.0, report.Accuracy())
}

func TestEvaluator_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	verifier := &MockVerifier{}
	report := NewEvaluator(verifier, 2).Evaluate(ctx, records("a true claim", "b false claim"))

	assert.Equal(t, 0, report.Total)
	assert.Empty(t, report.Results)
	assert.Equal(t, int32(0), verifier.calls.Load())
}

func TestGoldLabel(t *testing.T) {
	assert.Equal(t, GoldSupports, GoldLabel(model.LabelSupported))
	assert.Equal(t, GoldRefutes, GoldLabel(model.LabelRefuted))
	assert.Equal(t, GoldNEI, GoldLabel(model.LabelMixed))
	assert.Equal(t, GoldNEI, GoldLabel(model.LabelInsufficient))
}

func TestSelect(t *testing.T) {
	recs := records("c0", "c1", "c2", "c3", "c4", "c5")

	seq := Select(recs, SelectOptions{Start: 2, Limit: 3})
	require.Len(t, seq, 3)
	assert.Equal(t, "c2", seq[0].Claim)
	assert.Equal(t, "c4", seq[2].Claim)

	assert.Len(t, Select(recs, SelectOptions{}), 6)
	assert.Empty(t, Select(recs, SelectOptions{Start: 10}))

	a := Select(recs, SelectOptions{Start: 1, Limit: 4, Random: true, Seed: 42})
	b := Select(recs, SelectOptions{Start: 1, Limit: 4, Random: true, Seed: 42})
	require.Len(t, a, 4)
	assert.Equal(t, a, b)
	for _, r := range a {
		assert.NotEqual(t, "c0", r.Claim)
	}
	assert.Equal(t, "c0", recs[0].Claim, "input must not be reordered")
}

func TestReadRecordsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.jsonl")
	content := `{"id": 91198, "claim": "Colin Kaepernick became a starting quarterback.", "label": "SUPPORTS"}

{"id": "x2", "claim": "Tilda Swinton is a vegan.", "label": "NOT ENOUGH INFO"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	recs, err := ReadRecordsFromFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "91198", recs[0].RecordID())
	assert.Equal(t, "x2", recs[1].RecordID())
	assert.Equal(t, GoldSupports, recs[0].Gold())

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"id\":1}\nnot json\n"), 0o644))
	_, err = ReadRecordsFromFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = ReadRecordsFromFile(filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err)
}
