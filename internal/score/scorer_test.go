package score

import (
	"math"
	"testing"
)

const nei = "NOT ENOUGH INFO"

func approx(a, b float64) bool {
	return math.Abs(a-b) < 0.001
}

func findLabel(sum Summary, label string) (LabelScore, bool) {
	for _, ls := range sum.Labels {
		if ls.Label == label {
			return ls, true
		}
	}
	return LabelScore{}, false
}

func hasSignal(sum Summary, typ string) bool {
	for _, s := range sum.Signals {
		if s.Type == typ {
			return true
		}
	}
	return false
}

func TestScorer_Calculate_PerLabelMetrics(t *testing.T) {
	scorer := NewScorer(nei)

	// 10 SUPPORTS: 8 right, 2 abstained. 10 REFUTES: 6 right, 2 called SUPPORTS, 2 abstained.
	confusion := map[string]map[string]int{
		"SUPPORTS": {"SUPPORTS": 8, nei: 2},
		"REFUTES":  {"REFUTES": 6, "SUPPORTS": 2, nei: 2},
	}

	sum := scorer.Calculate(confusion)

	if sum.Total != 20 {
		t.Fatalf("Expected total 20, got %d", sum.Total)
	}
	if !approx(sum.Accuracy, 0.7) {
		t.Errorf("Expected accuracy 0.7, got %v", sum.Accuracy)
	}

	sup, ok := findLabel(sum, "SUPPORTS")
	if !ok {
		t.Fatal("SUPPORTS missing from labels")
	}
	if !approx(sup.Precision, 0.8) || !approx(sup.Recall, 0.8) || !approx(sup.F1, 0.8) {
		t.Errorf("Unexpected SUPPORTS scores: %+v", sup)
	}

	ref, _ := findLabel(sum, "REFUTES")
	if !approx(ref.Precision, 1.0) || !approx(ref.Recall, 0.6) || !approx(ref.F1, 0.75) {
		t.Errorf("Unexpected REFUTES scores: %+v", ref)
	}

	// NEI is predicted but has no gold support, so it does not count toward macro F1
	n, ok := findLabel(sum, nei)
	if !ok || n.Support != 0 || n.Predicted != 4 {
		t.Errorf("Unexpected NEI row: %+v", n)
	}
	if !approx(sum.MacroF1, 0.775) {
		t.Errorf("Expected macro F1 0.775, got %v", sum.MacroF1)
	}
}

func TestScorer_Calculate_Empty(t *testing.T) {
	sum := NewScorer(nei).Calculate(nil)
	if sum.Total != 0 || sum.Accuracy != 0 || len(sum.Labels) != 0 || len(sum.Signals) != 0 {
		t.Errorf("Expected zero summary, got %+v", sum)
	}
}

func TestScorer_Calculate_LabelCollapse(t *testing.T) {
	confusion := map[string]map[string]int{
		"SUPPORTS": {nei: 15},
		"REFUTES":  {nei: 14, "REFUTES": 1},
	}

	sum := NewScorer(nei).Calculate(confusion)

	if !hasSignal(sum, SignalLabelCollapse) {
		t.Error("Expected label collapse signal")
	}
	if hasSignal(sum, SignalAbstention) {
		t.Error("Collapse should not also report abstention")
	}
	if !hasSignal(sum, SignalMissingLabel) {
		t.Error("Expected missing label signal for SUPPORTS")
	}
	if hasSignal(sum, SignalSmallSample) {
		t.Error("30 records should not be a small sample")
	}
}

func TestScorer_Calculate_Abstention(t *testing.T) {
	confusion := map[string]map[string]int{
		"SUPPORTS": {"SUPPORTS": 4, nei: 6},
		"REFUTES":  {"REFUTES": 4, nei: 6},
		nei:        {nei: 4},
	}

	sum := NewScorer(nei).Calculate(confusion)

	if !hasSignal(sum, SignalAbstention) {
		t.Errorf("Expected abstention signal, got %+v", sum.Signals)
	}
	if hasSignal(sum, SignalLabelCollapse) {
		t.Error("Did not expect label collapse")
	}
}

func TestScorer_Calculate_SmallSample(t *testing.T) {
	sum := NewScorer(nei).Calculate(map[string]map[string]int{
		"SUPPORTS": {"SUPPORTS": 3},
		"REFUTES":  {"REFUTES": 2},
	})

	if !hasSignal(sum, SignalSmallSample) {
		t.Error("Expected small sample signal")
	}
	if !approx(sum.Accuracy, 1) || !approx(sum.MacroF1, 1) {
		t.Errorf("Expected perfect scores, got %+v", sum)
	}
}
