// Package score turns batch evaluation counts into per-label metrics and
// diagnostic signals.
package score

import (
	"fmt"
	"math"
	"sort"
)

// Severity of a signal
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Signal types
const (
	SignalLabelCollapse = "label_collapse" // one label dominates the predictions
	SignalAbstention    = "abstention"     // too many abstaining predictions
	SignalMissingLabel  = "missing_label"  // a gold label is never predicted
	SignalSmallSample   = "small_sample"
)

const (
	collapseShare        = 0.9
	abstentionShare      = 0.6
	smallSampleThreshold = 20
)

// Signal is a diagnostic about the shape of the predictions
type Signal struct {
	Type        string         `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// LabelScore holds the one-vs-rest metrics of one label
type LabelScore struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`   // gold count
	Predicted int     `json:"predicted"` // predicted count
}

// Summary is the result of scoring a confusion table
type Summary struct {
	Total    int          `json:"total"`
	Accuracy float64      `json:"accuracy"`
	MacroF1  float64      `json:"macro_f1"`
	Labels   []LabelScore `json:"labels"`
	Signals  []Signal     `json:"signals,omitempty"`
}

// Scorer computes evaluation metrics
type Scorer struct {
	abstain string
}

// NewScorer creates a scorer; abstain names the label that means
// "no decision" and is watched for over-use.
func NewScorer(abstain string) *Scorer {
	return &Scorer{abstain: abstain}
}

// Calculate scores a gold -> predicted -> count table
func (s *Scorer) Calculate(confusion map[string]map[string]int) Summary {
	gold := make(map[string]int)
	pred := make(map[string]int)
	labels := make(map[string]bool)
	total, correct := 0, 0

	for g, row := range confusion {
		for p, n := range row {
			gold[g] += n
			pred[p] += n
			labels[g] = true
			labels[p] = true
			total += n
			if g == p {
				correct += n
			}
		}
	}

	sum := Summary{Total: total}
	if total == 0 {
		return sum
	}
	sum.Accuracy = round(float64(correct) / float64(total))

	names := make([]string, 0, len(labels))
	for l := range labels {
		names = append(names, l)
	}
	sort.Strings(names)

	f1Sum := 0.0
	goldLabels := 0
	for _, l := range names {
		tp := confusion[l][l]
		ls := LabelScore{
			Label:     l,
			Precision: ratio(tp, pred[l]),
			Recall:    ratio(tp, gold[l]),
			Support:   gold[l],
			Predicted: pred[l],
		}
		if ls.Precision+ls.Recall > 0 {
			ls.F1 = round(2 * ls.Precision * ls.Recall / (ls.Precision + ls.Recall))
		}
		if gold[l] > 0 {
			f1Sum += ls.F1
			goldLabels++
		}
		sum.Labels = append(sum.Labels, ls)
	}
	if goldLabels > 0 {
		sum.MacroF1 = round(f1Sum / float64(goldLabels))
	}

	sum.Signals = s.signals(sum, pred)
	return sum
}

func (s *Scorer) signals(sum Summary, pred map[string]int) []Signal {
	var out []Signal

	if sum.Total < smallSampleThreshold {
		out = append(out, Signal{
			Type:        SignalSmallSample,
			Severity:    SeverityInfo,
			Description: fmt.Sprintf("Only %d records scored; metrics are noisy", sum.Total),
			Data:        map[string]any{"total": sum.Total},
		})
	}

	for _, ls := range sum.Labels {
		share := float64(ls.Predicted) / float64(sum.Total)
		if share >= collapseShare && len(sum.Labels) > 1 {
			out = append(out, Signal{
				Type:        SignalLabelCollapse,
				Severity:    SeverityCritical,
				Description: fmt.Sprintf("%.0f%% of predictions are %s", share*100, ls.Label),
				Data:        map[string]any{"label": ls.Label, "share": round(share)},
			})
		}
		if ls.Support > 0 && ls.Predicted == 0 {
			out = append(out, Signal{
				Type:        SignalMissingLabel,
				Severity:    SeverityWarning,
				Description: fmt.Sprintf("%s appears %d times in gold but is never predicted", ls.Label, ls.Support),
				Data:        map[string]any{"label": ls.Label, "support": ls.Support},
			})
		}
	}

	if s.abstain != "" {
		share := float64(pred[s.abstain]) / float64(sum.Total)
		if share >= abstentionShare && share < collapseShare {
			out = append(out, Signal{
				Type:        SignalAbstention,
				Severity:    SeverityWarning,
				Description: fmt.Sprintf("%.0f%% of predictions are %s", share*100, s.abstain),
				Data:        map[string]any{"share": round(share)},
			})
		}
	}
	return out
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round(float64(n) / float64(d))
}

func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}
