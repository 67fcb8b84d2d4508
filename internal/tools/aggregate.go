package tools

import (
	"encoding/json"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
)

// AggregateArgs is the input of verdict_aggregate
type AggregateArgs struct {
	Claims []model.Claim `json:"claims"`
	Scores []model.Score `json:"scores"`
}

// VerdictsData carries verdicts
type VerdictsData struct {
	Verdicts []model.Verdict `json:"verdicts"`
}

// Aggregator turns stance scores into one verdict per claim.
// Refutation is checked first and needs less mass than support.
type Aggregator struct {
	h model.HeuristicConfig
}

// NewAggregator builds an aggregator from heuristic configuration
func NewAggregator(h model.HeuristicConfig) *Aggregator {
	return &Aggregator{h: h}
}

func (a *Aggregator) weight(c model.Confidence) float64 {
	switch c {
	case model.ConfidenceHigh:
		return a.h.WeightHigh
	case model.ConfidenceMed:
		return a.h.WeightMed
	default:
		return a.h.WeightLow
	}
}

// Decide maps weighted support and refute mass to a verdict
func (a *Aggregator) Decide(claimID string, support, refute float64) model.Verdict {
	v := model.Verdict{ClaimID: claimID, Label: model.LabelInsufficient, Confidence: model.ConfidenceLow}
	switch {
	case refute >= max(a.h.RefuteMin, support+a.h.RefuteMargin):
		v.Label = model.LabelRefuted
		v.Confidence = model.ConfidenceMed
		if refute >= a.h.RefuteHigh {
			v.Confidence = model.ConfidenceHigh
		}
	case support >= max(a.h.SupportScoreMin, refute+a.h.SupportMargin):
		v.Label = model.LabelSupported
		v.Confidence = model.ConfidenceMed
		if support >= a.h.SupportScoreHigh {
			v.Confidence = model.ConfidenceHigh
		}
	case support > 0 && refute > 0:
		v.Label = model.LabelMixed
	}
	return v
}

// Aggregate produces exactly one verdict per claim, in claim order
func (a *Aggregator) Aggregate(claims []model.Claim, scores []model.Score) []model.Verdict {
	support := make(map[string]float64, len(claims))
	refute := make(map[string]float64, len(claims))
	for _, s := range scores {
		switch s.Stance {
		case model.StanceSupport:
			support[s.ClaimID] += a.weight(s.Confidence)
		case model.StanceRefute:
			refute[s.ClaimID] += a.weight(s.Confidence)
		}
	}

	verdicts := make([]model.Verdict, 0, len(claims))
	for _, c := range claims {
		verdicts = append(verdicts, a.Decide(c.ID, support[c.ID], refute[c.ID]))
	}
	return verdicts
}

func (a *Aggregator) verdictAggregate(args json.RawMessage) guard.Payload {
	var in AggregateArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return guard.Fail(guard.CodeBadArgs, err.Error(), guard.RollbackState)
	}
	if len(in.Claims) == 0 {
		return guard.Fail(guard.CodeNoClaims, "no claims to aggregate", guard.RollbackState)
	}
	return guard.OK(VerdictsData{Verdicts: a.Aggregate(in.Claims, in.Scores)})
}
