package tools

import (
	"encoding/json"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
)

const maxRationaleLen = 200

// ComposeResponseArgs is the input of response_compose
type ComposeResponseArgs struct {
	Claims   []model.Claim     `json:"claims"`
	Verdicts []model.Verdict   `json:"verdicts"`
	Selected []model.Selection `json:"selected"`
	Scores   []model.Score     `json:"scores,omitempty"`
}

// ComposedData carries the composed verdicts
type ComposedData struct {
	Verdicts []model.ComposedVerdict `json:"verdicts"`
}

// Rationale returns the fixed explanation for a label
func Rationale(label model.Label) string {
	switch label {
	case model.LabelSupported:
		return "Available evidence supports the claim."
	case model.LabelRefuted:
		return "Available evidence contradicts the claim."
	case model.LabelMixed:
		return "Evidence is mixed and does not fully agree."
	default:
		return "Evidence is insufficient for a reliable judgment."
	}
}

// Citations picks up to n selected evidence ids for a claim, preferring
// evidence whose stance agrees with the label.
func Citations(claimID string, label model.Label, selected []model.Selection, scores []model.Score, n int) []string {
	if n <= 0 {
		return []string{}
	}
	want := model.Stance("")
	switch label {
	case model.LabelSupported:
		want = model.StanceSupport
	case model.LabelRefuted:
		want = model.StanceRefute
	}

	stance := make(map[string]model.Stance, len(scores))
	for _, s := range scores {
		if s.ClaimID == claimID {
			stance[s.EvidenceID] = s.Stance
		}
	}

	out := []string{}
	seen := make(map[string]bool)
	pick := func(match func(string) bool) {
		for _, s := range selected {
			if len(out) == n {
				return
			}
			if s.ClaimID != claimID || seen[s.EvidenceID] || !match(s.EvidenceID) {
				continue
			}
			seen[s.EvidenceID] = true
			out = append(out, s.EvidenceID)
		}
	}
	if want != "" {
		pick(func(eid string) bool { return stance[eid] == want })
	}
	pick(func(string) bool { return true })
	return out
}

// ComposeResponse renders one entry per claim in claim order
func ComposeResponse(in ComposeResponseArgs, maxCitations int) []model.ComposedVerdict {
	byClaim := make(map[string]model.Verdict, len(in.Verdicts))
	for _, v := range in.Verdicts {
		if _, dup := byClaim[v.ClaimID]; !dup {
			byClaim[v.ClaimID] = v
		}
	}

	out := make([]model.ComposedVerdict, 0, len(in.Claims))
	for _, c := range in.Claims {
		v, ok := byClaim[c.ID]
		if !ok {
			v = model.Verdict{ClaimID: c.ID, Label: model.LabelInsufficient, Confidence: model.ConfidenceLow}
		}
		out = append(out, model.ComposedVerdict{
			ClaimID:    c.ID,
			Label:      v.Label,
			Confidence: v.Confidence,
			Rationale:  truncate(Rationale(v.Label), maxRationaleLen),
			Citations:  Citations(c.ID, v.Label, in.Selected, in.Scores, maxCitations),
		})
	}
	return out
}

func responseCompose(maxCitations int) Func {
	return func(args json.RawMessage) guard.Payload {
		var in ComposeResponseArgs
		if err := json.Unmarshal(args, &in); err != nil {
			return guard.Fail(guard.CodeBadArgs, err.Error(), guard.RollbackState)
		}
		if len(in.Claims) == 0 {
			return guard.Fail(guard.CodeNoClaims, "no claims to compose", guard.RollbackState)
		}
		return guard.OK(ComposedData{Verdicts: ComposeResponse(in, maxCitations)})
	}
}

// TruncateRationale caps free-form rationale text
func TruncateRationale(s string) string {
	return truncate(s, maxRationaleLen)
}
