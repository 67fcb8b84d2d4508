package tools

import (
	"encoding/json"
	"strings"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
)

// ScoreArgs is the input of nli_score
type ScoreArgs struct {
	Claims   []model.Claim        `json:"claims"`
	Evidence []model.EvidenceItem `json:"evidence"`
	Selected []model.Selection    `json:"selected"`
}

// ScoresData carries stance scores
type ScoresData struct {
	Scores []model.Score `json:"scores"`
}

// StanceScorer decides the stance of a sentence towards a claim with
// ordered, explainable rules.
type StanceScorer struct {
	h   model.HeuristicConfig
	lex *Lexicon
}

// NewStanceScorer builds a scorer from heuristic configuration
func NewStanceScorer(h model.HeuristicConfig, lex *Lexicon) *StanceScorer {
	return &StanceScorer{h: h, lex: lex}
}

// Judgment is the stance decision with the rule that produced it
type Judgment struct {
	Stance     model.Stance
	Confidence model.Confidence
	Rule       string
}

// Judge applies the stance rules in order. The first rule that fires wins.
func (s *StanceScorer) Judge(claim, sentence string) Judgment {
	c := s.lex.ContentSet(claim)
	e := s.lex.ContentSet(sentence)
	ratio := OverlapRatio(c, e)

	if ratio < s.h.NeutralOverlap {
		return Judgment{model.StanceNeutral, model.ConfidenceLow, "low_overlap"}
	}

	// 1. copular claims need a copular match in the evidence
	if subj, pred, ok := s.copularParts(claim); ok && !s.copularMatch(sentence, subj, pred) {
		return Judgment{model.StanceNeutral, model.ConfidenceLow, "copular_mismatch"}
	}

	// 2. conflicting years
	if disjointNonEmpty(Years(claim), Years(sentence)) && ratio >= s.h.YearOverlap {
		if !intersects(s.predicateTerms(claim), e) {
			return Judgment{model.StanceNeutral, model.ConfidenceLow, "year_no_predicate"}
		}
		return Judgment{model.StanceRefute, model.ConfidenceMed, "year_conflict"}
	}

	// 3. conflicting bare numbers
	if disjointNonEmpty(Numbers(claim), Numbers(sentence)) && ratio >= s.h.NumberOverlap {
		return Judgment{model.StanceRefute, model.ConfidenceMed, "number_conflict"}
	}

	// 4. negation on one side only
	if HasNegation(claim) != HasNegation(sentence) && ratio >= s.h.NegationOverlap {
		return Judgment{model.StanceRefute, model.ConfidenceHigh, "negation_mismatch"}
	}

	// 5. antonym pair split across claim and sentence
	if ratio >= s.h.AntonymOverlap && s.antonymSplit(c, e) {
		return Judgment{model.StanceRefute, model.ConfidenceMed, "antonym"}
	}

	// 6. exclusive claim but evidence names someone else
	if HasExclusivity(claim) && ratio >= s.h.ExclusivityOverlap && s.unlistedEntities(claim, sentence) {
		return Judgment{model.StanceRefute, model.ConfidenceMed, "exclusivity"}
	}

	// 7. claim contained verbatim
	cc, cs := comparable(claim), comparable(sentence)
	if cc != "" && strings.Contains(" "+cs+" ", " "+cc+" ") {
		return Judgment{model.StanceSupport, model.ConfidenceHigh, "containment"}
	}

	// 8. salient entities missing from weakly overlapping evidence
	if ratio < s.h.SalientOverlap && s.missingEntity(claim, e) {
		return Judgment{model.StanceNeutral, model.ConfidenceLow, "entity_missing"}
	}

	// 9. plain overlap
	switch {
	case ratio >= s.h.SupportHigh:
		return Judgment{model.StanceSupport, model.ConfidenceHigh, "overlap_high"}
	case ratio >= s.h.SupportMed:
		return Judgment{model.StanceSupport, model.ConfidenceMed, "overlap_med"}
	}
	return Judgment{model.StanceNeutral, model.ConfidenceLow, "overlap_weak"}
}

func (s *StanceScorer) copularParts(claim string) (map[string]bool, map[string]bool, bool) {
	m := claimCopRe.FindStringSubmatch(strings.TrimRight(strings.ToLower(strings.TrimSpace(claim)), ".!?"))
	if m == nil {
		return nil, nil, false
	}
	subj, pred := s.lex.ContentSet(m[1]), s.lex.ContentSet(m[2])
	if len(subj) == 0 || len(pred) == 0 {
		return nil, nil, false
	}
	return subj, pred, true
}

// copularMatch looks for "<subject...> is/was <...predicate>" in the sentence
func (s *StanceScorer) copularMatch(sentence string, subj, pred map[string]bool) bool {
	lower := strings.ToLower(sentence)
	for _, loc := range copulaRe.FindAllStringIndex(lower, -1) {
		left, right := s.lex.ContentSet(lower[:loc[0]]), s.lex.ContentSet(lower[loc[1]:])
		if intersects(subj, left) && intersects(pred, right) {
			return true
		}
	}
	return false
}

func (s *StanceScorer) predicateTerms(claim string) map[string]bool {
	entities := s.lex.EntityTokens(claim)
	years := Years(claim)
	numbers := Numbers(claim)
	out := make(map[string]bool)
	for t := range s.lex.ContentSet(claim) {
		if entities[t] || years[t] || numbers[t] {
			continue
		}
		out[t] = true
	}
	return out
}

func (s *StanceScorer) antonymSplit(c, e map[string]bool) bool {
	for _, p := range s.lex.antonyms {
		a, b := p[0], p[1]
		if (c[a] && e[b] && !c[b] && !e[a]) || (c[b] && e[a] && !c[a] && !e[b]) {
			return true
		}
	}
	return false
}

func (s *StanceScorer) unlistedEntities(claim, sentence string) bool {
	claimTokens := s.lex.EntityTokens(claim)
	for _, phrase := range EntityPhrases(sentence) {
		toks := s.lex.ContentTokens(phrase)
		if len(toks) == 0 {
			continue
		}
		listed := false
		for _, t := range toks {
			if claimTokens[t] {
				listed = true
				break
			}
		}
		if !listed {
			return true
		}
	}
	return false
}

func (s *StanceScorer) missingEntity(claim string, e map[string]bool) bool {
	for _, phrase := range EntityPhrases(claim) {
		toks := s.lex.ContentTokens(phrase)
		if len(toks) == 0 {
			continue
		}
		found := false
		for _, t := range toks {
			if e[t] {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

// ScoreSelection scores every selected (evidence, claim) pair.
// Confidence is capped by evidence credibility.
func (s *StanceScorer) ScoreSelection(claims []model.Claim, evidence []model.EvidenceItem, selected []model.Selection) []model.Score {
	claimText := make(map[string]string, len(claims))
	for _, c := range claims {
		claimText[c.ID] = c.Text
	}
	byID := make(map[string]model.EvidenceItem, len(evidence))
	for _, e := range evidence {
		byID[e.ID] = e
	}

	scores := make([]model.Score, 0, len(selected))
	for _, sel := range selected {
		ev, ok := byID[sel.EvidenceID]
		text, cok := claimText[sel.ClaimID]
		if !ok || !cok {
			continue
		}
		j := s.Judge(text, ev.Text)
		scores = append(scores, model.Score{
			EvidenceID: sel.EvidenceID,
			ClaimID:    sel.ClaimID,
			Stance:     j.Stance,
			Confidence: j.Confidence.CapBy(ev.Credibility),
			Reason:     j.Rule,
		})
	}
	return scores
}

func (s *StanceScorer) nliScore(args json.RawMessage) guard.Payload {
	var in ScoreArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return guard.Fail(guard.CodeBadArgs, err.Error(), guard.RollbackState)
	}
	if len(in.Selected) == 0 {
		return guard.Fail(guard.CodeNoSelected, "no selected evidence to score", guard.RollbackState)
	}
	return guard.OK(ScoresData{Scores: s.ScoreSelection(in.Claims, in.Evidence, in.Selected)})
}
