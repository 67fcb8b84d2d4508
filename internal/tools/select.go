package tools

import (
	"sort"
	"strings"

	"github.com/ppiankov/veritas/internal/model"
)

// DefaultSelectTopK is how many items the overlap selector keeps
const DefaultSelectTopK = 5

// SelectByOverlap ranks evidence by the number of content tokens it shares
// with the combined text of all claims. Items sharing nothing are dropped;
// ties go to the smaller evidence id. Each selection keeps the claim the
// evidence was retrieved for.
func SelectByOverlap(claims []model.Claim, evidence []model.EvidenceItem, topK int, lex *Lexicon) []model.Selection {
	if topK <= 0 {
		topK = DefaultSelectTopK
	}

	texts := make([]string, 0, len(claims))
	for _, c := range claims {
		texts = append(texts, c.Text)
	}
	claimTerms := lex.ContentSet(strings.Join(texts, " "))

	type ranked struct {
		sel   model.Selection
		score int
	}
	var scored []ranked
	for _, ev := range evidence {
		if ev.ID == "" {
			continue
		}
		n := 0
		for t := range lex.ContentSet(ev.Text) {
			if claimTerms[t] {
				n++
			}
		}
		if n > 0 {
			scored = append(scored, ranked{model.Selection{EvidenceID: ev.ID, ClaimID: ev.ClaimID}, n})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].sel.EvidenceID < scored[j].sel.EvidenceID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	out := make([]model.Selection, 0, len(scored))
	for _, r := range scored {
		out = append(out, r.sel)
	}
	return out
}

// Relevant reports whether evidence text shares at least one entity term and
// one predicate term with the claim. An empty term set passes.
func Relevant(claim, text string, lex *Lexicon) bool {
	entities := lex.EntityTokens(claim)
	evidence := lex.ContentSet(text)

	predicate := make(map[string]bool)
	for t := range lex.ContentSet(claim) {
		if !entities[t] {
			predicate[t] = true
		}
	}

	if len(entities) > 0 && !intersects(entities, evidence) {
		return false
	}
	if len(predicate) > 0 && !intersects(predicate, evidence) {
		return false
	}
	return true
}

// FilterRelevant keeps selections whose evidence passes Relevant for their claim
func FilterRelevant(selected []model.Selection, claims []model.Claim, evidence []model.EvidenceItem, lex *Lexicon) []model.Selection {
	claimText := make(map[string]string, len(claims))
	for _, c := range claims {
		claimText[c.ID] = c.Text
	}
	evText := make(map[string]string, len(evidence))
	for _, e := range evidence {
		evText[e.ID] = e.Text
	}

	out := make([]model.Selection, 0, len(selected))
	for _, s := range selected {
		ct, ok := claimText[s.ClaimID]
		et, eok := evText[s.EvidenceID]
		if !ok || !eok || !Relevant(ct, et, lex) {
			continue
		}
		out = append(out, s)
	}
	return out
}
