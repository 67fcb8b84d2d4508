// Package state holds the mutable record of one verification run.
// A Run is owned by a single goroutine; it is never shared between runs.
package state

import (
	"time"

	"github.com/ppiankov/veritas/internal/model"
)

// Action is one history entry
type Action struct {
	Timestamp time.Time   `json:"ts"`
	Phase     model.Phase `json:"phase"`
	Name      string      `json:"name"`   // e.g. "tool:search", "skill:evidence_filter", "transition"
	Status    string      `json:"status"` // ok, error, retry, fallback, miss
	Detail    string      `json:"detail,omitempty"`
}

// Run is the per-claim working state
type Run struct {
	ID         string                  `json:"id"`
	Phase      model.Phase             `json:"phase"`
	Revision   int                     `json:"revision"`
	Claim      string                  `json:"claim"`
	Normalized *model.NormalizedClaim  `json:"normalized,omitempty"`
	Claims     []model.Claim           `json:"claims"`
	Plans      []model.EvidencePlan    `json:"plans"`
	Requests   []model.ToolRequest     `json:"tool_requests"`
	Evidence   []model.EvidenceItem    `json:"evidence"`
	Selected   []model.Selection       `json:"selected"`
	Scores     []model.Score           `json:"scores"`
	Verdicts   []model.Verdict         `json:"verdicts"`
	Output     []model.ComposedVerdict `json:"output"`
	History    []Action                `json:"history"`
	Steps      int                     `json:"steps"`

	retries  map[string]int
	seenText map[string]bool
	byID     map[string]int
	now      func() time.Time
}

// New creates a run positioned at PARSE_CLAIM
func New(id, claim string) *Run {
	return &Run{
		ID:       id,
		Phase:    model.PhaseParseClaim,
		Claim:    claim,
		retries:  make(map[string]int),
		seenText: make(map[string]bool),
		byID:     make(map[string]int),
		now:      time.Now,
	}
}

// SetClock replaces the timestamp source (tests)
func (r *Run) SetClock(now func() time.Time) {
	r.now = now
}

// Tick moves the run to phase and bumps the revision
func (r *Run) Tick(to model.Phase, reason string) {
	from := r.Phase
	r.Phase = to
	r.Revision++
	r.Record("transition", "ok", string(from)+"->"+string(to)+" "+reason)
}

// Record appends a history entry for the current phase
func (r *Run) Record(name, status, detail string) {
	r.History = append(r.History, Action{
		Timestamp: r.now(),
		Phase:     r.Phase,
		Name:      name,
		Status:    status,
		Detail:    detail,
	})
}

// Retry increments the named retry counter and returns the new count
func (r *Run) Retry(key string) int {
	r.retries[key]++
	return r.retries[key]
}

// Retries returns the current value of a retry counter
func (r *Run) Retries(key string) int {
	return r.retries[key]
}

// AddEvidence appends items whose text and id are new to the run.
// The first occurrence of a text wins. It returns the number appended.
func (r *Run) AddEvidence(items ...model.EvidenceItem) int {
	added := 0
	for _, it := range items {
		key := it.DedupKey()
		if key == "" || r.seenText[key] {
			continue
		}
		if _, dup := r.byID[it.ID]; dup {
			continue
		}
		r.seenText[key] = true
		r.byID[it.ID] = len(r.Evidence)
		r.Evidence = append(r.Evidence, it)
		added++
	}
	return added
}

// EvidenceByID looks up a live evidence item
func (r *Run) EvidenceByID(id string) (model.EvidenceItem, bool) {
	i, ok := r.byID[id]
	if !ok {
		return model.EvidenceItem{}, false
	}
	return r.Evidence[i], true
}

// HasClaim reports whether id names a claim of this run
func (r *Run) HasClaim(id string) bool {
	for _, c := range r.Claims {
		if c.ID == id {
			return true
		}
	}
	return false
}

// ClaimByID returns the claim with the given id
func (r *Run) ClaimByID(id string) (model.Claim, bool) {
	for _, c := range r.Claims {
		if c.ID == id {
			return c, true
		}
	}
	return model.Claim{}, false
}

// SetSelected replaces the selection, keeping only entries that reference
// live evidence and live claims. Duplicates are dropped.
func (r *Run) SetSelected(sel []model.Selection) []model.Selection {
	seen := make(map[model.Selection]bool, len(sel))
	kept := make([]model.Selection, 0, len(sel))
	for _, s := range sel {
		if seen[s] || !r.HasClaim(s.ClaimID) {
			continue
		}
		if _, ok := r.byID[s.EvidenceID]; !ok {
			continue
		}
		seen[s] = true
		kept = append(kept, s)
	}
	r.Selected = kept
	return kept
}

// IsSelected reports whether (eid, claimID) is part of the selection
func (r *Run) IsSelected(eid, claimID string) bool {
	for _, s := range r.Selected {
		if s.EvidenceID == eid && s.ClaimID == claimID {
			return true
		}
	}
	return false
}

// SetScores replaces the scores, keeping one valid score per selection
func (r *Run) SetScores(scores []model.Score) []model.Score {
	seen := make(map[model.Selection]bool, len(scores))
	kept := make([]model.Score, 0, len(scores))
	for _, s := range scores {
		key := model.Selection{EvidenceID: s.EvidenceID, ClaimID: s.ClaimID}
		if seen[key] || !r.IsSelected(s.EvidenceID, s.ClaimID) {
			continue
		}
		if !s.Stance.Valid() || !s.Confidence.Valid() {
			continue
		}
		if ev, ok := r.EvidenceByID(s.EvidenceID); ok {
			s.Confidence = s.Confidence.CapBy(ev.Credibility)
		}
		seen[key] = true
		kept = append(kept, s)
	}
	r.Scores = kept
	return kept
}

// SetVerdicts replaces the verdict set with exactly one verdict per claim.
// Claims without a valid verdict receive insufficient/low.
func (r *Run) SetVerdicts(verdicts []model.Verdict) []model.Verdict {
	byClaim := make(map[string]model.Verdict, len(verdicts))
	for _, v := range verdicts {
		if !r.HasClaim(v.ClaimID) || !v.Label.Valid() || !v.Confidence.Valid() {
			continue
		}
		if _, dup := byClaim[v.ClaimID]; dup {
			continue
		}
		byClaim[v.ClaimID] = v
	}
	out := make([]model.Verdict, 0, len(r.Claims))
	for _, c := range r.Claims {
		v, ok := byClaim[c.ID]
		if !ok {
			v = InsufficientVerdict(c.ID)
		}
		out = append(out, v)
	}
	r.Verdicts = out
	return out
}

// DefaultVerdicts sets insufficient/low for every claim
func (r *Run) DefaultVerdicts() []model.Verdict {
	return r.SetVerdicts(nil)
}

// InsufficientVerdict is the safe default for a claim
func InsufficientVerdict(claimID string) model.Verdict {
	return model.Verdict{
		ClaimID:    claimID,
		Label:      model.LabelInsufficient,
		Confidence: model.ConfidenceLow,
	}
}
