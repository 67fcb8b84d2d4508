// Package policy holds the static table of which skills and tools each
// phase may invoke.
package policy

import (
	"sort"

	"github.com/ppiankov/veritas/internal/model"
)

// Kind distinguishes model-backed skills from deterministic tools
type Kind string

const (
	KindSkill Kind = "skill"
	KindTool  Kind = "tool"
)

// Rules maps phases to the identifiers allowed in each
type Rules map[model.Phase][]string

// Policy is a read-only capability table.
// It is fully built by New and safe for concurrent reads afterwards.
type Policy struct {
	skills map[model.Phase]map[string]bool
	tools  map[model.Phase]map[string]bool
}

// SkillRules is the default skill table
var SkillRules = Rules{
	model.PhaseParseClaim:     {"claim_normalizer", "claim_decomposer", "evidence_query_planner"},
	model.PhaseRetrieval:      {"tool_request_composer"},
	model.PhaseSelectEvidence: {"evidence_filter"},
	model.PhaseNLIVerify:      {"evidence_stance_scorer"},
	model.PhaseDecide:         {"verdict_aggregator"},
	model.PhaseOutput:         {"response_composer"},
}

// ToolRules is the default tool table
var ToolRules = Rules{
	model.PhaseParseClaim:     {"claim_normalize", "claim_decompose", "evidence_query_plan"},
	model.PhaseRetrieval:      {"tool_request_compose", "search", "web_search", "kb_lookup", "page_fetch", "sentence_extract"},
	model.PhaseSelectEvidence: {},
	model.PhaseNLIVerify:      {"nli_score"},
	model.PhaseDecide:         {"verdict_aggregate"},
	model.PhaseOutput:         {"response_compose"},
}

// New builds a policy from skill and tool rules
func New(skills, tools Rules) *Policy {
	return &Policy{
		skills: index(skills),
		tools:  index(tools),
	}
}

// Default returns the policy built from SkillRules and ToolRules
func Default() *Policy {
	return New(SkillRules, ToolRules)
}

func index(rules Rules) map[model.Phase]map[string]bool {
	out := make(map[model.Phase]map[string]bool, len(rules))
	for phase, ids := range rules {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		out[phase] = set
	}
	return out
}

// Allowed reports whether id of the given kind may run in phase.
// Unknown phases allow nothing.
func (p *Policy) Allowed(phase model.Phase, id string, kind Kind) bool {
	var table map[model.Phase]map[string]bool
	switch kind {
	case KindSkill:
		table = p.skills
	case KindTool:
		table = p.tools
	default:
		return false
	}
	set, ok := table[phase]
	if !ok {
		return false
	}
	return set[id]
}

// AllowedIDs lists the identifiers of kind allowed in phase, sorted
func (p *Policy) AllowedIDs(phase model.Phase, kind Kind) []string {
	table := p.tools
	if kind == KindSkill {
		table = p.skills
	}
	out := make([]string, 0, len(table[phase]))
	for id := range table[phase] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
