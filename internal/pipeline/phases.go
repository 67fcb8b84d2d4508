package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/skill"
	"github.com/ppiankov/veritas/internal/state"
	"github.com/ppiankov/veritas/internal/tools"
)

const maxToolLimit = 10

type selectionData struct {
	Selected []model.Selection `json:"selected"`
}

type filterInput struct {
	Claims   []model.Claim        `json:"claims"`
	Evidence []model.EvidenceItem `json:"evidence"`
}

// parseClaim normalizes the claim, splits it when needed and plans queries
func (p *Pipeline) parseClaim(ctx context.Context, rc *runContext) (model.Phase, string) {
	run := rc.run
	phase := model.PhaseParseClaim
	in := tools.ClaimArgs{Claim: run.Claim}

	norm, ok := firstOK(ctx, run, []strategy{
		p.toolStep(phase, tools.ClaimNormalize, in),
		p.skillStep(phase, skill.ClaimNormalizer, in),
	}, func(n model.NormalizedClaim) (model.NormalizedClaim, error) {
		n.Text = strings.TrimSpace(n.Text)
		if n.Text == "" {
			return n, errEmpty
		}
		return n, nil
	})
	if !ok {
		ensureClaims(run)
		run.DefaultVerdicts()
		return model.PhaseOutput, "claim could not be normalized"
	}
	run.Normalized = &norm

	run.Claims = []model.Claim{{ID: "s1", Text: norm.Text}}
	if norm.Decompose {
		split := tools.ClaimArgs{Claim: norm.Text}
		got, ok := firstOK(ctx, run, []strategy{
			p.toolStep(phase, tools.ClaimDecompose, split),
			p.skillStep(phase, skill.ClaimDecomposer, split),
		}, checkClaims)
		if ok {
			run.Claims = got.Claims
		} else {
			run.Record("claims_fallback", "fallback", "single claim")
		}
	}

	planArgs := tools.PlanArgs{
		Claims:     run.Claims,
		Limit:      p.cfg.Retrieval.QueryLimit,
		MaxQueries: p.cfg.Orchestrator.MaxQueriesPerClaim,
	}
	plans, ok := firstOK(ctx, run, []strategy{
		p.skillStep(phase, skill.EvidenceQueryPlanner, planArgs),
		p.toolStep(phase, tools.EvidenceQueryPlan, planArgs),
	}, func(d tools.PlansData) (tools.PlansData, error) {
		d.Plans = p.cleanPlans(run, d.Plans)
		if len(d.Plans) == 0 {
			return d, errEmpty
		}
		return d, nil
	})
	if ok {
		run.Plans = plans.Plans
	} else {
		run.Plans = p.defaultPlans(run.Claims)
		run.Record("plan_fallback", "fallback", fmt.Sprintf("%d plans", len(run.Plans)))
	}

	return model.PhaseRetrieval, fmt.Sprintf("%d claims, %d plans", len(run.Claims), len(run.Plans))
}

func checkClaims(d tools.ClaimsData) (tools.ClaimsData, error) {
	if len(d.Claims) == 0 {
		return d, errEmpty
	}
	seen := make(map[string]bool, len(d.Claims))
	for i, c := range d.Claims {
		c.ID = strings.TrimSpace(c.ID)
		c.Text = strings.TrimSpace(c.Text)
		if c.ID == "" || c.Text == "" || seen[c.ID] {
			return d, eris.Errorf("claim %d has an empty or repeated id or text", i+1)
		}
		seen[c.ID] = true
		d.Claims[i] = c
	}
	return d, nil
}

// cleanPlans drops plans for unknown claims and bounds queries and limits
func (p *Pipeline) cleanPlans(run *state.Run, plans []model.EvidencePlan) []model.EvidencePlan {
	maxQ := p.cfg.Orchestrator.MaxQueriesPerClaim
	out := make([]model.EvidencePlan, 0, len(plans))
	for _, plan := range plans {
		if !run.HasClaim(plan.ClaimID) {
			continue
		}
		var queries []string
		seen := make(map[string]bool)
		for _, q := range plan.Queries {
			q = strings.Join(strings.Fields(q), " ")
			key := strings.ToLower(q)
			if q == "" || seen[key] {
				continue
			}
			seen[key] = true
			queries = append(queries, q)
		}
		if maxQ > 0 && len(queries) > maxQ {
			queries = queries[:maxQ]
		}
		if len(queries) == 0 {
			continue
		}
		plan.Queries = queries
		plan.Limit = p.clampLimit(plan.Limit)
		if len(plan.Sources) == 0 {
			plan.Sources = append([]string(nil), tools.DefaultSources...)
		}
		out = append(out, plan)
	}
	return out
}

// defaultPlans synthesizes one query per claim
func (p *Pipeline) defaultPlans(claims []model.Claim) []model.EvidencePlan {
	plans := make([]model.EvidencePlan, 0, len(claims))
	for _, c := range claims {
		queries := tools.PlanQueries(c.Text, 1)
		if len(queries) == 0 {
			queries = []string{strings.TrimRight(c.Text, ".!? ")}
		}
		plans = append(plans, model.EvidencePlan{
			ClaimID: c.ID,
			Queries: queries,
			Sources: append([]string(nil), tools.DefaultSources...),
			Limit:   p.clampLimit(0),
		})
	}
	return plans
}

func (p *Pipeline) clampLimit(n int) int {
	if n <= 0 {
		n = p.cfg.Retrieval.QueryLimit
	}
	return max(1, min(n, maxToolLimit))
}

// retrieve composes tool requests and runs each through the source chain
func (p *Pipeline) retrieve(ctx context.Context, rc *runContext) (model.Phase, string) {
	run := rc.run
	phase := model.PhaseRetrieval
	args := tools.ComposeArgs{Plans: run.Plans}

	reqs, ok := firstOK(ctx, run, []strategy{
		p.toolStep(phase, tools.ToolRequestCompose, args),
		p.skillStep(phase, skill.ToolRequestComposer, args),
	}, func(d tools.RequestsData) (tools.RequestsData, error) {
		d.Requests = p.cleanRequests(run, d.Requests)
		if len(d.Requests) == 0 {
			return d, errEmpty
		}
		return d, nil
	})
	if !ok {
		if run.Retry(retryCompose) <= p.cfg.Orchestrator.PhaseRetries {
			return model.PhaseRetrieval, "request compose failed, retrying"
		}
		run.DefaultVerdicts()
		return model.PhaseOutput, "request compose failed after retries"
	}
	run.Requests = reqs.Requests

	added := 0
	for _, req := range run.Requests {
		if ctx.Err() != nil {
			break
		}
		added += p.execute(ctx, rc, req)
	}
	if added > 0 {
		return model.PhaseSelectEvidence, fmt.Sprintf("%d new evidence items", added)
	}

	run.Record("retrieval_empty", "retry", fmt.Sprintf("%d requests", len(run.Requests)))
	if run.Retry(retryEmpty) <= p.cfg.Orchestrator.PhaseRetries {
		return model.PhaseRetrieval, "no new evidence, retrying"
	}
	run.DefaultVerdicts()
	return model.PhaseOutput, "no evidence after retries"
}

// cleanRequests keeps search requests with a query and a known claim.
// Missing or repeated ids are renumbered.
func (p *Pipeline) cleanRequests(run *state.Run, reqs []model.ToolRequest) []model.ToolRequest {
	out := make([]model.ToolRequest, 0, len(reqs))
	ids := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		r.Args.Query = strings.Join(strings.Fields(r.Args.Query), " ")
		if r.Args.Query == "" {
			continue
		}
		if r.ClaimID == "" && len(run.Claims) == 1 {
			r.ClaimID = run.Claims[0].ID
		}
		if !run.HasClaim(r.ClaimID) {
			continue
		}
		r.Tool = string(tools.Search)
		r.Args.Source = model.SourceWiki
		r.Args.Limit = p.clampLimit(r.Args.Limit)
		if r.ID == "" || ids[r.ID] || strings.Contains(r.ID, ":") {
			r.ID = fmt.Sprintf("t%d", len(out)+1)
			for ids[r.ID] {
				r.ID += "x"
			}
		}
		ids[r.ID] = true
		out = append(out, r)
	}
	return out
}

// selectEvidence keeps the evidence relevant to each claim
func (p *Pipeline) selectEvidence(ctx context.Context, rc *runContext) (model.Phase, string) {
	run := rc.run
	phase := model.PhaseSelectEvidence
	if len(run.Evidence) == 0 {
		return model.PhaseRetrieval, "no evidence to select from"
	}

	lex := p.tools.Lexicon()
	topK := p.cfg.Orchestrator.SelectTopK
	if topK <= 0 {
		topK = tools.DefaultSelectTopK
	}

	var selected []model.Selection
	got, ok := firstOK[selectionData](ctx, run, []strategy{
		p.skillStep(phase, skill.EvidenceFilter, filterInput{Claims: run.Claims, Evidence: run.Evidence}),
	}, nil)
	if ok {
		selected = tools.FilterRelevant(run.SetSelected(got.Selected), run.Claims, run.Evidence, lex)
	}
	if len(selected) == 0 {
		selected = tools.SelectByOverlap(run.Claims, run.Evidence, topK, lex)
		run.Record("evidence_filter_fallback", "fallback", fmt.Sprintf("%d by overlap", len(selected)))
	}
	if len(selected) > topK {
		selected = selected[:topK]
	}

	if kept := run.SetSelected(selected); len(kept) > 0 {
		return model.PhaseNLIVerify, fmt.Sprintf("%d selected", len(kept))
	}

	run.Record("select_empty", "retry", "")
	if run.Retry(retrySelectEmpty) <= p.cfg.Orchestrator.PhaseRetries {
		return model.PhaseRetrieval, "nothing relevant, retrieving again"
	}
	run.DefaultVerdicts()
	return model.PhaseOutput, "nothing relevant after retries"
}

// verifyStance scores every selected pair
func (p *Pipeline) verifyStance(ctx context.Context, rc *runContext) (model.Phase, string) {
	run := rc.run
	phase := model.PhaseNLIVerify
	if len(run.Selected) == 0 {
		run.DefaultVerdicts()
		return model.PhaseOutput, "nothing selected"
	}

	args := tools.ScoreArgs{
		Claims:   run.Claims,
		Evidence: selectedEvidence(run),
		Selected: run.Selected,
	}
	_, ok := firstOK(ctx, run, []strategy{
		p.skillStep(phase, skill.EvidenceStanceScorer, args),
		p.toolStep(phase, tools.NLIScore, args),
	}, func(d tools.ScoresData) (tools.ScoresData, error) {
		if len(run.SetScores(d.Scores)) == 0 {
			return d, errEmpty
		}
		return d, nil
	})
	if !ok {
		run.Scores = nil
		run.DefaultVerdicts()
		return model.PhaseOutput, "stance scoring failed"
	}
	return model.PhaseDecide, fmt.Sprintf("%d scores", len(run.Scores))
}

func selectedEvidence(run *state.Run) []model.EvidenceItem {
	seen := make(map[string]bool, len(run.Selected))
	out := make([]model.EvidenceItem, 0, len(run.Selected))
	for _, s := range run.Selected {
		if seen[s.EvidenceID] {
			continue
		}
		if ev, ok := run.EvidenceByID(s.EvidenceID); ok {
			seen[s.EvidenceID] = true
			out = append(out, ev)
		}
	}
	return out
}

// decide aggregates scores into one verdict per claim
func (p *Pipeline) decide(ctx context.Context, rc *runContext) (model.Phase, string) {
	run := rc.run
	phase := model.PhaseDecide
	args := tools.AggregateArgs{Claims: run.Claims, Scores: run.Scores}

	got, ok := firstOK(ctx, run, []strategy{
		p.skillStep(phase, skill.VerdictAggregator, args),
		p.toolStep(phase, tools.VerdictAggregate, args),
	}, func(d tools.VerdictsData) (tools.VerdictsData, error) {
		if len(d.Verdicts) == 0 {
			return d, errEmpty
		}
		return d, nil
	})
	if !ok {
		run.DefaultVerdicts()
		return model.PhaseOutput, "aggregation failed"
	}
	run.SetVerdicts(got.Verdicts)
	return model.PhaseOutput, "verdicts decided"
}
