package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
)

const maxQueryTokens = 6

// PlanArgs is the input of evidence_query_plan
type PlanArgs struct {
	Claims     []model.Claim `json:"claims"`
	Limit      int           `json:"limit,omitempty"`
	MaxQueries int           `json:"max_queries,omitempty"`
}

// PlansData carries evidence plans
type PlansData struct {
	Plans []model.EvidencePlan `json:"plans"`
}

// ComposeArgs is the input of tool_request_compose
type ComposeArgs struct {
	Plans []model.EvidencePlan `json:"plans"`
}

// RequestsData carries composed tool requests
type RequestsData struct {
	Requests []model.ToolRequest `json:"requests"`
}

// DefaultSources is the source preference attached to every plan
var DefaultSources = []string{model.SourceWiki, model.SourceKB, model.SourceWeb}

// PlanQueries builds up to maxQueries entity-first queries for a claim
func PlanQueries(text string, maxQueries int) []string {
	if maxQueries <= 0 {
		maxQueries = 2
	}

	entities := EntityPhrases(text)
	entityWords := make(map[string]bool)
	for _, e := range entities {
		for _, w := range Tokens(e) {
			entityWords[w] = true
		}
	}

	var terms, predicate []string
	for _, t := range Tokens(text) {
		if stopwords[t] || negationWords[t] {
			continue
		}
		terms = append(terms, t)
		if !entityWords[t] {
			predicate = append(predicate, t)
		}
	}

	var candidates []string
	if len(entities) > 0 {
		candidates = append(candidates, entities[0])
		if len(predicate) > 0 {
			n := min(2, len(predicate))
			candidates = append(candidates, entities[0]+" "+strings.Join(predicate[:n], " "))
		}
	} else if len(terms) > 0 {
		candidates = append(candidates, strings.Join(terms, " "))
	}

	seen := make(map[string]bool)
	var queries []string
	for _, q := range candidates {
		words := strings.Fields(q)
		if len(words) > maxQueryTokens {
			words = words[:maxQueryTokens]
		}
		q = strings.Join(words, " ")
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, q)
		if len(queries) == maxQueries {
			break
		}
	}
	return queries
}

func evidenceQueryPlan(defaultLimit, defaultMax int) Func {
	return func(args json.RawMessage) guard.Payload {
		var in PlanArgs
		if err := json.Unmarshal(args, &in); err != nil {
			return guard.Fail(guard.CodeBadArgs, err.Error(), guard.RollbackState)
		}
		if len(in.Claims) == 0 {
			return guard.Fail(guard.CodeNoClaims, "no claims to plan", guard.RollbackState)
		}
		limit := in.Limit
		if limit <= 0 {
			limit = defaultLimit
		}
		maxQ := in.MaxQueries
		if maxQ <= 0 {
			maxQ = defaultMax
		}

		var plans []model.EvidencePlan
		for _, c := range in.Claims {
			queries := PlanQueries(c.Text, maxQ)
			if len(queries) == 0 {
				continue
			}
			plans = append(plans, model.EvidencePlan{
				ClaimID: c.ID,
				Queries: queries,
				Sources: append([]string(nil), DefaultSources...),
				Limit:   limit,
			})
		}
		if len(plans) == 0 {
			return guard.Fail(guard.CodeNoQueries, "no content terms to query", guard.RollbackState)
		}
		return guard.OK(PlansData{Plans: plans})
	}
}

// ComposeRequests turns plans into one search request per query
func ComposeRequests(plans []model.EvidencePlan) ([]model.ToolRequest, *guard.Error) {
	if len(plans) == 0 {
		return nil, &guard.Error{Code: guard.CodeNoPlans, Message: "no plans to compose"}
	}
	var reqs []model.ToolRequest
	for _, p := range plans {
		for _, q := range p.Queries {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			reqs = append(reqs, model.ToolRequest{
				ID:   fmt.Sprintf("t%d", len(reqs)+1),
				Tool: string(Search),
				Args: model.ToolArgs{
					Query:  q,
					Limit:  p.Limit,
					Source: model.SourceWiki,
				},
				ClaimID: p.ClaimID,
			})
		}
	}
	if len(reqs) == 0 {
		return nil, &guard.Error{Code: guard.CodeNoQueries, Message: "plans carry no queries"}
	}
	return reqs, nil
}

func toolRequestCompose(args json.RawMessage) guard.Payload {
	var in ComposeArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return guard.Fail(guard.CodeBadArgs, err.Error(), guard.RollbackTools)
	}
	reqs, gerr := ComposeRequests(in.Plans)
	if gerr != nil {
		return guard.Fail(gerr.Code, gerr.Message, guard.RollbackTools)
	}
	return guard.OK(RequestsData{Requests: reqs})
}
