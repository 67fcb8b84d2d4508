// Package tools holds the deterministic heuristics every phase can fall back to.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
)

// ID names a tool. The set is closed; policy tables refer to these names.
type ID string

const (
	ClaimNormalize     ID = "claim_normalize"
	ClaimDecompose     ID = "claim_decompose"
	EvidenceQueryPlan  ID = "evidence_query_plan"
	ToolRequestCompose ID = "tool_request_compose"
	Search             ID = "search"
	WebSearch          ID = "web_search"
	KBLookup           ID = "kb_lookup"
	PageFetch          ID = "page_fetch"
	SentenceExtract    ID = "sentence_extract"
	NLIScore           ID = "nli_score"
	VerdictAggregate   ID = "verdict_aggregate"
	ResponseCompose    ID = "response_compose"
)

// AllIDs lists every tool id in policy order
func AllIDs() []ID {
	return []ID{
		ClaimNormalize, ClaimDecompose, EvidenceQueryPlan, ToolRequestCompose,
		Search, WebSearch, KBLookup, PageFetch, SentenceExtract,
		NLIScore, VerdictAggregate, ResponseCompose,
	}
}

// Func is a pure tool: same args, same payload
type Func func(args json.RawMessage) guard.Payload

// Handler is a tool that may block on the network
type Handler func(ctx context.Context, args json.RawMessage) guard.Payload

func pure(fn Func) Handler {
	return func(_ context.Context, args json.RawMessage) guard.Payload {
		return fn(args)
	}
}

// Registry dispatches tool calls by id
type Registry struct {
	handlers map[ID]Handler
	lex      *Lexicon
}

// NewRegistry builds the local tools from configuration. Retrieval tools
// are registered separately by whoever owns the network clients.
func NewRegistry(cfg *model.Config) *Registry {
	lex := NewLexicon(cfg.Heuristics)
	scorer := NewStanceScorer(cfg.Heuristics, lex)
	agg := NewAggregator(cfg.Heuristics)

	r := &Registry{handlers: make(map[ID]Handler), lex: lex}
	r.handlers[ClaimNormalize] = pure(claimNormalize)
	r.handlers[ClaimDecompose] = pure(claimDecompose)
	r.handlers[EvidenceQueryPlan] = pure(evidenceQueryPlan(cfg.Retrieval.QueryLimit, cfg.Orchestrator.MaxQueriesPerClaim))
	r.handlers[ToolRequestCompose] = pure(toolRequestCompose)
	r.handlers[SentenceExtract] = pure(sentenceExtract)
	r.handlers[NLIScore] = pure(scorer.nliScore)
	r.handlers[VerdictAggregate] = pure(agg.verdictAggregate)
	r.handlers[ResponseCompose] = pure(responseCompose(cfg.Orchestrator.MaxCitations))
	return r
}

// Lexicon returns the lexicon built from the heuristic configuration
func (r *Registry) Lexicon() *Lexicon {
	return r.lex
}

// Register installs or replaces the handler for id
func (r *Registry) Register(id ID, h Handler) {
	r.handlers[id] = h
}

// Has reports whether a handler exists for id
func (r *Registry) Has(id ID) bool {
	_, ok := r.handlers[id]
	return ok
}

// IDs returns the registered ids, sorted
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Run marshals args, calls the tool and checks its output shape.
// A panicking tool or a malformed payload becomes BAD_TOOL_OUTPUT.
func (r *Registry) Run(ctx context.Context, id ID, args any) (out guard.Payload) {
	h, ok := r.handlers[id]
	if !ok {
		return guard.Fail(guard.CodeScope, fmt.Sprintf("tool %q is not registered", id), guard.RollbackState)
	}

	raw, ok := args.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(args)
		if err != nil {
			return guard.Fail(guard.CodeBadArgs, err.Error(), guard.RollbackTools)
		}
		raw = b
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = guard.Fail(guard.CodeBadToolOutput, fmt.Sprintf("tool %s panicked: %v", id, rec), guard.RollbackTools)
		}
	}()

	out = h(ctx, raw)
	if valid, reason := guard.CheckPayload(out); !valid {
		return guard.Fail(guard.CodeBadToolOutput, reason, guard.RollbackTools)
	}
	return out
}
