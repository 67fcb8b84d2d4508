package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeClaim(t *testing.T) {
	t.Run("question becomes declarative", func(t *testing.T) {
		nc, gerr := NormalizeClaim(`  "Is Paris the   capital of France?" `)
		require.Nil(t, gerr)
		assert.Equal(t, "Is Paris the capital of France.", nc.Text)
		assert.Equal(t, model.ClaimTypeQuestion, nc.Type)
		assert.False(t, nc.Decompose)
	})

	t.Run("conjunction flags decomposition", func(t *testing.T) {
		nc, gerr := NormalizeClaim("Paris is in France and Berlin is in Germany")
		require.Nil(t, gerr)
		assert.Equal(t, "Paris is in France and Berlin is in Germany.", nc.Text)
		assert.Equal(t, model.ClaimTypeMulti, nc.Type)
		assert.True(t, nc.Decompose)
	})

	t.Run("too short", func(t *testing.T) {
		_, gerr := NormalizeClaim(" a ")
		require.NotNil(t, gerr)
		assert.Equal(t, guard.CodeEmptyClaim, gerr.Code)
	})

	t.Run("no letters", func(t *testing.T) {
		_, gerr := NormalizeClaim("?!?")
		require.NotNil(t, gerr)
		assert.Equal(t, guard.CodeNonText, gerr.Code)
	})
}

func TestDecomposeClaim(t *testing.T) {
	claims, gerr := DecomposeClaim("Paris is in France and Berlin is in Germany.")
	require.Nil(t, gerr)
	assert.Equal(t, []model.Claim{
		{ID: "s1", Text: "Paris is in France."},
		{ID: "s2", Text: "Berlin is in Germany."},
	}, claims)

	_, gerr = DecomposeClaim("Paris is in France.")
	require.NotNil(t, gerr)
	assert.Equal(t, guard.CodeNotMulti, gerr.Code)
}

func TestPlanQueries_EntityFirst(t *testing.T) {
	queries := PlanQueries("Albert Einstein was born in Ulm.", 2)
	assert.Equal(t, []string{"Albert Einstein", "Albert Einstein born"}, queries)

	assert.Empty(t, PlanQueries("it is the", 2))
}

func TestComposeRequests(t *testing.T) {
	reqs, gerr := ComposeRequests([]model.EvidencePlan{
		{ClaimID: "s1", Queries: []string{"Albert Einstein", "Albert Einstein born"}, Limit: 4},
		{ClaimID: "s2", Queries: []string{"  "}, Limit: 4},
	})
	require.Nil(t, gerr)
	require.Len(t, reqs, 2)
	assert.Equal(t, "t1", reqs[0].ID)
	assert.Equal(t, "t2", reqs[1].ID)
	assert.Equal(t, string(Search), reqs[1].Tool)
	assert.Equal(t, model.ToolArgs{Query: "Albert Einstein born", Limit: 4, Source: model.SourceWiki}, reqs[1].Args)
	assert.Equal(t, "s1", reqs[1].ClaimID)

	_, gerr = ComposeRequests(nil)
	require.NotNil(t, gerr)
	assert.Equal(t, guard.CodeNoPlans, gerr.Code)
}

func TestExtractRows(t *testing.T) {
	t.Run("search results", func(t *testing.T) {
		rows := ExtractRows(json.RawMessage(`{"results":[
			{"rid":"r1","title":"Paris","snippet":"<span>Paris</span> is the capital &amp; largest city","url":"https://en.wikipedia.org/wiki/Paris","src":"wiki"},
			{"rid":"r2","title":"Blog","snippet":"Paris facts","src":"web","cred":"LOW"},
			{"rid":"r3","title":"","snippet":"","src":"web"}
		]}`))
		require.Len(t, rows, 2)
		assert.Equal(t, "Paris is the capital & largest city", rows[0].Text)
		assert.Equal(t, model.CredibilityHigh, rows[0].Credibility)
		assert.False(t, rows[0].Explicit)
		assert.Equal(t, model.CredibilityLow, rows[1].Credibility)
		assert.True(t, rows[1].Explicit)
	})

	t.Run("kb items", func(t *testing.T) {
		rows := ExtractRows(json.RawMessage(`{"items":[{"kid":"k1","text":"Ulm is in Germany.","src":"kb://geo"}]}`))
		require.Len(t, rows, 1)
		assert.Equal(t, model.SourceKB, rows[0].Source)
		assert.Equal(t, model.CredibilityHigh, rows[0].Credibility)
	})

	t.Run("extracted sentences", func(t *testing.T) {
		rows := ExtractRows(json.RawMessage(`{"sentences":[{"i":0,"s":"Einstein was born in Ulm.","score":1.2}]}`))
		require.Len(t, rows, 1)
		assert.Equal(t, model.SourceExtract, rows[0].Source)
		assert.Equal(t, model.CredibilityMed, rows[0].Credibility)
	})

	t.Run("unknown shape", func(t *testing.T) {
		assert.Empty(t, ExtractRows(json.RawMessage(`{"other":[]}`)))
		assert.Empty(t, ExtractRows(json.RawMessage(`not json`)))
	})
}

func TestRankSentences(t *testing.T) {
	text := "Paris is the capital of France. The Eiffel Tower is located in Paris. Bananas are a popular fruit worldwide."

	ranked, gerr := RankSentences(text, "Eiffel Tower Paris", 2)
	require.Nil(t, gerr)
	require.Len(t, ranked, 2)
	assert.Equal(t, 1, ranked[0].Index)
	assert.Equal(t, "The Eiffel Tower is located in Paris.", ranked[0].Text)
	assert.Equal(t, 0, ranked[1].Index)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)

	tests := []struct {
		name  string
		text  string
		query string
		topN  int
		code  string
	}{
		{"top_n too large", text, "Paris", 11, guard.CodeBadLimit},
		{"negative top_n", text, "Paris", -1, guard.CodeBadLimit},
		{"empty text", "   ", "Paris", 3, guard.CodeEmptyText},
		{"stopword query", text, "the of", 3, guard.CodeEmptyQuery},
		{"no sentences", "Too short.", "short", 3, guard.CodeNoSentences},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, gerr := RankSentences(tt.text, tt.query, tt.topN)
			require.NotNil(t, gerr)
			assert.Equal(t, tt.code, gerr.Code)
		})
	}
}

func TestSelectByOverlap(t *testing.T) {
	lex := NewLexicon(model.DefaultHeuristics())
	claims := []model.Claim{{ID: "s1", Text: "Alice Smith was born in Paris."}}
	evidence := []model.EvidenceItem{
		{ID: "wiki:t1:r1", ClaimID: "s1", Text: "Alice Smith was born in Paris in 1990."},
		{ID: "wiki:t1:r2", ClaimID: "s1", Text: "Paris is a city."},
		{ID: "wiki:t1:r3", ClaimID: "s1", Text: "Bananas are yellow."},
		{ID: "wiki:t0:r9", ClaimID: "s1", Text: "Paris has museums."},
	}

	sel := SelectByOverlap(claims, evidence, 5, lex)
	assert.Equal(t, []model.Selection{
		{EvidenceID: "wiki:t1:r1", ClaimID: "s1"},
		{EvidenceID: "wiki:t0:r9", ClaimID: "s1"},
		{EvidenceID: "wiki:t1:r2", ClaimID: "s1"},
	}, sel)

	assert.Len(t, SelectByOverlap(claims, evidence, 1, lex), 1)
}

func TestFilterRelevant(t *testing.T) {
	lex := NewLexicon(model.DefaultHeuristics())
	claims := []model.Claim{{ID: "s1", Text: "Alice Smith was born in Paris."}}
	evidence := []model.EvidenceItem{
		{ID: "e1", Text: "Alice Smith was born in Paris in 1990."},
		{ID: "e2", Text: "Paris is a city."},
	}
	kept := FilterRelevant([]model.Selection{
		{EvidenceID: "e1", ClaimID: "s1"},
		{EvidenceID: "e2", ClaimID: "s1"},
		{EvidenceID: "e1", ClaimID: "s9"},
	}, claims, evidence, lex)

	assert.Equal(t, []model.Selection{{EvidenceID: "e1", ClaimID: "s1"}}, kept)
}

func TestRegistry_Run(t *testing.T) {
	reg := NewRegistry(model.DefaultConfig())
	ctx := context.Background()

	t.Run("deterministic output", func(t *testing.T) {
		a := reg.Run(ctx, ClaimNormalize, ClaimArgs{Claim: "Paris is in France and Berlin is in Germany"})
		b := reg.Run(ctx, ClaimNormalize, ClaimArgs{Claim: "Paris is in France and Berlin is in Germany"})
		require.True(t, a.IsOK())

		ab, err := json.Marshal(a)
		require.NoError(t, err)
		bb, err := json.Marshal(b)
		require.NoError(t, err)
		assert.Equal(t, ab, bb)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		reg.Register(PageFetch, func(context.Context, json.RawMessage) guard.Payload {
			panic("boom")
		})
		p := reg.Run(ctx, PageFetch, map[string]string{"url": "https://example.com"})
		assert.Equal(t, guard.CodeBadToolOutput, p.Code())
	})

	t.Run("malformed output", func(t *testing.T) {
		reg.Register(KBLookup, func(context.Context, json.RawMessage) guard.Payload {
			return guard.Payload{Status: "maybe"}
		})
		p := reg.Run(ctx, KBLookup, map[string]string{"query": "x"})
		assert.Equal(t, guard.CodeBadToolOutput, p.Code())
	})

	t.Run("unregistered tool", func(t *testing.T) {
		p := reg.Run(ctx, WebSearch, nil)
		assert.Equal(t, guard.CodeScope, p.Code())
	})

	t.Run("full chain", func(t *testing.T) {
		p := reg.Run(ctx, EvidenceQueryPlan, PlanArgs{Claims: []model.Claim{{ID: "s1", Text: "Albert Einstein was born in Ulm."}}})
		require.True(t, p.IsOK())
		plans, err := guard.Decode[PlansData](p)
		require.NoError(t, err)
		require.Len(t, plans.Plans, 1)
		assert.Equal(t, 4, plans.Plans[0].Limit)

		p = reg.Run(ctx, ToolRequestCompose, ComposeArgs{Plans: plans.Plans})
		reqs, err := guard.Decode[RequestsData](p)
		require.NoError(t, err)
		assert.Len(t, reqs.Requests, 2)
	})
}

func TestRegistry_PureToolsReplayIdentically(t *testing.T) {
	reg := NewRegistry(model.DefaultConfig())
	ctx := context.Background()

	claims := []model.Claim{
		{ID: "s1", Text: "Alice Smith was born in 1990."},
		{ID: "s2", Text: "Alice Smith is a painter."},
	}
	evidence := []model.EvidenceItem{
		{ID: "wiki:t1:r1", ClaimID: "s1", Text: "Alice Smith was born in 1990 in Paris.", Credibility: model.CredibilityHigh},
		{ID: "web:t1:r2", ClaimID: "s2", Text: "Alice Smith is a sculptor, not a painter.", Credibility: model.CredibilityLow},
	}
	selected := []model.Selection{
		{EvidenceID: "wiki:t1:r1", ClaimID: "s1"},
		{EvidenceID: "web:t1:r2", ClaimID: "s2"},
	}
	scores := []model.Score{
		{EvidenceID: "wiki:t1:r1", ClaimID: "s1", Stance: model.StanceSupport, Confidence: model.ConfidenceHigh},
		{EvidenceID: "web:t1:r2", ClaimID: "s2", Stance: model.StanceRefute, Confidence: model.ConfidenceLow},
	}

	args := map[ID]any{
		ClaimNormalize:    ClaimArgs{Claim: "  Alice Smith was born in 1990 and is a painter. "},
		ClaimDecompose:    ClaimArgs{Claim: "Alice Smith was born in 1990 and Bob Jones was born in 1985"},
		EvidenceQueryPlan: PlanArgs{Claims: claims},
		ToolRequestCompose: ComposeArgs{Plans: []model.EvidencePlan{
			{ClaimID: "s1", Queries: []string{"Alice Smith", "Alice Smith born 1990"}, Limit: 3},
			{ClaimID: "s2", Queries: []string{"Alice Smith painter"}, Limit: 3},
		}},
		SentenceExtract: ExtractArgs{
			Text:  "Alice Smith is a French artist. She was born in 1990 in Paris. Her early work was in sculpture. She moved to Lyon in 2015.",
			Query: "Alice Smith born 1990",
			TopN:  2,
		},
		NLIScore:         ScoreArgs{Claims: claims, Evidence: evidence, Selected: selected},
		VerdictAggregate: AggregateArgs{Claims: claims, Scores: scores},
		ResponseCompose: ComposeResponseArgs{
			Claims:   claims,
			Verdicts: []model.Verdict{{ClaimID: "s1", Label: model.LabelSupported, Confidence: model.ConfidenceMed}},
			Selected: selected,
			Scores:   scores,
		},
	}

	require.ElementsMatch(t, reg.IDs(), keys(args), "every registered local tool is replayed")

	for id, in := range args {
		t.Run(string(id), func(t *testing.T) {
			first := reg.Run(ctx, id, in)
			require.True(t, first.IsOK(), "%s: %v", id, first.Error)
			for i := 0; i < 5; i++ {
				again := reg.Run(ctx, id, in)
				assert.Equal(t, string(first.Data), string(again.Data))
			}
		})
	}
}

func keys(m map[ID]any) []ID {
	out := make([]ID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestComposeResponse(t *testing.T) {
	out := ComposeResponse(ComposeResponseArgs{
		Claims:   []model.Claim{{ID: "s1"}, {ID: "s2"}},
		Verdicts: []model.Verdict{{ClaimID: "s1", Label: model.LabelRefuted, Confidence: model.ConfidenceMed}},
		Selected: []model.Selection{
			{EvidenceID: "e1", ClaimID: "s1"},
			{EvidenceID: "e2", ClaimID: "s1"},
			{EvidenceID: "e3", ClaimID: "s1"},
		},
		Scores: []model.Score{
			{EvidenceID: "e1", ClaimID: "s1", Stance: model.StanceSupport},
			{EvidenceID: "e3", ClaimID: "s1", Stance: model.StanceRefute},
		},
	}, 2)

	require.Len(t, out, 2)
	assert.Equal(t, "Available evidence contradicts the claim.", out[0].Rationale)
	assert.Equal(t, []string{"e3", "e1"}, out[0].Citations)
	assert.Equal(t, model.LabelInsufficient, out[1].Label)
	assert.Equal(t, []string{}, out[1].Citations)
}
