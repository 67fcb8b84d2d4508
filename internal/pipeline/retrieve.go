package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/retrieval"
	"github.com/ppiankov/veritas/internal/tools"
)

// candidate is one source a request may be answered from
type candidate struct {
	id   tools.ID
	args model.ToolArgs
}

// candidates lists the sources for a request in priority order
func (p *Pipeline) candidates(req model.ToolRequest) []candidate {
	q := req.Args.Query
	limit := p.clampLimit(req.Args.Limit)

	out := []candidate{
		{tools.Search, model.ToolArgs{Query: q, Limit: limit, Source: model.SourceWiki}},
	}
	if p.sources == nil {
		return out
	}
	if p.sources.KBConfigured() {
		kbLimit := p.cfg.Retrieval.KBLimit
		if kbLimit <= 0 {
			kbLimit = limit
		}
		out = append(out, candidate{tools.KBLookup, model.ToolArgs{Query: q, Limit: kbLimit}})
	}
	if p.sources.OpenWebEnabled() {
		out = append(out, candidate{tools.Search, model.ToolArgs{Query: q, Limit: limit, Source: model.SourceWeb}})
	}
	if p.sources.WebConfigured() {
		out = append(out, candidate{tools.WebSearch, model.ToolArgs{Query: q, Limit: limit}})
	}
	return out
}

// execute answers one request from the first source that yields rows and
// returns the number of evidence items added to the run.
func (p *Pipeline) execute(ctx context.Context, rc *runContext, req model.ToolRequest) int {
	run := rc.run
	for _, c := range p.candidates(req) {
		name := "tool:" + string(c.id)
		out := p.runTool(ctx, model.PhaseRetrieval, c.id, c.args)
		if !out.IsOK() {
			run.Record(name, "error", req.ID+" "+failure(out))
			continue
		}
		rows := tools.ExtractRows(out.Data)
		if len(rows) == 0 {
			run.Record(name, "miss", req.ID+" "+c.args.Query)
			continue
		}
		run.Record(name, "ok", fmt.Sprintf("%s %d rows", req.ID, len(rows)))
		return p.addRows(ctx, rc, req, rows)
	}
	run.Record("tool:retrieval_miss", "retry", req.ID+" "+req.Args.Query)
	return 0
}

// addRows turns rows into evidence, expanding wiki rows with sentences
// from their page
func (p *Pipeline) addRows(ctx context.Context, rc *runContext, req model.ToolRequest, rows []tools.Row) int {
	items := make([]model.EvidenceItem, 0, len(rows))
	for _, r := range rows {
		cred := p.credibility(r)
		items = append(items, model.EvidenceItem{
			ID:          evidenceID(r.Source, req.ID, r.RID),
			ClaimID:     req.ClaimID,
			Text:        r.Text,
			Source:      r.Source,
			URL:         r.URL,
			Date:        r.Date,
			Credibility: cred,
		})
		if r.Source == model.SourceWiki {
			items = append(items, p.expandPage(ctx, rc, req, r, cred)...)
		}
	}
	return rc.run.AddEvidence(items...)
}

func (p *Pipeline) credibility(r tools.Row) model.Credibility {
	explicit := model.Credibility("")
	if r.Explicit {
		explicit = r.Credibility
	}
	return p.classifier.Resolve(explicit, r.URL, r.Credibility)
}

func evidenceID(source, reqID, rid string) string {
	return source + ":" + reqID + ":" + rid
}

// expandPage fetches the row's page and keeps the sentences that best
// match the claim. Pages are fetched at most once per run.
func (p *Pipeline) expandPage(ctx context.Context, rc *runContext, req model.ToolRequest, row tools.Row, cred model.Credibility) []model.EvidenceItem {
	if !p.cfg.Retrieval.ExpandPages || row.URL == "" {
		return nil
	}
	text, ok := p.pageText(ctx, rc, row.URL)
	if !ok {
		return nil
	}

	query := req.Args.Query
	if c, ok := rc.run.ClaimByID(req.ClaimID); ok {
		query = c.Text
	}
	out := p.runTool(ctx, model.PhaseRetrieval, tools.SentenceExtract, tools.ExtractArgs{
		Text:  text,
		Query: query,
		TopN:  p.cfg.Retrieval.PageSentences,
	})
	if !out.IsOK() {
		rc.run.Record("tool:"+string(tools.SentenceExtract), "error", failure(out))
		return nil
	}

	sentences := tools.ExtractRows(out.Data)
	items := make([]model.EvidenceItem, 0, len(sentences))
	for _, s := range sentences {
		items = append(items, model.EvidenceItem{
			ID:          evidenceID(model.SourceExtract, req.ID, row.RID+"."+s.RID),
			ClaimID:     req.ClaimID,
			Text:        s.Text,
			Source:      model.SourceExtract,
			URL:         row.URL,
			Date:        row.Date,
			Credibility: cred,
		})
	}
	rc.run.Record("tool:"+string(tools.SentenceExtract), "ok", fmt.Sprintf("%s %d sentences", row.URL, len(items)))
	return items
}

// pageText returns the extracted text of a page from the run cache or
// from page_fetch while the run's page budget lasts.
func (p *Pipeline) pageText(ctx context.Context, rc *runContext, url string) (string, bool) {
	if text, seen := rc.pages.Lookup(url); seen {
		return text, text != ""
	}
	if rc.pagesFetched >= p.cfg.Retrieval.PageFetchBudget {
		return "", false
	}
	rc.pagesFetched++

	out := p.runTool(ctx, model.PhaseRetrieval, tools.PageFetch, retrieval.PageFetchArgs{URL: url})
	page, err := decodePage(out)
	if err != nil {
		rc.run.Record("tool:"+string(tools.PageFetch), "error", err.Error())
		rc.logger.Debug("page fetch failed", zap.String("url", url), zap.Error(err))
		// Remember the miss so other rows pointing at the page skip it.
		rc.pages.Remember(url, "")
		return "", false
	}
	rc.run.Record("tool:"+string(tools.PageFetch), "ok", url)
	rc.pages.Remember(url, page.Text)
	return page.Text, page.Text != ""
}

func decodePage(out guard.Payload) (retrieval.PageData, error) {
	if !out.IsOK() {
		return retrieval.PageData{}, eris.New(failure(out))
	}
	return guard.Decode[retrieval.PageData](out)
}
