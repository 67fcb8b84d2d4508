package retrieval

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/ppiankov/veritas/internal/extract"
	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/tools"
	"github.com/ppiankov/veritas/internal/validate"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

const (
	maxSearchLimit   = 10
	maxKBLimit       = 20
	maxPageFetchSize = 5_000_000
	acceptJSON       = "application/json"
	acceptHTML       = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// Web search providers
const (
	ProviderSerpAPI = "serpapi"
	ProviderTavily  = "tavily"
)

// SearchResult is one row of search and web_search output
type SearchResult struct {
	RID     string `json:"rid"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Src     string `json:"src"`
	Date    string `json:"d,omitempty"`
	Cred    string `json:"cred,omitempty"`
}

// SearchData is the data of search and web_search
type SearchData struct {
	Results []SearchResult `json:"results"`
}

// KBItem is one row of kb_lookup output
type KBItem struct {
	KID   string `json:"kid"`
	Text  string `json:"text"`
	Src   string `json:"src"`
	Date  string `json:"d,omitempty"`
	Cred  string `json:"cred"`
	Score int    `json:"score"`
}

// KBData is the data of kb_lookup
type KBData struct {
	Items []KBItem `json:"items"`
}

// PageFetchArgs is the input of page_fetch
type PageFetchArgs struct {
	URL      string `json:"url"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

// PageData is the data of page_fetch; Text is the visible page text
type PageData struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Text        string `json:"text"`
}

// Sources implements the retrieval tools
type Sources struct {
	client     *Client
	cfg        model.RetrievalConfig
	classifier *validate.CredibilityClassifier
	log        *EvidenceLog
	logger     *zap.Logger
}

// NewSources creates the retrieval tools. log may be nil.
func NewSources(client *Client, cfg model.RetrievalConfig, log *EvidenceLog) *Sources {
	return &Sources{
		client:     client,
		cfg:        cfg,
		classifier: validate.NewCredibilityClassifier(cfg),
		log:        log,
		logger:     zap.L().Named("retrieval"),
	}
}

// Register installs the retrieval tools into reg
func (s *Sources) Register(reg *tools.Registry) {
	reg.Register(tools.Search, s.Search)
	reg.Register(tools.WebSearch, s.WebSearch)
	reg.Register(tools.KBLookup, s.KBLookup)
	reg.Register(tools.PageFetch, s.PageFetch)
}

// KBConfigured reports whether kb_lookup has a file to read
func (s *Sources) KBConfigured() bool {
	return s.cfg.KBPath != ""
}

// WebConfigured reports whether web_search has a provider and credential
func (s *Sources) WebConfigured() bool {
	return (s.cfg.WebProvider == ProviderSerpAPI || s.cfg.WebProvider == ProviderTavily) && s.cfg.WebAPIKey != ""
}

// OpenWebEnabled reports whether search may use the free open-web source
func (s *Sources) OpenWebEnabled() bool {
	return s.cfg.OpenWeb
}

func decodeQuery(args json.RawMessage, maxLimit int) (model.ToolArgs, *guard.Payload) {
	var in model.ToolArgs
	if err := json.Unmarshal(args, &in); err != nil {
		p := guard.Fail(guard.CodeBadArgs, err.Error(), guard.RollbackTools)
		return in, &p
	}
	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		p := guard.Fail(guard.CodeEmptyQuery, "query is required", guard.RollbackTools)
		return in, &p
	}
	if in.Limit < 1 || in.Limit > maxLimit {
		p := guard.Fail(guard.CodeBadLimit, fmt.Sprintf("limit must be 1..%d", maxLimit), guard.RollbackTools)
		return in, &p
	}
	return in, nil
}

// Search queries the wiki, or the open web for source web/news
func (s *Sources) Search(ctx context.Context, args json.RawMessage) guard.Payload {
	in, fail := decodeQuery(args, maxSearchLimit)
	if fail != nil {
		return *fail
	}

	src := in.Source
	if src == "" {
		src = model.SourceWiki
	}

	var (
		results []SearchResult
		err     error
	)
	switch src {
	case model.SourceWiki:
		results, err = s.wikiSearch(ctx, in.Query, in.Limit)
	case model.SourceWeb, "news":
		if !s.cfg.OpenWeb {
			return guard.Fail(guard.CodeNoProvider, "open web search is disabled", guard.RollbackTools)
		}
		results, err = s.openWebSearch(ctx, in.Query, in.Limit, src)
	case model.SourceKB:
		return guard.Fail(guard.CodeWrongTool, "use kb_lookup for source kb", guard.RollbackTools)
	default:
		return guard.Fail(guard.CodeBadSource, "source must be wiki|web|news|kb", guard.RollbackTools)
	}
	if err != nil {
		s.logger.Debug("search failed", zap.String("source", src), zap.Error(err))
		return guard.Fail(guard.CodeFetchFail, err.Error(), guard.RollbackTools)
	}

	s.appendLog(results)
	return guard.OK(SearchData{Results: results})
}

// WebSearch queries the configured paid search provider
func (s *Sources) WebSearch(ctx context.Context, args json.RawMessage) guard.Payload {
	in, fail := decodeQuery(args, maxSearchLimit)
	if fail != nil {
		return *fail
	}

	var (
		results []SearchResult
		err     error
	)
	switch s.cfg.WebProvider {
	case ProviderSerpAPI:
		if s.cfg.WebAPIKey == "" {
			return guard.Fail(guard.CodeNoKey, "serpapi key is required", guard.RollbackTools)
		}
		results, err = s.serpAPISearch(ctx, in.Query, in.Limit)
	case ProviderTavily:
		if s.cfg.WebAPIKey == "" {
			return guard.Fail(guard.CodeNoKey, "tavily key is required", guard.RollbackTools)
		}
		results, err = s.tavilySearch(ctx, in.Query, in.Limit)
	default:
		return guard.Fail(guard.CodeNoProvider, "set retrieval.web_provider to serpapi or tavily", guard.RollbackTools)
	}
	if err != nil {
		s.logger.Debug("web search failed", zap.String("provider", s.cfg.WebProvider), zap.Error(err))
		return guard.Fail(guard.CodeFetchFail, err.Error(), guard.RollbackTools)
	}

	s.appendLog(results)
	return guard.OK(SearchData{Results: results})
}

func (s *Sources) appendLog(results []SearchResult) {
	if err := s.log.Append(results); err != nil {
		s.logger.Warn("evidence log append failed", zap.Error(err))
	}
}

type wikiResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"search"`
	} `json:"query"`
}

func (s *Sources) wikiSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("format", "json")
	params.Set("utf8", "1")
	params.Set("srlimit", fmt.Sprint(limit))

	resp, err := s.client.FetchWithRetry(ctx, s.cfg.WikiAPIURL+"?"+params.Encode(), acceptJSON)
	if err != nil {
		return nil, err
	}

	var data wikiResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, eris.Wrap(err, "decode wiki response")
	}

	results := make([]SearchResult, 0, len(data.Query.Search))
	for i, hit := range data.Query.Search {
		results = append(results, SearchResult{
			RID:     fmt.Sprintf("r%d", i+1),
			Title:   hit.Title,
			Snippet: extract.CleanText(hit.Snippet),
			URL:     s.cfg.WikiPageURL + url.PathEscape(strings.ReplaceAll(hit.Title, " ", "_")),
			Src:     model.SourceWiki,
		})
	}
	return results, nil
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Results       []ddgTopic `json:"Results"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

func (s *Sources) openWebSearch(ctx context.Context, query string, limit int, src string) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_redirect", "1")
	params.Set("no_html", "1")

	resp, err := s.client.FetchWithRetry(ctx, s.cfg.OpenWebURL+"?"+params.Encode(), acceptJSON)
	if err != nil {
		return nil, err
	}

	var data ddgResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, eris.Wrap(err, "decode open web response")
	}

	// Topic groups nest their entries one level down
	pool := append([]ddgTopic(nil), data.Results...)
	for _, t := range data.RelatedTopics {
		if len(t.Topics) > 0 {
			pool = append(pool, t.Topics...)
			continue
		}
		pool = append(pool, t)
	}

	results := make([]SearchResult, 0, limit)
	for _, t := range pool {
		if t.Text == "" || t.FirstURL == "" {
			continue
		}
		title, _, _ := strings.Cut(t.Text, " - ")
		results = append(results, s.webResult(len(results)+1, extract.CleanText(title), extract.CleanText(t.Text), t.FirstURL, src))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

type serpAPIResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"organic_results"`
}

func (s *Sources) serpAPISearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("api_key", s.cfg.WebAPIKey)
	params.Set("num", fmt.Sprint(limit))

	resp, err := s.client.FetchWithRetry(ctx, s.cfg.SerpAPIURL+"?"+params.Encode(), acceptJSON)
	if err != nil {
		return nil, err
	}

	var data serpAPIResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, eris.Wrap(err, "decode serpapi response")
	}

	results := make([]SearchResult, 0, len(data.OrganicResults))
	for _, v := range data.OrganicResults {
		results = append(results, s.webResult(len(results)+1, v.Title, v.Snippet, v.Link, model.SourceWeb))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

func (s *Sources) tavilySearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	body := map[string]any{"query": query, "max_results": limit}
	resp, err := s.client.PostJSON(ctx, s.cfg.TavilyURL, body, map[string]string{
		"Authorization": "Bearer " + s.cfg.WebAPIKey,
	})
	if err != nil {
		return nil, err
	}

	var data tavilyResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, eris.Wrap(err, "decode tavily response")
	}

	results := make([]SearchResult, 0, len(data.Results))
	for _, v := range data.Results {
		results = append(results, s.webResult(len(results)+1, v.Title, v.Content, v.URL, model.SourceWeb))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// webResult builds a row whose credibility comes from its host when known
func (s *Sources) webResult(i int, title, snippet, link, src string) SearchResult {
	r := SearchResult{
		RID:     fmt.Sprintf("r%d", i),
		Title:   title,
		Snippet: snippet,
		URL:     link,
		Src:     src,
	}
	if cred, ok := s.classifier.Classify(link); ok {
		r.Cred = string(cred)
	}
	return r
}

// KBLookup scores knowledge-base lines by query term containment
func (s *Sources) KBLookup(_ context.Context, args json.RawMessage) guard.Payload {
	in, fail := decodeQuery(args, maxKBLimit)
	if fail != nil {
		return *fail
	}

	if s.cfg.KBPath == "" {
		return guard.Fail(guard.CodeKBNotConfigured, "set retrieval.kb_path to a JSONL knowledge base", guard.RollbackTools)
	}
	info, err := os.Stat(s.cfg.KBPath)
	if err != nil || !info.Mode().IsRegular() {
		return guard.Fail(guard.CodeKBNotConfigured, "knowledge base file not found: "+s.cfg.KBPath, guard.RollbackTools)
	}

	entries, err := readKB(s.cfg.KBPath)
	if err != nil {
		return guard.Fail(guard.CodeKBReadFail, err.Error(), guard.RollbackTools)
	}

	terms := strings.Fields(strings.ToLower(in.Query))
	items := make([]KBItem, 0)
	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		text := strings.ToLower(e.Text)
		score := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		cred := e.Cred
		if cred == "" {
			cred = string(model.CredibilityLow)
		}
		items = append(items, KBItem{KID: e.ID, Text: e.Text, Src: e.Src, Date: e.Date, Cred: cred, Score: score})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].KID < items[j].KID
	})
	if len(items) > in.Limit {
		items = items[:in.Limit]
	}
	return guard.OK(KBData{Items: items})
}

func readKB(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open knowledge base")
	}
	defer func() { _ = f.Close() }()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, eris.Wrapf(err, "knowledge base line %d", line)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "scan knowledge base")
	}
	return entries, nil
}

// PageFetch downloads a page and returns its visible text
func (s *Sources) PageFetch(ctx context.Context, args json.RawMessage) guard.Payload {
	var in PageFetchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return guard.Fail(guard.CodeBadArgs, err.Error(), guard.RollbackTools)
	}

	in.URL = strings.TrimSpace(in.URL)
	parsed, err := url.Parse(in.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return guard.Fail(guard.CodeBadURL, "url must be http or https", guard.RollbackTools)
	}

	maxBytes := in.MaxBytes
	if maxBytes == 0 {
		maxBytes = s.cfg.PageMaxBytes
	}
	if maxBytes < 1 || maxBytes > maxPageFetchSize {
		return guard.Fail(guard.CodeBadLimit, fmt.Sprintf("max_bytes must be 1..%d", maxPageFetchSize), guard.RollbackTools)
	}

	if !s.client.Allowed(ctx, in.URL) {
		return guard.Fail(guard.CodeRobots, "robots.txt disallows "+in.URL, guard.RollbackTools)
	}

	resp, err := s.client.FetchWithRetry(ctx, in.URL, acceptHTML)
	if err != nil {
		s.logger.Debug("page fetch failed", zap.String("url", in.URL), zap.Error(err))
		return guard.Fail(guard.CodeFetchFail, err.Error(), guard.RollbackTools)
	}

	body := resp.Body
	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
	}
	decoded, err := decodeBody(body, resp.ContentType)
	if err != nil {
		return guard.Fail(guard.CodeFetchFail, err.Error(), guard.RollbackTools)
	}

	var text string
	if isHTML(resp.ContentType, decoded) {
		text, err = extract.PageText(decoded, resp.FinalURL)
		if err != nil {
			return guard.Fail(guard.CodeFetchFail, err.Error(), guard.RollbackTools)
		}
	} else {
		text = extract.CleanText(decoded)
	}

	return guard.OK(PageData{
		URL:         in.URL,
		Status:      resp.StatusCode,
		ContentType: resp.ContentType,
		Text:        text,
	})
}

// decodeBody converts the body to UTF-8 using the declared or sniffed charset
func decodeBody(body []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(bytes.ToValidUTF8(body, []byte("�"))), nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", eris.Wrap(err, "decode body")
	}
	return string(out), nil
}

func isHTML(contentType, body string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") || strings.Contains(ct, "xml") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(body[:min(len(body), 512)]))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
