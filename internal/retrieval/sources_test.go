package retrieval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wikiFixture = `{"query":{"search":[
 {"title":"Albert Einstein","snippet":"<span class=\"searchmatch\">Einstein</span> was born in Ulm in 1879 &amp; died in 1955"},
 {"title":"Einstein family","snippet":"The <span>family</span> of Albert Einstein"}
]}}`

const ddgFixture = `{"Results":[{"Text":"Official site - Einstein archives","FirstURL":"https://einstein.example.org"}],
"RelatedTopics":[
 {"Text":"Albert Einstein - German-born physicist","FirstURL":"https://duckduckgo.com/Albert_Einstein"},
 {"Name":"Group","Topics":[{"Text":"Einstein ring - astronomy","FirstURL":"https://www.reddit.com/r/einstein"}]},
 {"Text":"","FirstURL":"https://duckduckgo.com/empty"}
]}`

func newTestSources(t *testing.T, cfg model.RetrievalConfig, log *EvidenceLog) *Sources {
	t.Helper()
	return NewSources(NewClient(testHTTPConfig(), nil), cfg, log)
}

func call(t *testing.T, h tools.Handler, args any) guard.Payload {
	t.Helper()
	b, err := json.Marshal(args)
	require.NoError(t, err)
	return h(context.Background(), b)
}

func TestSearch_Wiki(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "query", q.Get("action"))
		assert.Equal(t, "search", q.Get("list"))
		assert.Equal(t, "Einstein born", q.Get("srsearch"))
		assert.Equal(t, "2", q.Get("srlimit"))
		_, _ = fmt.Fprint(w, wikiFixture)
	}))
	defer server.Close()

	dir := t.TempDir()
	log := NewEvidenceLog(filepath.Join(dir, "runtime", "evidence.jsonl"))
	log.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	src := newTestSources(t, model.RetrievalConfig{
		WikiAPIURL:  server.URL + "/w/api.php",
		WikiPageURL: "https://en.wikipedia.org/wiki/",
	}, log)

	p := call(t, src.Search, model.ToolArgs{Query: "Einstein born", Limit: 2, Source: model.SourceWiki})
	require.True(t, p.IsOK(), "%+v", p.Error)

	data, err := guard.Decode[SearchData](p)
	require.NoError(t, err)
	require.Len(t, data.Results, 2)
	first := data.Results[0]
	assert.Equal(t, "r1", first.RID)
	assert.Equal(t, "Einstein was born in Ulm in 1879 & died in 1955", first.Snippet)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Albert_Einstein", first.URL)
	assert.Equal(t, model.SourceWiki, first.Src)

	rows := tools.ExtractRows(p.Data)
	require.Len(t, rows, 2)
	assert.Equal(t, model.CredibilityHigh, rows[0].Credibility)

	f, err := os.Open(log.Path())
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "wiki:r1", entries[0].ID)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Albert_Einstein", entries[0].Src)
	assert.Equal(t, "2026-03-01", entries[0].Date)
	assert.Equal(t, "med", entries[0].Cred)
}

func TestSearch_OpenWeb(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = fmt.Fprint(w, ddgFixture)
	}))
	defer server.Close()

	src := newTestSources(t, model.RetrievalConfig{
		OpenWeb:         true,
		OpenWebURL:      server.URL + "/",
		LowTrustDomains: []string{"reddit.com"},
	}, nil)

	p := call(t, src.Search, model.ToolArgs{Query: "einstein", Limit: 10, Source: model.SourceWeb})
	require.True(t, p.IsOK())
	data, err := guard.Decode[SearchData](p)
	require.NoError(t, err)
	require.Len(t, data.Results, 3)
	assert.Equal(t, "Official site", data.Results[0].Title)
	assert.Equal(t, "Albert Einstein - German-born physicist", data.Results[1].Snippet)
	assert.Equal(t, "r3", data.Results[2].RID)
	assert.Equal(t, "low", data.Results[2].Cred)
	assert.Equal(t, model.SourceWeb, data.Results[2].Src)

	limited := call(t, src.Search, model.ToolArgs{Query: "einstein", Limit: 1, Source: "news"})
	data, err = guard.Decode[SearchData](limited)
	require.NoError(t, err)
	require.Len(t, data.Results, 1)
	assert.Equal(t, "news", data.Results[0].Src)
}

func TestSearch_ArgumentErrors(t *testing.T) {
	src := newTestSources(t, model.RetrievalConfig{}, nil)

	tests := []struct {
		name string
		args any
		code string
	}{
		{"empty query", model.ToolArgs{Query: "  ", Limit: 3}, guard.CodeEmptyQuery},
		{"zero limit", model.ToolArgs{Query: "q", Limit: 0}, guard.CodeBadLimit},
		{"limit too high", model.ToolArgs{Query: "q", Limit: 11}, guard.CodeBadLimit},
		{"kb source", model.ToolArgs{Query: "q", Limit: 3, Source: "kb"}, guard.CodeWrongTool},
		{"unknown source", model.ToolArgs{Query: "q", Limit: 3, Source: "usenet"}, guard.CodeBadSource},
		{"open web disabled", model.ToolArgs{Query: "q", Limit: 3, Source: "web"}, guard.CodeNoProvider},
		{"malformed", []int{1}, guard.CodeBadArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := call(t, src.Search, tt.args)
			assert.Equal(t, tt.code, p.Code())
			assert.Equal(t, guard.RollbackTools, p.Rollback)
			ok, _ := guard.CheckPayload(p)
			assert.True(t, ok)
		})
	}
}

func TestSearch_FetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	src := newTestSources(t, model.RetrievalConfig{WikiAPIURL: server.URL}, nil)
	p := call(t, src.Search, model.ToolArgs{Query: "q", Limit: 3})
	assert.Equal(t, guard.CodeFetchFail, p.Code())
	assert.Contains(t, p.Error.Message, "403")
}

func TestWebSearch_SerpAPI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "2", r.URL.Query().Get("num"))
		_, _ = fmt.Fprint(w, `{"organic_results":[
			{"title":"NASA","snippet":"Apollo 11 landed in 1969","link":"https://www.nasa.gov/apollo11"},
			{"title":"Blog","snippet":"Moon landing facts","link":"https://blog.example.com/moon"},
			{"title":"Extra","snippet":"dropped","link":"https://x.example.com"}]}`)
	}))
	defer server.Close()

	src := newTestSources(t, model.RetrievalConfig{
		WebProvider: ProviderSerpAPI,
		WebAPIKey:   "secret",
		SerpAPIURL:  server.URL,
	}, nil)
	assert.True(t, src.WebConfigured())

	p := call(t, src.WebSearch, model.ToolArgs{Query: "Apollo 11", Limit: 2})
	require.True(t, p.IsOK())
	data, err := guard.Decode[SearchData](p)
	require.NoError(t, err)
	require.Len(t, data.Results, 2)
	assert.Equal(t, "high", data.Results[0].Cred)
	assert.Empty(t, data.Results[1].Cred)

	rows := tools.ExtractRows(p.Data)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Explicit)
	assert.Equal(t, model.CredibilityMed, rows[1].Credibility)
}

func TestWebSearch_Tavily(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tv", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var in map[string]any
		require.NoError(t, json.Unmarshal(body, &in))
		assert.Equal(t, "Apollo 11", in["query"])
		assert.EqualValues(t, 3, in["max_results"])
		_, _ = fmt.Fprint(w, `{"results":[{"title":"Apollo","content":"Landed July 20, 1969","url":"https://history.example.com/apollo"}]}`)
	}))
	defer server.Close()

	src := newTestSources(t, model.RetrievalConfig{
		WebProvider: ProviderTavily,
		WebAPIKey:   "tv",
		TavilyURL:   server.URL,
	}, nil)
	p := call(t, src.WebSearch, model.ToolArgs{Query: "Apollo 11", Limit: 3})
	require.True(t, p.IsOK())
	data, err := guard.Decode[SearchData](p)
	require.NoError(t, err)
	require.Len(t, data.Results, 1)
	assert.Equal(t, "Landed July 20, 1969", data.Results[0].Snippet)
}

func TestWebSearch_ProviderErrors(t *testing.T) {
	noProvider := newTestSources(t, model.RetrievalConfig{}, nil)
	assert.False(t, noProvider.WebConfigured())
	assert.Equal(t, guard.CodeNoProvider, call(t, noProvider.WebSearch, model.ToolArgs{Query: "q", Limit: 1}).Code())

	noKey := newTestSources(t, model.RetrievalConfig{WebProvider: ProviderTavily}, nil)
	assert.Equal(t, guard.CodeNoKey, call(t, noKey.WebSearch, model.ToolArgs{Query: "q", Limit: 1}).Code())
}

func TestKBLookup(t *testing.T) {
	dir := t.TempDir()
	kb := filepath.Join(dir, "kb.jsonl")
	lines := `{"id":"b","text":"Apollo 11 landed on the Moon in 1969","src":"https://nasa.gov","d":"2020-01-01","cred":"high"}
{"id":"a","text":"Apollo 11 crew","src":"notes"}

{"id":"c","text":"Unrelated entry","src":"x"}
{"id":"d","text":"","src":"x"}
{"id":"e","text":"Apollo mission of 1969","src":"y","cred":"med"}
`
	require.NoError(t, os.WriteFile(kb, []byte(lines), 0o644))

	src := newTestSources(t, model.RetrievalConfig{KBPath: kb}, nil)
	assert.True(t, src.KBConfigured())

	p := call(t, src.KBLookup, model.ToolArgs{Query: "Apollo 11 1969", Limit: 20})
	require.True(t, p.IsOK())
	data, err := guard.Decode[KBData](p)
	require.NoError(t, err)
	require.Len(t, data.Items, 3)
	assert.Equal(t, "b", data.Items[0].KID)
	assert.Equal(t, 3, data.Items[0].Score)
	// Tie on score 2 breaks by id
	assert.Equal(t, "a", data.Items[1].KID)
	assert.Equal(t, "low", data.Items[1].Cred)
	assert.Equal(t, "e", data.Items[2].KID)

	limited := call(t, src.KBLookup, model.ToolArgs{Query: "Apollo 11 1969", Limit: 1})
	data, err = guard.Decode[KBData](limited)
	require.NoError(t, err)
	assert.Len(t, data.Items, 1)

	rows := tools.ExtractRows(p.Data)
	require.Len(t, rows, 3)
	assert.Equal(t, model.SourceKB, rows[0].Source)
}

func TestKBLookup_Errors(t *testing.T) {
	dir := t.TempDir()

	unset := newTestSources(t, model.RetrievalConfig{}, nil)
	assert.Equal(t, guard.CodeKBNotConfigured, call(t, unset.KBLookup, model.ToolArgs{Query: "q", Limit: 1}).Code())

	missing := newTestSources(t, model.RetrievalConfig{KBPath: filepath.Join(dir, "nope.jsonl")}, nil)
	assert.Equal(t, guard.CodeKBNotConfigured, call(t, missing.KBLookup, model.ToolArgs{Query: "q", Limit: 1}).Code())

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"id\":\"a\"}\n{oops\n"), 0o644))
	broken := newTestSources(t, model.RetrievalConfig{KBPath: bad}, nil)
	assert.Equal(t, guard.CodeKBReadFail, call(t, broken.KBLookup, model.ToolArgs{Query: "q", Limit: 1}).Code())

	assert.Equal(t, guard.CodeBadLimit, call(t, broken.KBLookup, model.ToolArgs{Query: "q", Limit: 21}).Code())
}

func TestEvidenceLog_FeedsKBLookup(t *testing.T) {
	dir := t.TempDir()
	log := NewEvidenceLog(filepath.Join(dir, "evidence.jsonl"))
	require.NoError(t, log.Append([]SearchResult{
		{RID: "r1", Title: "Paris", Snippet: "Paris is the capital of France", URL: "https://en.wikipedia.org/wiki/Paris", Src: "wiki"},
		{RID: "r2", Title: "Only a title", Src: "web", Cred: "low"},
	}))

	var nilLog *EvidenceLog
	assert.NoError(t, nilLog.Append([]SearchResult{{RID: "r1"}}))

	src := newTestSources(t, model.RetrievalConfig{KBPath: log.Path()}, nil)
	p := call(t, src.KBLookup, model.ToolArgs{Query: "capital france", Limit: 5})
	data, err := guard.Decode[KBData](p)
	require.NoError(t, err)
	require.Len(t, data.Items, 1)
	assert.Equal(t, "wiki:r1", data.Items[0].KID)
	assert.Equal(t, "med", data.Items[0].Cred)

	p = call(t, src.KBLookup, model.ToolArgs{Query: "title", Limit: 5})
	data, err = guard.Decode[KBData](p)
	require.NoError(t, err)
	require.Len(t, data.Items, 1)
	assert.Equal(t, "Only a title", data.Items[0].Text)
	assert.Equal(t, "low", data.Items[0].Cred)
}

func TestPageFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
		case "/wiki/Ulm":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprint(w, `<html><head><script>var x = 1;</script></head><body>
				<main><p>Ulm is a city in Germany.</p><p>Einstein was born in Ulm in 1879.</p></main>
				</body></html>`)
		case "/latin1":
			w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
			_, _ = w.Write([]byte("Caf\xe9 au lait"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	cfg.RespectRobots = true
	src := NewSources(NewClient(cfg, nil), model.RetrievalConfig{PageMaxBytes: 1_000_000}, nil)

	p := call(t, src.PageFetch, PageFetchArgs{URL: server.URL + "/wiki/Ulm"})
	require.True(t, p.IsOK(), "%+v", p.Error)
	page, err := guard.Decode[PageData](p)
	require.NoError(t, err)
	assert.Equal(t, 200, page.Status)
	assert.Contains(t, page.Text, "Einstein was born in Ulm in 1879.")
	assert.NotContains(t, page.Text, "var x")

	p = call(t, src.PageFetch, PageFetchArgs{URL: server.URL + "/latin1"})
	require.True(t, p.IsOK())
	page, err = guard.Decode[PageData](p)
	require.NoError(t, err)
	assert.Equal(t, "Café au lait", page.Text)

	assert.Equal(t, guard.CodeRobots, call(t, src.PageFetch, PageFetchArgs{URL: server.URL + "/private/x"}).Code())
	assert.Equal(t, guard.CodeFetchFail, call(t, src.PageFetch, PageFetchArgs{URL: server.URL + "/missing"}).Code())
	assert.Equal(t, guard.CodeBadURL, call(t, src.PageFetch, PageFetchArgs{URL: "ftp://example.com/x"}).Code())
	assert.Equal(t, guard.CodeBadURL, call(t, src.PageFetch, PageFetchArgs{URL: "not a url"}).Code())
	assert.Equal(t, guard.CodeBadLimit, call(t, src.PageFetch, PageFetchArgs{URL: server.URL, MaxBytes: 6_000_000}).Code())
}

func TestRegister(t *testing.T) {
	reg := tools.NewRegistry(model.DefaultConfig())
	assert.False(t, reg.Has(tools.Search))

	newTestSources(t, model.RetrievalConfig{}, nil).Register(reg)
	for _, id := range []tools.ID{tools.Search, tools.WebSearch, tools.KBLookup, tools.PageFetch} {
		assert.True(t, reg.Has(id), id)
	}

	p := reg.Run(context.Background(), tools.Search, model.ToolArgs{Query: "", Limit: 1})
	assert.Equal(t, guard.CodeEmptyQuery, p.Code())
}
