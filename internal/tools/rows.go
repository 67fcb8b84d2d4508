package tools

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/ppiankov/veritas/internal/model"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)

// Row is one normalized evidence row from any retrieval shape
type Row struct {
	RID         string            `json:"rid"`
	Title       string            `json:"title,omitempty"`
	Text        string            `json:"text"`
	URL         string            `json:"url,omitempty"`
	Source      string            `json:"source"`
	Date        string            `json:"date,omitempty"`
	Credibility model.Credibility `json:"credibility"`
	Explicit    bool              `json:"-"` // Credibility came from the source row
}

type resultRow struct {
	RID     string `json:"rid"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Src     string `json:"src"`
	Date    string `json:"d"`
	Cred    string `json:"cred"`
}

type kbItem struct {
	KID  string `json:"kid"`
	Text string `json:"text"`
	Src  string `json:"src"`
	Date string `json:"d"`
	Cred string `json:"cred"`
}

type sentenceRow struct {
	I int    `json:"i"`
	S string `json:"s"`
}

type rowShapes struct {
	Results   []json.RawMessage `json:"results"`
	Items     []json.RawMessage `json:"items"`
	Sentences []json.RawMessage `json:"sentences"`
}

// DefaultCredibility returns the credibility of a source kind
func DefaultCredibility(source string) model.Credibility {
	switch source {
	case model.SourceWiki, model.SourceKB:
		return model.CredibilityHigh
	default:
		return model.CredibilityMed
	}
}

// ExtractRows normalizes the data of a retrieval payload. It understands the
// search shape (results), the KB shape (items) and the extraction shape
// (sentences). Malformed entries are skipped; unknown shapes yield nil.
func ExtractRows(data json.RawMessage) []Row {
	var shapes rowShapes
	if err := json.Unmarshal(data, &shapes); err != nil {
		return nil
	}

	var rows []Row
	switch {
	case shapes.Results != nil:
		for i, raw := range shapes.Results {
			var r resultRow
			if json.Unmarshal(raw, &r) != nil {
				continue
			}
			text := CleanSnippet(r.Snippet)
			if text == "" {
				text = CleanSnippet(r.Title)
			}
			src := r.Src
			if src == "" {
				src = model.SourceWeb
			}
			rid := r.RID
			if rid == "" {
				rid = fmt.Sprintf("r%d", i+1)
			}
			rows = append(rows, withCredibility(Row{
				RID: rid, Title: r.Title, Text: text, URL: r.URL, Source: src, Date: r.Date,
			}, r.Cred))
		}
	case shapes.Items != nil:
		for i, raw := range shapes.Items {
			var it kbItem
			if json.Unmarshal(raw, &it) != nil {
				continue
			}
			rows = append(rows, withCredibility(Row{
				RID: fmt.Sprintf("r%d", i+1), Text: strings.TrimSpace(it.Text), URL: it.Src,
				Source: model.SourceKB, Date: it.Date,
			}, it.Cred))
		}
	case shapes.Sentences != nil:
		for i, raw := range shapes.Sentences {
			var s sentenceRow
			if json.Unmarshal(raw, &s) != nil {
				continue
			}
			rows = append(rows, withCredibility(Row{
				RID: fmt.Sprintf("r%d", i+1), Text: strings.TrimSpace(s.S), Source: model.SourceExtract,
			}, ""))
		}
	}

	out := rows[:0]
	for _, r := range rows {
		if r.Text != "" {
			out = append(out, r)
		}
	}
	return out
}

func withCredibility(r Row, cred string) Row {
	c := model.Credibility(strings.ToLower(cred))
	if c.Valid() {
		r.Credibility = c
		r.Explicit = true
		return r
	}
	r.Credibility = DefaultCredibility(r.Source)
	return r
}

// CleanSnippet strips markup and entities from a search snippet
func CleanSnippet(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
