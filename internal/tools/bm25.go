package tools

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/ppiankov/veritas/internal/extract"
	"github.com/ppiankov/veritas/internal/guard"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75

	defaultTopSentences = 3
	maxTopSentences     = 10

	minSentenceLen = 20
	maxSentenceLen = 400
)

// ExtractArgs is the input of sentence_extract
type ExtractArgs struct {
	Text  string `json:"text"`
	Query string `json:"query"`
	TopN  int    `json:"top_n,omitempty"`
}

// RankedSentence is one sentence with its BM25 score against the query
type RankedSentence struct {
	Index int     `json:"i"`
	Text  string  `json:"s"`
	Score float64 `json:"score"`
}

// SentencesData carries extracted sentences
type SentencesData struct {
	Sentences []RankedSentence `json:"sentences"`
}

// RankSentences splits text into sentences and returns the topN by BM25
// against query. Ties keep document order.
func RankSentences(text, query string, topN int) ([]RankedSentence, *guard.Error) {
	if topN == 0 {
		topN = defaultTopSentences
	}
	if topN < 1 || topN > maxTopSentences {
		return nil, &guard.Error{Code: guard.CodeBadLimit, Message: "top_n must be within 1..10"}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &guard.Error{Code: guard.CodeEmptyText, Message: "no text to extract from"}
	}
	queryTerms := contentTerms(query)
	if len(queryTerms) == 0 {
		return nil, &guard.Error{Code: guard.CodeEmptyQuery, Message: "query has no content terms"}
	}

	sentences := extract.SplitSentences(extract.CleanText(text), minSentenceLen, maxSentenceLen)
	if len(sentences) == 0 {
		return nil, &guard.Error{Code: guard.CodeNoSentences, Message: "text has no usable sentences"}
	}

	docs := make([][]string, len(sentences))
	df := make(map[string]int)
	total := 0
	for i, s := range sentences {
		docs[i] = contentTerms(s)
		total += len(docs[i])
		seen := make(map[string]bool)
		for _, t := range docs[i] {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	n := float64(len(docs))
	avgLen := float64(total) / n
	if avgLen == 0 {
		avgLen = 1
	}

	ranked := make([]RankedSentence, len(sentences))
	for i, doc := range docs {
		tf := make(map[string]int, len(doc))
		for _, t := range doc {
			tf[t]++
		}
		score := 0.0
		for _, q := range queryTerms {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			d := float64(df[q])
			idf := math.Log(1 + (n-d+0.5)/(d+0.5))
			score += idf * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*float64(len(doc))/avgLen))
		}
		ranked[i] = RankedSentence{Index: i, Text: sentences[i], Score: math.Round(score*1e4) / 1e4}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].Score != ranked[b].Score {
			return ranked[a].Score > ranked[b].Score
		}
		return ranked[a].Index < ranked[b].Index
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

// contentTerms keeps every non-stopword token, repeats included
func contentTerms(text string) []string {
	var out []string
	for _, t := range Tokens(text) {
		if stopwords[t] || len(t) < 2 {
			continue
		}
		out = append(out, stem(t))
	}
	return out
}

func sentenceExtract(args json.RawMessage) guard.Payload {
	var in ExtractArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return guard.Fail(guard.CodeBadArgs, err.Error(), guard.RollbackTools)
	}
	sentences, gerr := RankSentences(in.Text, in.Query, in.TopN)
	if gerr != nil {
		return guard.Fail(gerr.Code, gerr.Message, guard.RollbackTools)
	}
	return guard.OK(SentencesData{Sentences: sentences})
}
