// Package extract turns fetched pages and snippets into clean sentences.
package extract

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ppiankov/veritas/internal/extract/adapters"
	xhtml "golang.org/x/net/html"
)

var (
	citationMarkRe = regexp.MustCompile(`\[[^\]]{0,16}\]`)
	markupHintRe   = regexp.MustCompile(`<[a-zA-Z!/][^>]*>`)
)

var registry = adapters.NewRegistry()

// PageText extracts the readable article text of an HTML page.
// The adapter is chosen by URL.
func PageText(htmlContent, pageURL string) (string, error) {
	doc, err := xhtml.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	adapter := registry.For(pageURL)
	root := adapter.ContentRoot(doc)
	return CleanText(visibleText(root, adapter.Skip)), nil
}

// CleanText removes markup, entities and bracketed citation markers
func CleanText(s string) string {
	if markupHintRe.MatchString(s) {
		if doc, err := xhtml.Parse(strings.NewReader(s)); err == nil {
			s = visibleText(doc, func(*xhtml.Node) bool { return false })
		}
	}
	s = html.UnescapeString(s)
	s = citationMarkRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// dropped elements never carry article text
var dropped = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"svg": true, "template": true, "button": true,
}

// visibleText concatenates text nodes under n, skipping dropped elements
// and whatever the adapter marks as boilerplate.
func visibleText(n *xhtml.Node, skip func(*xhtml.Node) bool) string {
	var buf strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		switch n.Type {
		case xhtml.ElementNode:
			if dropped[n.Data] || skip(n) {
				return
			}
		case xhtml.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				buf.WriteString(t)
				buf.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

// abbreviations end in a period without ending the sentence
var abbreviations = map[string]bool{
	"mr.": true, "mrs.": true, "ms.": true, "dr.": true, "prof.": true,
	"st.": true, "jr.": true, "sr.": true, "vs.": true, "etc.": true,
	"e.g.": true, "i.e.": true, "u.s.": true, "u.k.": true, "no.": true,
	"approx.": true, "ca.": true,
}

// SplitSentences splits text after '.', '!' or '?' followed by a space or
// tab, and keeps sentences of minLen to maxLen runes. A period that ends
// a known abbreviation or a single-letter initial does not split.
func SplitSentences(text string, minLen, maxLen int) []string {
	text = strings.ReplaceAll(text, "\n", " ")

	var (
		out   []string
		start int
	)
	emit := func(end int) {
		s := strings.TrimSpace(text[start:end])
		start = end
		if n := utf8.RuneCountInString(s); n >= minLen && n <= maxLen {
			out = append(out, s)
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 >= len(text) || (text[i+1] != ' ' && text[i+1] != '\t') {
			continue
		}
		if c == '.' && abbreviated(text[start:i+1]) {
			continue
		}
		emit(i + 1)
	}
	if start < len(text) {
		emit(len(text))
	}
	return out
}

// abbreviated reports whether the last word of s is an abbreviation or an
// initial like "J."
func abbreviated(s string) bool {
	word := s[strings.LastIndexAny(s, " \t(")+1:]
	if abbreviations[strings.ToLower(word)] {
		return true
	}
	r, size := utf8.DecodeRuneInString(word)
	return size+1 == len(word) && unicode.IsUpper(r)
}
