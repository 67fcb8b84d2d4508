package tools

import (
	"regexp"
	"strings"

	"github.com/ppiankov/veritas/internal/model"
)

var (
	tokenRe    = regexp.MustCompile(`[a-z0-9]+(?:[.,][0-9]+)*`)
	titleRe    = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,3}\b`)
	mixedRe    = regexp.MustCompile(`\b(?:[a-z]+[A-Z][A-Za-z0-9]*|[A-Z]{2,}[A-Za-z0-9]*)\b`)
	yearRe     = regexp.MustCompile(`\b(1[5-9]\d{2}|20\d{2}|2100)\b`)
	numberRe   = regexp.MustCompile(`\b\d+(?:[.,]\d+)*\b`)
	negationRe = regexp.MustCompile(`\b(?:not|never|no|none|nobody|nothing|neither|nor|without|cannot)\b|n't\b`)
	copulaRe   = regexp.MustCompile(`\b(?:is|was|are|were)\b`)
	claimCopRe = regexp.MustCompile(`^(.+?)\s+(?:is|was|are|were)\s+(?:a|an|the)\s+(.+)$`)
	onlyRe     = regexp.MustCompile(`\b(?:only|sole|solely|exclusively)\b`)
)

var stopwords = toSet(
	"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
	"to", "of", "in", "on", "at", "for", "from", "by", "as", "that", "this",
	"it", "its", "and", "or", "with", "during", "into", "over", "under",
	"than", "then", "who", "what", "when", "where", "which",
	"has", "have", "had", "do", "does", "did", "s", "t", "he", "she", "they",
	"his", "her", "their", "also", "there", "these", "those", "such", "can",
	"will", "would", "should", "may", "might", "about", "one",
)

// Negation words never count as content; they are checked separately.
var negationWords = toSet("not", "never", "no", "none", "nobody", "nothing", "neither", "nor", "without", "cannot")

var exclusivityWords = toSet("only", "sole", "solely", "exclusively")

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// IsStopword reports whether w (lower-case) is filtered from content tokens
func IsStopword(w string) bool {
	return stopwords[w]
}

// Lexicon normalizes tokens: stop-word removal, light stemming and synonym folding
type Lexicon struct {
	synonyms map[string]string
	antonyms [][2]string
}

// NewLexicon builds a lexicon from heuristic configuration
func NewLexicon(h model.HeuristicConfig) *Lexicon {
	l := &Lexicon{synonyms: make(map[string]string, len(h.Synonyms))}
	for k, v := range h.Synonyms {
		l.synonyms[strings.ToLower(k)] = strings.ToLower(v)
	}
	for _, pair := range h.AntonymPairs {
		a, b, ok := strings.Cut(pair, "/")
		if !ok {
			continue
		}
		a, b = l.Normalize(strings.TrimSpace(strings.ToLower(a))), l.Normalize(strings.TrimSpace(strings.ToLower(b)))
		if a != "" && b != "" && a != b {
			l.antonyms = append(l.antonyms, [2]string{a, b})
		}
	}
	return l
}

// Normalize folds a lower-case token to its canonical form
func (l *Lexicon) Normalize(tok string) string {
	if s, ok := l.synonyms[tok]; ok {
		return s
	}
	st := stem(tok)
	if s, ok := l.synonyms[st]; ok {
		return s
	}
	return st
}

// Tokens returns all lower-case word tokens of text in order
func Tokens(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// ContentTokens returns normalized, de-duplicated content tokens in first-seen order
func (l *Lexicon) ContentTokens(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokens(text) {
		if stopwords[t] || negationWords[t] {
			continue
		}
		n := l.Normalize(strings.ReplaceAll(t, ",", ""))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ContentSet returns the content tokens of text as a set
func (l *Lexicon) ContentSet(text string) map[string]bool {
	toks := l.ContentTokens(text)
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		set[t] = true
	}
	return set
}

// stem strips a few English inflections. Numbers pass through.
func stem(t string) string {
	if t == "" || (t[0] >= '0' && t[0] <= '9') {
		return t
	}
	switch {
	case len(t) > 5 && strings.HasSuffix(t, "ing"):
		return t[:len(t)-3]
	case len(t) > 4 && strings.HasSuffix(t, "ies"):
		return t[:len(t)-3] + "y"
	case len(t) > 4 && strings.HasSuffix(t, "ed"):
		return t[:len(t)-2]
	case len(t) > 3 && strings.HasSuffix(t, "s") &&
		!strings.HasSuffix(t, "ss") && !strings.HasSuffix(t, "us") && !strings.HasSuffix(t, "is"):
		return t[:len(t)-1]
	}
	return t
}

// EntityPhrases finds Title-Case spans of up to four words and mixed-case
// tokens, with leading stop-words and exclusivity markers trimmed.
func EntityPhrases(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(phrase string) {
		words := strings.Fields(phrase)
		for len(words) > 0 {
			w := strings.ToLower(words[0])
			if !stopwords[w] && !exclusivityWords[w] && !negationWords[w] {
				break
			}
			words = words[1:]
		}
		if len(words) == 0 {
			return
		}
		p := strings.Join(words, " ")
		if len(p) < 2 || seen[strings.ToLower(p)] {
			return
		}
		seen[strings.ToLower(p)] = true
		out = append(out, p)
	}
	for _, m := range titleRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range mixedRe.FindAllString(text, -1) {
		add(m)
	}
	return out
}

// EntityTokens returns the normalized content tokens of all entity phrases
func (l *Lexicon) EntityTokens(text string) map[string]bool {
	set := make(map[string]bool)
	for _, p := range EntityPhrases(text) {
		for _, t := range l.ContentTokens(p) {
			set[t] = true
		}
	}
	return set
}

// Years extracts four-digit years
func Years(text string) map[string]bool {
	set := make(map[string]bool)
	for _, y := range yearRe.FindAllString(text, -1) {
		set[y] = true
	}
	return set
}

// Numbers extracts bare numbers that are not years
func Numbers(text string) map[string]bool {
	set := make(map[string]bool)
	for _, n := range numberRe.FindAllString(text, -1) {
		if yearRe.MatchString(n) && len(n) == 4 {
			continue
		}
		set[strings.ReplaceAll(n, ",", "")] = true
	}
	return set
}

// HasNegation reports whether text contains a negation cue
func HasNegation(text string) bool {
	return negationRe.MatchString(strings.ToLower(text))
}

// HasExclusivity reports whether text contains only/sole style markers
func HasExclusivity(text string) bool {
	return onlyRe.MatchString(strings.ToLower(text))
}

// OverlapRatio is |a∩b| / min(|a|,|b|), zero when either set is empty
func OverlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	for t := range a {
		if b[t] {
			n++
		}
	}
	m := len(a)
	if len(b) < m {
		m = len(b)
	}
	return float64(n) / float64(m)
}

func intersects(a, b map[string]bool) bool {
	for t := range a {
		if b[t] {
			return true
		}
	}
	return false
}

func disjointNonEmpty(a, b map[string]bool) bool {
	return len(a) > 0 && len(b) > 0 && !intersects(a, b)
}

// comparable lower-cases text, drops punctuation and collapses whitespace
func comparable(text string) string {
	return strings.Join(Tokens(text), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
