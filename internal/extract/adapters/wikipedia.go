package adapters

import (
	"golang.org/x/net/html"
)

// wikiBoilerplate lists classes of article parts that never state facts
// about the subject
var wikiBoilerplate = []string{
	"reference", "reflist", "references", "mw-editsection", "navbox",
	"infobox", "hatnote", "thumb", "metadata", "mw-empty-elt", "toc",
	"sidebar", "shortdescription",
}

// WikipediaAdapter reads the prose of Wikipedia articles
type WikipediaAdapter struct{}

// NewWikipediaAdapter creates a new Wikipedia adapter
func NewWikipediaAdapter() *WikipediaAdapter {
	return &WikipediaAdapter{}
}

func (a *WikipediaAdapter) Name() string { return "wikipedia" }

// Match accepts wikipedia.org and its language subdomains
func (a *WikipediaAdapter) Match(host string) bool {
	return hostIs(host, "wikipedia.org")
}

// ContentRoot finds the parser output, or #mw-content-text on older skins
func (a *WikipediaAdapter) ContentRoot(doc *html.Node) *html.Node {
	if n := findFirst(doc, func(n *html.Node) bool { return isElement(n, "div") && hasClass(n, "mw-parser-output") }); n != nil {
		return n
	}
	if n := findFirst(doc, func(n *html.Node) bool { return isElement(n, "div") && attr(n, "id") == "mw-content-text" }); n != nil {
		return n
	}
	return doc
}

// Skip drops citation markers, tables, figures and navigation boxes
func (a *WikipediaAdapter) Skip(n *html.Node) bool {
	if isElement(n, "sup", "table", "style", "figure") {
		return true
	}
	for _, c := range wikiBoilerplate {
		if hasClass(n, c) {
			return true
		}
	}
	return false
}
