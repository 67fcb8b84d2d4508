package adapters

import "golang.org/x/net/html"

// GenericAdapter reads any page: the first of <main>, <article>, <body>
// without its chrome.
type GenericAdapter struct{}

// NewGenericAdapter creates the fallback adapter
func NewGenericAdapter() *GenericAdapter {
	return &GenericAdapter{}
}

func (a *GenericAdapter) Name() string { return "generic" }

// Match accepts every host
func (a *GenericAdapter) Match(string) bool { return true }

func (a *GenericAdapter) ContentRoot(doc *html.Node) *html.Node {
	for _, tag := range []string{"main", "article", "body"} {
		if n := findFirst(doc, func(n *html.Node) bool { return isElement(n, tag) }); n != nil {
			return n
		}
	}
	return doc
}

func (a *GenericAdapter) Skip(n *html.Node) bool {
	return isElement(n, "nav", "header", "footer", "aside", "form")
}
