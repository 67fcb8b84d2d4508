// Package adapters picks the article body out of fetched HTML pages.
package adapters

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Adapter locates the readable article body of a page for a family of sites
type Adapter interface {
	Name() string

	// Match reports whether the adapter understands pages served by host
	Match(host string) bool

	// ContentRoot returns the node holding the article body, or doc itself
	ContentRoot(doc *html.Node) *html.Node

	// Skip reports whether a subtree is boilerplate (navigation, references)
	Skip(n *html.Node) bool
}

// Registry picks the adapter for a page URL, falling back to Generic
type Registry struct {
	adapters []Adapter
	fallback Adapter
}

// NewRegistry returns a registry holding the site adapters
func NewRegistry() *Registry {
	return &Registry{
		adapters: []Adapter{NewWikipediaAdapter()},
		fallback: NewGenericAdapter(),
	}
}

// Register adds an adapter ahead of the fallback
func (r *Registry) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
}

// For returns the adapter for pageURL
func (r *Registry) For(pageURL string) Adapter {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return r.fallback
	}
	host := strings.ToLower(u.Hostname())
	for _, a := range r.adapters {
		if a.Match(host) {
			return a
		}
	}
	return r.fallback
}

// hostIs reports whether host is domain or one of its subdomains
func hostIs(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// findFirst returns the first node in document order matching pred
func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func isElement(n *html.Node, tags ...string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, t := range tags {
		if n.Data == t {
			return true
		}
	}
	return false
}
