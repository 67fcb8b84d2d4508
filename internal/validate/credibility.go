// Package validate grades evidence origins.
package validate

import (
	"net/url"
	"strings"

	"github.com/ppiankov/veritas/internal/model"
)

// CredibilityClassifier maps evidence URLs to credibility tiers
type CredibilityClassifier struct {
	primary  map[string]bool
	lowTrust map[string]bool
}

// NewCredibilityClassifier creates a classifier from the retrieval
// domain lists. Domains match themselves and their subdomains.
func NewCredibilityClassifier(cfg model.RetrievalConfig) *CredibilityClassifier {
	c := &CredibilityClassifier{
		primary:  make(map[string]bool),
		lowTrust: make(map[string]bool),
	}
	for _, d := range cfg.PrimaryDomains {
		if d = normalizeDomain(d); d != "" {
			c.primary[d] = true
		}
	}
	for _, d := range cfg.LowTrustDomains {
		if d = normalizeDomain(d); d != "" {
			c.lowTrust[d] = true
		}
	}
	return c
}

// Classify returns the tier implied by the URL host. ok is false when the
// host says nothing, leaving the source default in charge.
func (c *CredibilityClassifier) Classify(rawURL string) (model.Credibility, bool) {
	host := hostOf(rawURL)
	if host == "" {
		return "", false
	}

	if matchDomain(host, c.primary) {
		return model.CredibilityHigh, true
	}
	if matchDomain(host, c.lowTrust) {
		return model.CredibilityLow, true
	}

	// Public-sector and academic hosts
	for _, suffix := range []string{".gov", ".edu", ".mil", ".ac.uk", ".gov.uk"} {
		if strings.HasSuffix(host, suffix) {
			return model.CredibilityHigh, true
		}
	}

	return "", false
}

// Resolve applies the precedence explicit > host classification > fallback
func (c *CredibilityClassifier) Resolve(explicit model.Credibility, rawURL string, fallback model.Credibility) model.Credibility {
	if explicit.Valid() {
		return explicit
	}
	if cred, ok := c.Classify(rawURL); ok {
		return cred
	}
	return fallback
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return normalizeDomain(parsed.Hostname())
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, ".")
}

// matchDomain checks host and each parent domain against set
func matchDomain(host string, set map[string]bool) bool {
	for h := host; h != ""; {
		if set[h] {
			return true
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}
	return false
}
