package model

import "strings"

// Credibility is the trust tier attached to an evidence item
type Credibility string

const (
	CredibilityLow  Credibility = "low"
	CredibilityMed  Credibility = "med"
	CredibilityHigh Credibility = "high"
)

// Valid reports whether c is one of the known tiers
func (c Credibility) Valid() bool {
	switch c {
	case CredibilityLow, CredibilityMed, CredibilityHigh:
		return true
	}
	return false
}

// EvidenceItem is a retrieved text snippet attributed to a claim
type EvidenceItem struct {
	ID          string      `json:"id"`             // <source>:<request>:<row>, unique per run
	ClaimID     string      `json:"claim_id"`       // Claim the row was retrieved for
	Text        string      `json:"text"`           // Snippet or extracted sentence
	Source      string      `json:"source"`         // wiki, kb, web, extract
	URL         string      `json:"url,omitempty"`  // Origin URL if known
	Date        string      `json:"date,omitempty"` // Retrieval or publication date (YYYY-MM-DD)
	Credibility Credibility `json:"credibility"`
}

// DedupKey returns the identity used to drop repeated evidence within a run
func (e EvidenceItem) DedupKey() string {
	return DedupKey(e.Text)
}

// DedupKey lower-cases text and collapses whitespace
func DedupKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Selection marks an evidence item as relevant to a claim
type Selection struct {
	EvidenceID string `json:"eid"`
	ClaimID    string `json:"claim_id"`
}
