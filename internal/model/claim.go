package model

// Claim is one atomic (sub-)claim checked by a run
type Claim struct {
	ID   string `json:"id"`   // s1..sN, stable for the whole run
	Text string `json:"text"` // Declarative claim text
}

// ClaimType categorizes the surface form of the input claim
type ClaimType string

const (
	ClaimTypeAtomic   ClaimType = "atomic"   // Single assertion
	ClaimTypeMulti    ClaimType = "multi"    // Coordinated assertions (and/or/;)
	ClaimTypeQuestion ClaimType = "question" // Interrogative form
)

// NormalizedClaim is the output of claim normalization
type NormalizedClaim struct {
	Text      string    `json:"text"`      // Cleaned, declarative text
	Type      ClaimType `json:"type"`      // atomic, multi, question
	Decompose bool      `json:"decompose"` // Whether decomposition should be attempted
}

// Source kinds used by retrieval
const (
	SourceWiki    = "wiki"
	SourceKB      = "kb"
	SourceWeb     = "web"
	SourceExtract = "extract"
)

// EvidencePlan lists the search queries for one claim
type EvidencePlan struct {
	ClaimID string   `json:"claim_id"`
	Queries []string `json:"queries"`
	Sources []string `json:"sources"` // Ordered source preference (wiki, kb, web)
	Limit   int      `json:"limit"`   // Max rows per query
}

// ToolRequest is a planned retrieval call derived from an EvidencePlan
type ToolRequest struct {
	ID      string   `json:"id"`   // t1..tN
	Tool    string   `json:"tool"` // Retrieval tool identifier
	Args    ToolArgs `json:"args"`
	ClaimID string   `json:"claim_id"`
}

// ToolArgs are the arguments of a retrieval ToolRequest
type ToolArgs struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
	Source string `json:"source,omitempty"`
}
