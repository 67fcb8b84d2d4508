package model

// Stance is the relation of one evidence item to one claim
type Stance string

const (
	StanceSupport Stance = "support"
	StanceRefute  Stance = "refute"
	StanceNeutral Stance = "neutral"
)

// Valid reports whether s is a known stance
func (s Stance) Valid() bool {
	return s == StanceSupport || s == StanceRefute || s == StanceNeutral
}

// Confidence grades a stance or a verdict
type Confidence string

const (
	ConfidenceLow  Confidence = "low"
	ConfidenceMed  Confidence = "med"
	ConfidenceHigh Confidence = "high"
)

// Valid reports whether c is a known confidence level
func (c Confidence) Valid() bool {
	return c == ConfidenceLow || c == ConfidenceMed || c == ConfidenceHigh
}

// CapBy lowers c to low when the evidence credibility is low
func (c Confidence) CapBy(cred Credibility) Confidence {
	if cred == CredibilityLow {
		return ConfidenceLow
	}
	return c
}

// Score is the stance of a selected evidence item towards its claim
type Score struct {
	EvidenceID string     `json:"eid"`
	ClaimID    string     `json:"claim_id"`
	Stance     Stance     `json:"stance"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason,omitempty"` // Rule that decided the stance
}

// Label is the final judgment for a claim
type Label string

const (
	LabelSupported    Label = "supported"
	LabelRefuted      Label = "refuted"
	LabelMixed        Label = "mixed"
	LabelInsufficient Label = "insufficient"
)

// Valid reports whether l is a known label
func (l Label) Valid() bool {
	switch l {
	case LabelSupported, LabelRefuted, LabelMixed, LabelInsufficient:
		return true
	}
	return false
}

// Verdict is the aggregated judgment for a claim
type Verdict struct {
	ClaimID    string     `json:"claim_id"`
	Label      Label      `json:"label"`
	Confidence Confidence `json:"confidence"`
}

// ComposedVerdict is a verdict rendered for the caller
type ComposedVerdict struct {
	ClaimID    string     `json:"claim_id"`
	Label      Label      `json:"label"`
	Confidence Confidence `json:"confidence"`
	Rationale  string     `json:"rationale"`
	Citations  []string   `json:"citations"`
}

// Result is the public result of a verification run
type Result struct {
	Status string       `json:"status"` // Always "ok"; failures degrade to insufficient verdicts
	Data   ResultData   `json:"data"`
	Error  *ResultError `json:"error"`
}

// ResultData carries the composed verdicts
type ResultData struct {
	Verdicts []ComposedVerdict `json:"verdicts"`
}

// ResultError is reserved for transport-level failures and is nil for runs
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewResult wraps composed verdicts into the public envelope
func NewResult(verdicts []ComposedVerdict) *Result {
	if verdicts == nil {
		verdicts = []ComposedVerdict{}
	}
	for i := range verdicts {
		if verdicts[i].Citations == nil {
			verdicts[i].Citations = []string{}
		}
	}
	return &Result{Status: "ok", Data: ResultData{Verdicts: verdicts}}
}

// Decision collapses the verdicts into one label for the whole input claim.
// Any refuted sub-claim refutes it, otherwise any supported one supports it.
func (r *Result) Decision() Label {
	supported := false
	for _, v := range r.Data.Verdicts {
		switch v.Label {
		case LabelRefuted:
			return LabelRefuted
		case LabelSupported:
			supported = true
		}
	}
	if supported {
		return LabelSupported
	}
	return LabelInsufficient
}
