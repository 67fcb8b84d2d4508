package model

// Phase is a state of the verification machine
type Phase string

const (
	PhaseParseClaim     Phase = "PARSE_CLAIM"     // Normalize, decompose, plan queries
	PhaseRetrieval      Phase = "RETRIEVAL"       // Compose requests and fetch evidence
	PhaseSelectEvidence Phase = "SELECT_EVIDENCE" // Pick relevant evidence per claim
	PhaseNLIVerify      Phase = "NLI_VERIFY"      // Score stance of selected evidence
	PhaseDecide         Phase = "DECIDE"          // Aggregate scores into verdicts
	PhaseOutput         Phase = "OUTPUT"          // Compose the public result (terminal)
)

// IsTerminal returns true for the output phase
func (p Phase) IsTerminal() bool {
	return p == PhaseOutput
}

// IsValid returns true if the phase is one of the known phases
func (p Phase) IsValid() bool {
	switch p {
	case PhaseParseClaim, PhaseRetrieval, PhaseSelectEvidence, PhaseNLIVerify, PhaseDecide, PhaseOutput:
		return true
	default:
		return false
	}
}

func (p Phase) String() string {
	return string(p)
}

// AllPhases returns the phases in forward order
func AllPhases() []Phase {
	return []Phase{
		PhaseParseClaim,
		PhaseRetrieval,
		PhaseSelectEvidence,
		PhaseNLIVerify,
		PhaseDecide,
		PhaseOutput,
	}
}
