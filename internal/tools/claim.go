package tools

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
	"golang.org/x/text/unicode/norm"
)

const (
	maxNormalizedLen = 240
	maxSubClaimLen   = 200
)

var conjunctionRe = regexp.MustCompile(`(?i)\s+(?:and|or)\s+|\s*;\s*`)

// ClaimArgs is the input of claim_normalize and claim_decompose
type ClaimArgs struct {
	Claim string `json:"claim"`
}

// ClaimsData carries a list of claims
type ClaimsData struct {
	Claims []model.Claim `json:"claims"`
}

// NormalizeClaim cleans the raw claim, classifies it and restates it
// declaratively. It is deterministic for equal input.
func NormalizeClaim(raw string) (model.NormalizedClaim, *guard.Error) {
	text := norm.NFKC.String(raw)
	text = strings.Join(strings.Fields(text), " ")
	text = strings.Trim(text, " \"'`“”‘’«»")
	text = strings.Join(strings.Fields(text), " ")

	if len([]rune(text)) < 3 {
		return model.NormalizedClaim{}, &guard.Error{Code: guard.CodeEmptyClaim, Message: "claim shorter than 3 characters"}
	}
	if !strings.ContainsFunc(text, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
		return model.NormalizedClaim{}, &guard.Error{Code: guard.CodeNonText, Message: "claim has no letters or digits"}
	}

	lower := strings.ToLower(text)
	claimType := model.ClaimTypeAtomic
	switch {
	case strings.HasSuffix(text, "?"):
		claimType = model.ClaimTypeQuestion
	case strings.Contains(lower, " and ") || strings.Contains(lower, " or ") || strings.Contains(lower, ";"):
		claimType = model.ClaimTypeMulti
	}

	decl := strings.TrimSpace(strings.TrimRight(text, "?"))
	if !strings.HasSuffix(decl, ".") && !strings.HasSuffix(decl, "!") {
		decl += "."
	}

	return model.NormalizedClaim{
		Text:      truncate(decl, maxNormalizedLen),
		Type:      claimType,
		Decompose: claimType == model.ClaimTypeMulti,
	}, nil
}

// DecomposeClaim splits a multi-part claim on coordinating conjunctions.
// Fewer than two parts is NOT_MULTI.
func DecomposeClaim(text string) ([]model.Claim, *guard.Error) {
	parts := conjunctionRe.Split(strings.TrimSpace(text), -1)

	var claims []model.Claim
	for _, p := range parts {
		p = strings.Trim(p, " ,;.")
		if p == "" {
			continue
		}
		claims = append(claims, model.Claim{
			ID:   fmt.Sprintf("s%d", len(claims)+1),
			Text: truncate(p+".", maxSubClaimLen),
		})
	}
	if len(claims) < 2 {
		return nil, &guard.Error{Code: guard.CodeNotMulti, Message: "claim does not split into multiple parts"}
	}
	return claims, nil
}

func claimNormalize(args json.RawMessage) guard.Payload {
	var in ClaimArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return guard.Fail(guard.CodeBadClaim, "claim must be a string", guard.RollbackState)
	}
	nc, gerr := NormalizeClaim(in.Claim)
	if gerr != nil {
		return guard.Fail(gerr.Code, gerr.Message, guard.RollbackState)
	}
	return guard.OK(nc)
}

func claimDecompose(args json.RawMessage) guard.Payload {
	var in ClaimArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return guard.Fail(guard.CodeBadClaim, "claim must be a string", guard.RollbackState)
	}
	claims, gerr := DecomposeClaim(in.Claim)
	if gerr != nil {
		return guard.Fail(gerr.Code, gerr.Message, guard.RollbackNone)
	}
	return guard.OK(ClaimsData{Claims: claims})
}
