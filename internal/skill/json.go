package skill

import (
	"encoding/json"
	"strings"
)

// ExtractObject returns the first JSON object found in raw model output.
// The whole text is tried first; otherwise every '{' starts a balanced-brace
// scan and the first span that decodes wins.
func ExtractObject(raw string) map[string]json.RawMessage {
	text := strings.TrimSpace(raw)
	if obj := decodeObject(text); obj != nil {
		return obj
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		span := balancedSpan(text[i:])
		if span == "" {
			continue
		}
		if obj := decodeObject(span); obj != nil {
			return obj
		}
	}
	return nil
}

func decodeObject(s string) map[string]json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil
	}
	return obj
}

// balancedSpan returns the prefix of s (which starts with '{') up to the
// matching '}', skipping braces inside strings. Empty if unbalanced.
func balancedSpan(s string) string {
	depth := 0
	inString, escape := false, false

	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
