package guard

import (
	"bytes"
	"encoding/json"
)

var payloadKeys = []string{"status", "data", "error", "rollback"}

// Parse decodes a JSON object into its top-level members
func Parse(b []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, &Error{Code: CodeBadJSON, Message: "not a JSON object"}
	}
	return obj, nil
}

// Sanitize keeps only the payload keys and coerces each into its typed slot.
// It never fails: undecodable members become zero values that Validate rejects.
func Sanitize(obj map[string]json.RawMessage) Payload {
	var p Payload
	if obj == nil {
		return p
	}

	if raw, ok := obj["status"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			p.Status = Status(s)
		}
	}
	if raw, ok := obj["data"]; ok && !isNull(raw) {
		p.Data = append(json.RawMessage(nil), raw...)
	}
	if raw, ok := obj["error"]; ok && !isNull(raw) {
		var e Error
		if json.Unmarshal(raw, &e) == nil {
			p.Error = &e
		} else {
			var msg string
			if json.Unmarshal(raw, &msg) == nil {
				p.Error = &Error{Code: CodeBadOutput, Message: msg}
			}
		}
	}
	if raw, ok := obj["rollback"]; ok && !isNull(raw) {
		var r string
		if json.Unmarshal(raw, &r) == nil {
			p.Rollback = Rollback(r)
		} else {
			p.Rollback = Rollback("invalid")
		}
	}
	return p
}

// Validate performs the full structural check on a skill payload
func Validate(p Payload) (bool, string) {
	switch p.Status {
	case StatusOK, StatusError, StatusRetry:
	default:
		return false, "invalid status"
	}

	switch p.Rollback {
	case RollbackAbsent, RollbackNone, RollbackState, RollbackTools:
	default:
		return false, "invalid rollback"
	}

	if p.Status == StatusOK {
		if p.Error != nil {
			return false, "error must be null when status is ok"
		}
		if !isObject(p.Data) {
			return false, "data must be an object"
		}
		return true, ""
	}

	if p.Error == nil || p.Error.Code == "" {
		return false, "error.code required when status is not ok"
	}
	if len(p.Data) > 0 && !isObject(p.Data) {
		return false, "data must be an object"
	}
	return true, ""
}

// CheckToolOutput is the lighter check for deterministic tools:
// only status and data are required.
func CheckToolOutput(obj map[string]json.RawMessage) (bool, string) {
	if obj == nil {
		return false, "output is not an object"
	}
	for _, k := range []string{"status", "data"} {
		if _, ok := obj[k]; !ok {
			return false, "missing key: " + k
		}
	}
	var s string
	if err := json.Unmarshal(obj["status"], &s); err != nil {
		return false, "status must be a string"
	}
	switch Status(s) {
	case StatusOK, StatusError, StatusRetry:
	default:
		return false, "invalid status"
	}
	return true, ""
}

// CheckPayload runs CheckToolOutput over an already typed payload
func CheckPayload(p Payload) (bool, string) {
	b, err := json.Marshal(p)
	if err != nil {
		return false, err.Error()
	}
	obj, err := Parse(b)
	if err != nil {
		return false, err.Error()
	}
	if ok, reason := CheckToolOutput(obj); !ok {
		return ok, reason
	}
	if p.Status == StatusOK && !isObject(p.Data) {
		return false, "data must be an object"
	}
	return true, ""
}

// Keys lists the top-level keys Sanitize retains
func Keys() []string {
	return append([]string(nil), payloadKeys...)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 1 && t[0] == '{' && t[len(t)-1] == '}'
}
