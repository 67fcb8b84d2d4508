// Package guard defines the structured payload exchanged by tools and skills
// and the checks every payload passes before the orchestrator trusts it.
package guard

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status is the top-level outcome of a tool or skill call
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
	StatusRetry Status = "retry"
)

// Rollback tells the orchestrator how far to unwind after a failure
type Rollback string

const (
	RollbackAbsent Rollback = ""
	RollbackNone   Rollback = "none"
	RollbackState  Rollback = "state"
	RollbackTools  Rollback = "tools"
)

// Error codes carried in Payload.Error.Code
const (
	CodeScope           = "SCOPE"
	CodeBadJSON         = "BAD_JSON"
	CodeBadSchema       = "BAD_SCHEMA"
	CodeBadOutput       = "BAD_OUTPUT"
	CodeBadToolOutput   = "BAD_TOOL_OUTPUT"
	CodeBadArgs         = "BAD_ARGS"
	CodeBadClaim        = "BAD_CLAIM"
	CodeEmptyClaim      = "EMPTY_CLAIM"
	CodeNonText         = "NON_TEXT"
	CodeNotMulti        = "NOT_MULTI"
	CodeNoQueries       = "NO_QUERIES"
	CodeNoClaims        = "NO_CLAIMS"
	CodeNoPlans         = "NO_PLANS"
	CodeNoSelected      = "NO_SELECTED"
	CodeEmptyQuery      = "EMPTY_QUERY"
	CodeBadLimit        = "BAD_LIMIT"
	CodeBadURL          = "BAD_URL"
	CodeBadSource       = "BAD_SRC"
	CodeWrongTool       = "WRONG_TOOL"
	CodeFetchFail       = "FETCH_FAIL"
	CodeRobots          = "ROBOTS_DISALLOWED"
	CodeKBNotConfigured = "KB_NOT_CONFIGURED"
	CodeKBReadFail      = "KB_READ_FAIL"
	CodeNoProvider      = "NO_PROVIDER"
	CodeNoKey           = "NO_KEY"
	CodeEmptyText       = "EMPTY_TEXT"
	CodeNoSentences     = "NO_SENTENCES"
)

// Error describes a failed call
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Payload is the structured result of every tool and skill call.
// Exactly these four fields survive Sanitize.
type Payload struct {
	Status   Status          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Error    *Error          `json:"error"`
	Rollback Rollback        `json:"rollback,omitempty"`
}

// OK builds a success payload. data must marshal to a JSON object.
func OK(data any) Payload {
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail(CodeBadToolOutput, err.Error(), RollbackState)
	}
	return Payload{Status: StatusOK, Data: raw, Rollback: RollbackNone}
}

// Fail builds an error payload
func Fail(code, message string, rollback Rollback) Payload {
	return Payload{
		Status:   StatusError,
		Data:     json.RawMessage("{}"),
		Error:    &Error{Code: code, Message: message},
		Rollback: rollback,
	}
}

// IsOK reports whether the payload carries usable data
func (p Payload) IsOK() bool {
	return p.Status == StatusOK
}

// Code returns the error code or "" for successful payloads
func (p Payload) Code() string {
	if p.Error == nil {
		return ""
	}
	return p.Error.Code
}

// Decode unmarshals the payload data into T
func Decode[T any](p Payload) (T, error) {
	var out T
	if len(p.Data) == 0 {
		return out, &Error{Code: CodeBadSchema, Message: "missing data"}
	}
	dec := json.NewDecoder(bytes.NewReader(p.Data))
	if err := dec.Decode(&out); err != nil {
		return out, &Error{Code: CodeBadSchema, Message: err.Error()}
	}
	return out, nil
}
