package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/veritas/internal/util"
)

// localTimeout is the default for self-hosted servers, which load models lazily
const localTimeout = 60 * time.Second

// StatusError is a non-200 reply from a self-hosted model server
type StatusError struct {
	Provider string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: API error (%d): %s", e.Provider, e.Code, e.Message)
}

// jsonEndpoint is a small JSON-over-HTTP client shared by the self-hosted
// providers (Ollama, llama.cpp).
type jsonEndpoint struct {
	name    string
	baseURL string
	client  *http.Client
}

func newJSONEndpoint(name, baseURL, fallbackURL string, config Config) *jsonEndpoint {
	if baseURL == "" {
		baseURL = fallbackURL
	}
	return &jsonEndpoint{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout:   config.timeout(localTimeout),
			Transport: util.NewTransport(config.HTTPProxy, config.HTTPSProxy, config.NoProxy, false),
		},
	}
}

// probe reports whether GET path answers 200
func (e *jsonEndpoint) probe(ctx context.Context, path string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		zap.L().Warn("llm endpoint unreachable",
			zap.String("provider", e.name),
			zap.String("base_url", e.baseURL),
			zap.Error(err))
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("llm endpoint not ready",
			zap.String("provider", e.name),
			zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

// post sends in as JSON to path and decodes a 200 reply into out.
// Non-200 replies become errors carrying the server's "error" field when
// it has one, the raw body otherwise.
func (e *jsonEndpoint) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return eris.Wrapf(err, "%s: marshal request", e.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrapf(err, "%s: create request", e.name)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s: execute request", e.name)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "%s: read response", e.name)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Provider: e.name, Code: resp.StatusCode, Message: errorMessage(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return eris.Wrapf(err, "%s: decode response", e.name)
	}
	return nil
}

// errorMessage extracts {"error": "..."} or {"error": {"message": "..."}}
func errorMessage(raw []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &flat) == nil && flat.Error != "" {
		return flat.Error
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
