package llm

import (
	"context"
	"strings"
)

// LlamaCppProvider talks to a llama.cpp server through its /completion endpoint
type LlamaCppProvider struct {
	endpoint *jsonEndpoint
	config   Config
}

type llamaCppRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	NPredict    int     `json:"n_predict"`
}

type llamaCppResponse struct {
	Content         string `json:"content"`
	Model           string `json:"model,omitempty"`
	TokensPredicted int    `json:"tokens_predicted,omitempty"`
	TokensEvaluated int    `json:"tokens_evaluated,omitempty"`
}

// NewLlamaCppProvider creates a provider for a local llama.cpp server
func NewLlamaCppProvider(config Config) (*LlamaCppProvider, error) {
	return &LlamaCppProvider{
		endpoint: newJSONEndpoint("llamacpp", config.BaseURL, "http://127.0.0.1:8080", config),
		config:   config,
	}, nil
}

// Name returns the provider name
func (p *LlamaCppProvider) Name() string {
	return "llamacpp"
}

// IsAvailable probes the server health endpoint
func (p *LlamaCppProvider) IsAvailable(ctx context.Context) bool {
	return p.endpoint.probe(ctx, "/health")
}

// Complete sends system and user text as a single raw prompt
func (p *LlamaCppProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}

	var resp llamaCppResponse
	err := p.endpoint.post(ctx, "/completion", llamaCppRequest{
		Prompt:      prompt,
		Temperature: p.config.temperature(req),
		NPredict:    p.config.maxTokens(req),
	}, &resp)
	if err != nil {
		return nil, err
	}

	model := resp.Model
	if model == "" {
		model = p.config.Model
	}
	return &CompletionResponse{
		Text:       strings.TrimSpace(resp.Content),
		Model:      model,
		TokensUsed: resp.TokensPredicted + resp.TokensEvaluated,
	}, nil
}
