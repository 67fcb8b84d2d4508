package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// OllamaProvider runs skills against a local Ollama daemon through /api/chat
type OllamaProvider struct {
	endpoint *jsonEndpoint
	config   Config
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// NewOllamaProvider creates a provider for an Ollama daemon (default localhost:11434)
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	return &OllamaProvider{
		endpoint: newJSONEndpoint("ollama", config.BaseURL, "http://localhost:11434", config),
		config:   config,
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// IsAvailable lists local models to check the daemon is up
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	return p.endpoint.probe(ctx, "/api/tags")
}

// Complete asks for a single non-streamed chat reply constrained to JSON
func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	if model == "" {
		return nil, eris.New("ollama: model must be specified (e.g. llama3.1:8b, mistral)")
	}

	messages := make([]ollamaMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.Prompt})

	var resp ollamaChatResponse
	err := p.endpoint.post(ctx, "/api/chat", ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Format:   "json",
		Options: map[string]any{
			"temperature": p.config.temperature(req),
			"num_predict": p.config.maxTokens(req),
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Done {
		return nil, eris.New("ollama: reply was not complete")
	}

	text := strings.TrimSpace(resp.Message.Content)
	used := resp.PromptEvalCount + resp.EvalCount
	if used == 0 {
		// rough estimate when the model does not report counts
		used = (len(req.System) + len(req.Prompt) + len(text)) / 4
	}

	return &CompletionResponse{
		Text:       text,
		Model:      resp.Model,
		TokensUsed: used,
	}, nil
}
