package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/veritas/internal/util"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

// AnthropicProvider calls the Claude Messages API
type AnthropicProvider struct {
	client sdk.Client
	config Config
}

// NewAnthropicProvider creates a provider; the SDK's own retries are off
// because ResilientProvider owns retrying.
func NewAnthropicProvider(config Config) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, eris.New("anthropic: API key is required (set ANTHROPIC_API_KEY)")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{
			Transport: util.NewTransport(config.HTTPProxy, config.HTTPSProxy, config.NoProxy, false),
		}),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{client: sdk.NewClient(opts...), config: config}, nil
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsAvailable lists one model to check the key and endpoint
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	if _, err := p.client.Models.List(ctx, sdk.ModelListParams{Limit: sdk.Int(1)}); err != nil {
		zap.L().Warn("anthropic availability check failed", zap.Error(err))
		return false
	}
	return true
}

// Complete sends the prompt pair as one user turn with a system block
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	if model == "" {
		model = defaultAnthropicModel
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.timeout(30*time.Second))
	defer cancel()

	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   int64(p.config.maxTokens(req)),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Temperature: sdk.Float(p.config.temperature(req)),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return nil, eris.Errorf("anthropic: no text in reply (stop reason %q)", msg.StopReason)
	}
	if msg.StopReason == sdk.StopReasonMaxTokens {
		zap.L().Debug("anthropic reply truncated at max tokens", zap.String("model", string(msg.Model)))
	}

	return &CompletionResponse{
		Text:       strings.TrimSpace(strings.Join(parts, "")),
		Model:      string(msg.Model),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}
