// Package skill calls model-backed routines and forces their replies into
// the guard payload shape.
package skill

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/llm"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/policy"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ID names a skill
type ID string

const (
	ClaimNormalizer      ID = "claim_normalizer"
	ClaimDecomposer      ID = "claim_decomposer"
	EvidenceQueryPlanner ID = "evidence_query_planner"
	ToolRequestComposer  ID = "tool_request_composer"
	EvidenceFilter       ID = "evidence_filter"
	EvidenceStanceScorer ID = "evidence_stance_scorer"
	VerdictAggregator    ID = "verdict_aggregator"
	ResponseComposer     ID = "response_composer"
)

const systemPrompt = "You MUST output STRICT JSON only.\n" +
	"Return exactly one JSON object with top-level keys: status, data, error, rollback.\n" +
	"Allowed status: ok|error|retry. Allowed rollback: none|state|tools. No markdown. No prose."

// errProviderPanic marks a completion that panicked instead of returning
var errProviderPanic = errors.New("model provider panicked")

const retryAddendum = "\n\nIMPORTANT: prior output failed schema/JSON checks. Output one JSON object only."

//go:embed prompts/*.md
var prompts embed.FS

// Instructions returns the embedded instructions of a skill
func Instructions(id ID) (string, error) {
	b, err := prompts.ReadFile("prompts/" + string(id) + ".md")
	if err != nil {
		return "", eris.Errorf("unknown skill %q", id)
	}
	return string(b), nil
}

// Options tunes skill invocation
type Options struct {
	Retries     int           // Re-prompts after the first attempt
	Timeout     time.Duration // Per completion call
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultOptions returns the invocation defaults
func DefaultOptions() Options {
	return Options{
		Retries:   2,
		Timeout:   30 * time.Second,
		MaxTokens: 512,
	}
}

// Invoker runs skills through a completion provider
type Invoker struct {
	provider llm.Provider
	policy   *policy.Policy
	opts     Options
	logger   *zap.Logger
}

// NewInvoker creates an invoker. A nil provider makes every call fail with
// NO_PROVIDER so the caller falls back to tools.
func NewInvoker(provider llm.Provider, pol *policy.Policy, opts Options) *Invoker {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	return &Invoker{
		provider: provider,
		policy:   pol,
		opts:     opts,
		logger:   zap.L().Named("skill"),
	}
}

// Available reports whether a provider is configured
func (iv *Invoker) Available() bool {
	return iv.provider != nil
}

// Invoke calls skill id for phase with input serialized as JSON.
// It always returns a payload that passes guard.Validate.
func (iv *Invoker) Invoke(ctx context.Context, phase model.Phase, id ID, input any) guard.Payload {
	if !iv.policy.Allowed(phase, string(id), policy.KindSkill) {
		return guard.Fail(guard.CodeScope, fmt.Sprintf("skill %s not allowed in %s", id, phase), guard.RollbackState)
	}
	if iv.provider == nil {
		return guard.Fail(guard.CodeNoProvider, "no model provider configured", guard.RollbackState)
	}

	instructions, err := Instructions(id)
	if err != nil {
		return guard.Fail(guard.CodeScope, err.Error(), guard.RollbackState)
	}
	in, err := json.Marshal(input)
	if err != nil {
		return guard.Fail(guard.CodeBadArgs, err.Error(), guard.RollbackState)
	}
	user := instructions + "\n\nINPUT:\n" + string(in)
	temp := iv.opts.Temperature

	lastErr := "no attempt made"
	for attempt := 0; attempt <= iv.opts.Retries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err().Error()
			break
		}

		prompt := user
		if attempt > 0 {
			prompt += retryAddendum
		}

		callCtx, cancel := context.WithTimeout(ctx, iv.opts.Timeout)
		resp, err := iv.complete(callCtx, llm.CompletionRequest{
			System:      systemPrompt,
			Prompt:      prompt,
			Model:       iv.opts.Model,
			MaxTokens:   iv.opts.MaxTokens,
			Temperature: &temp,
		})
		cancel()
		if errors.Is(err, errProviderPanic) {
			lastErr = err.Error()
			iv.logger.Error("skill provider panicked", zap.String("skill", string(id)), zap.Error(err))
			break
		}
		if err != nil {
			lastErr = err.Error()
			iv.logger.Warn("skill call failed",
				zap.String("skill", string(id)), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		obj := ExtractObject(resp.Text)
		if obj == nil {
			lastErr = guard.CodeBadJSON + ": no valid JSON object found"
			iv.logger.Debug("skill output not JSON", zap.String("skill", string(id)), zap.Int("attempt", attempt+1))
			continue
		}

		p := guard.Sanitize(obj)
		if ok, reason := guard.Validate(p); !ok {
			lastErr = guard.CodeBadSchema + ": " + reason
			iv.logger.Debug("skill output failed schema", zap.String("skill", string(id)), zap.String("reason", reason))
			continue
		}
		return p
	}

	return guard.Fail(guard.CodeBadOutput, lastErr, guard.RollbackState)
}

func (iv *Invoker) complete(ctx context.Context, req llm.CompletionRequest) (resp *llm.CompletionResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("%w: %v", errProviderPanic, r)
		}
	}()
	resp, err = iv.provider.Complete(ctx, req)
	if err == nil && resp == nil {
		err = eris.New("model provider returned no reply")
	}
	return resp, err
}
