package llm

import (
	"strings"

	"github.com/rotisserie/eris"
)

type constructor func(Config) (Provider, error)

func wrap[P Provider](fn func(Config) (P, error)) constructor {
	return func(c Config) (Provider, error) {
		p, err := fn(c)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// providers maps every accepted provider name, aliases included
var providers = map[string]constructor{
	"openai":    wrap(NewOpenAIProvider),
	"anthropic": wrap(NewAnthropicProvider),
	"claude":    wrap(NewAnthropicProvider),
	"ollama":    wrap(NewOllamaProvider),
	"llamacpp":  wrap(NewLlamaCppProvider),
	"llama.cpp": wrap(NewLlamaCppProvider),
}

// NewProvider builds the provider named by config.Provider. An empty name
// returns a nil Provider and no error: skills stay off and only the
// heuristic tools run.
func NewProvider(config Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(config.Provider))
	if name == "" {
		return nil, nil
	}
	build, ok := providers[name]
	if !ok {
		return nil, eris.Errorf("unknown LLM provider %q (supported: %s)", config.Provider, strings.Join(Supported(), ", "))
	}
	return build(config)
}

// Supported lists the canonical provider names
func Supported() []string {
	return []string{"anthropic", "llamacpp", "ollama", "openai"}
}
