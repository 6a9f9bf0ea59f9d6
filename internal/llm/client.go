// Package llm provides the model clients used by the extraction pipeline:
// provider adapters, a bounded-retry wrapper, and JSON extraction/repair
// for the unreliable output the pipeline has to tolerate.
package llm

import (
	"context"
	"fmt"

	"github.com/mgirard/keepsake/internal/config"
)

// Options tunes a single completion call.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Response holds the result of an LLM completion.
type Response struct {
	Content      string
	FinishReason string // provider-normalized: "stop", "max_tokens"
	Provider     string
	TokensUsed   int
}

// Truncated reports whether the response was cut off at the token limit.
// Truncated content is incomplete, not malformed, and is never repaired.
func (r *Response) Truncated() bool {
	return r.FinishReason == "max_tokens"
}

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, system, user string, opts Options) (*Response, error)
}

// NewClient creates an LLM client based on the config provider setting.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAI(cfg.OpenAIKey, model), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
