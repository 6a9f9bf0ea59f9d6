package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI calls the Chat Completions API through the official SDK.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a new OpenAI API client.
func NewOpenAI(apiKey, model string) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete sends a system+user prompt pair to the Chat Completions API.
func (o *OpenAI) Complete(ctx context.Context, system, user string, opts Options) (*Response, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: messages,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) && rateLimitStatus(apierr.StatusCode) {
			return nil, fmt.Errorf("openai status %d: %w", apierr.StatusCode, ErrRateLimited)
		}
		return nil, fmt.Errorf("openai api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api: empty choices")
	}

	choice := resp.Choices[0]
	finish := "stop"
	if choice.FinishReason == "length" {
		finish = "max_tokens"
	}

	return &Response{
		Content:      choice.Message.Content,
		FinishReason: finish,
		Provider:     "openai",
		TokensUsed:   int(resp.Usage.TotalTokens),
	}, nil
}
