package reasoner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic provider. Extra request options
// are appended after the API key, so they can override the base URL in tests.
func NewAnthropicProvider(apiKey, model string, opts ...option.RequestOption) *AnthropicProvider {
	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicProvider{client: anthropic.NewClient(options...), model: model}
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) params(c Completion) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(c.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(c.Prompt)),
		},
		Temperature: anthropic.Float(c.Temperature),
	}
	if c.TopP > 0 {
		params.TopP = anthropic.Float(c.TopP)
	}
	if c.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.System}}
	}
	return params
}

// Complete sends one user turn with a system prompt.
func (p *AnthropicProvider) Complete(ctx context.Context, c Completion) (string, error) {
	msg, err := p.client.Messages.New(ctx, p.params(c))
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("anthropic: no text content")
	}
	return b.String(), nil
}

// Stream emits text deltas from a streamed message.
func (p *AnthropicProvider) Stream(ctx context.Context, c Completion, emit func(string) error) error {
	stream := p.client.Messages.NewStreaming(ctx, p.params(c))
	defer stream.Close()

	for stream.Next() {
		ev, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		if err := emit(delta.Text); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}
