package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

// AnthropicProvider plans through the Anthropic Messages API.
type AnthropicProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicProvider creates a provider. baseURL is optional.
func NewAnthropicProvider(apiKey, model, baseURL string, maxTokens int) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends the prompt as one user turn and concatenates the text blocks of the reply.
func (p *AnthropicProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	maxTokens := p.maxTokens
	if opts.MaxNewTokens > 0 {
		maxTokens = opts.MaxNewTokens
	}

	messages := make([]anthropic.MessageParam, 0, len(in.Messages))
	for _, m := range in.Messages {
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(p.model)),
		MaxTokens: anthropic.Int(int64(maxTokens)),
		Messages:  anthropic.F(messages),
	}
	if in.System != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(in.System)})
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(opts.Temperature))
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = anthropic.F(opts.Stop)
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("anthropic: request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsUnion().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}

	return ports.Completion{
		Text: text.String(),
		Raw:  response,
		Usage: &ports.Usage{
			PromptTokens:     int(response.Usage.InputTokens),
			CompletionTokens: int(response.Usage.OutputTokens),
			TotalTokens:      int(response.Usage.InputTokens + response.Usage.OutputTokens),
		},
	}, nil
}

var _ ports.Provider = (*AnthropicProvider)(nil)
