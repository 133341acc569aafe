package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

const defaultChatCompletionsURL = "https://api.openai.com/v1/chat/completions"

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	TopP        *float32      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Seed        *int          `json:"seed,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ChatCompletionsProvider talks to any OpenAI-compatible chat completions endpoint.
type ChatCompletionsProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	url        string
}

// NewChatCompletionsProvider creates a provider; an empty url uses the OpenAI endpoint.
func NewChatCompletionsProvider(apiKey, model, url string) *ChatCompletionsProvider {
	if url == "" {
		url = defaultChatCompletionsURL
	}
	return &ChatCompletionsProvider{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		url:        url,
	}
}

// Complete sends the prompt as a single chat completion request.
func (p *ChatCompletionsProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	req := chatRequest{Model: p.model, Stop: opts.Stop}
	if in.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: in.System})
	}
	for _, m := range in.Messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}
	if opts.TopP > 0 {
		req.TopP = &opts.TopP
	}
	if opts.MaxNewTokens > 0 {
		req.MaxTokens = &opts.MaxNewTokens
	}
	if opts.Seed != 0 {
		req.Seed = &opts.Seed
	}

	body, err := json.Marshal(req)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("chat: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("chat: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("chat: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("chat: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ports.Completion{}, fmt.Errorf("chat: unexpected status %d: %s", resp.StatusCode, truncate(string(raw), 256))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ports.Completion{}, fmt.Errorf("chat: failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return ports.Completion{}, fmt.Errorf("chat: %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return ports.Completion{}, fmt.Errorf("chat: response has no choices")
	}

	completion := ports.Completion{Text: parsed.Choices[0].Message.Content, Raw: parsed}
	if parsed.Usage != nil {
		completion.Usage = &ports.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return completion, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ ports.Provider = (*ChatCompletionsProvider)(nil)
