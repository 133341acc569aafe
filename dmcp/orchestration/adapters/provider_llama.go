//go:build llama && !no_llama

package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

// LlamaProvider runs planning prompts against a pool of local GGUF models.
type LlamaProvider struct {
	config LlamaConfig
	pool   chan *llama.LLama
	logger zerolog.Logger
}

// NewLlamaProvider loads PoolSize model instances.
func NewLlamaProvider(cfg LlamaConfig, logger zerolog.Logger) (*LlamaProvider, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	p := &LlamaProvider{
		config: cfg,
		pool:   make(chan *llama.LLama, cfg.PoolSize),
		logger: logger.With().Str("component", "llama_provider").Str("model_path", cfg.ModelPath).Logger(),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		model, err := llama.New(cfg.ModelPath, llama.SetContext(cfg.ContextSize), llama.SetGPULayers(cfg.GPULayers))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to load model instance %d: %w", i, err)
		}
		p.pool <- model
	}

	p.logger.Info().Int("pool_size", cfg.PoolSize).Msg("Llama provider initialized")
	return p, nil
}

// Complete flattens the prompt and runs a single prediction on a pooled model.
func (p *LlamaProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	borrowCtx, cancel := context.WithTimeout(ctx, p.config.BorrowTimeout)
	defer cancel()

	var model *llama.LLama
	select {
	case model = <-p.pool:
	case <-borrowCtx.Done():
		return ports.Completion{}, fmt.Errorf("llama: borrow timeout after %v: %w", p.config.BorrowTimeout, borrowCtx.Err())
	}

	tokens := p.config.MaxTokens
	if opts.MaxNewTokens > 0 {
		tokens = opts.MaxNewTokens
	}
	temperature := p.config.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := model.Predict(flattenPrompt(in),
			llama.SetTemperature(temperature),
			llama.SetTopP(p.config.TopP),
			llama.SetTokens(tokens),
		)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		p.pool <- model
		if r.err != nil {
			return ports.Completion{}, fmt.Errorf("llama: prediction failed: %w", r.err)
		}
		return ports.Completion{Text: r.text}, nil
	case <-ctx.Done():
		// The prediction cannot be interrupted; the model returns to the pool once it finishes.
		go func() {
			<-done
			p.pool <- model
		}()
		return ports.Completion{}, ctx.Err()
	}
}

// Close frees every pooled model.
func (p *LlamaProvider) Close() error {
	for {
		select {
		case model := <-p.pool:
			model.Free()
		default:
			return nil
		}
	}
}

func flattenPrompt(in ports.PromptInput) string {
	var b strings.Builder
	if in.System != "" {
		b.WriteString(in.System)
		b.WriteString("\n\n")
	}
	for _, m := range in.Messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant: ")
	return b.String()
}

var _ ports.Provider = (*LlamaProvider)(nil)
