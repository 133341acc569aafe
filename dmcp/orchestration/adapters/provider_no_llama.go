//go:build !llama || no_llama

package adapters

import (
	"context"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

// LlamaProvider is unavailable without the "llama" build tag.
type LlamaProvider struct{}

// NewLlamaProvider always fails with ErrLlamaUnavailable in this build.
func NewLlamaProvider(cfg LlamaConfig, logger zerolog.Logger) (*LlamaProvider, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return nil, ErrLlamaUnavailable
}

func (p *LlamaProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	return ports.Completion{}, ErrLlamaUnavailable
}

func (p *LlamaProvider) Close() error { return nil }

var _ ports.Provider = (*LlamaProvider)(nil)
