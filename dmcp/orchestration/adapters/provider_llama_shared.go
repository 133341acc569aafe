package adapters

import (
	"errors"
	"time"
)

// ErrLlamaUnavailable is returned by the local provider in builds without the "llama" tag.
var ErrLlamaUnavailable = errors.New("llama.cpp not available in this build")

// LlamaConfig configures the local GGUF planning provider.
type LlamaConfig struct {
	ModelPath     string
	ContextSize   int
	GPULayers     int
	PoolSize      int
	MaxTokens     int
	Temperature   float32
	TopP          float32
	BorrowTimeout time.Duration
}

func (c *LlamaConfig) normalize() error {
	if c.ModelPath == "" {
		return errors.New("llama: model path is required")
	}
	if c.ContextSize <= 0 {
		c.ContextSize = 4096
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 1
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.BorrowTimeout <= 0 {
		c.BorrowTimeout = 5 * time.Second
	}
	return nil
}
