package orchestrationports

import (
	"context"
	"encoding/json"
)

// Tool is the runtime behind a catalog entry. Args is a JSON object of named
// parameters; the result is a mapping, a sequence of mappings, or any value
// that marshals to one.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// ToolFunc adapts a plain function to the Tool interface.
type ToolFunc struct {
	ToolName string
	Fn       func(ctx context.Context, args json.RawMessage) (any, error)
}

func (t ToolFunc) Name() string { return t.ToolName }

func (t ToolFunc) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	return t.Fn(ctx, args)
}

var _ Tool = ToolFunc{}
