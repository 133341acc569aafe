package catalog

import (
	"maps"
	"slices"
	"strings"

	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

// Parameter value normalizations applied by the executor before invocation.
const (
	NormalizeUpper = "upper"
	NormalizeLower = "lower"
	NormalizeTrim  = "trim"
)

// StageTagPrefix marks the business stage of a tool, e.g. "stage:po".
const StageTagPrefix = "stage:"

// ParamSpec describes one input parameter.
type ParamSpec struct {
	Type        string   `json:"type" validate:"omitempty,oneof=string integer number boolean object array"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Normalize   string   `json:"normalize,omitempty" validate:"omitempty,oneof=upper lower trim"`
	Aliases     []string `json:"aliases,omitempty"` // alternative names callers may use
}

// Example is a sample call shown to the planner.
type Example struct {
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDescriptor is the registered description of a callable tool.
type ToolDescriptor struct {
	Name         string               `json:"name" validate:"required"`
	Description  string               `json:"description" validate:"required"`
	InputSchema  map[string]ParamSpec `json:"input_schema" validate:"dive"`
	OutputSchema map[string]string    `json:"output_schema,omitempty"`
	Tags         []string             `json:"tags,omitempty"`
	Examples     []Example            `json:"examples,omitempty"`
	Tool         ports.Tool           `json:"-" validate:"required"`
}

// Stage returns the value of the first "stage:" tag, or "".
func (d ToolDescriptor) Stage() string {
	for _, tag := range d.Tags {
		if stage, ok := strings.CutPrefix(tag, StageTagPrefix); ok {
			return strings.ToLower(stage)
		}
	}
	return ""
}

// HasTag reports whether the descriptor carries tag.
func (d ToolDescriptor) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

// ParamNames returns required parameters first, each group sorted by name.
func (d ToolDescriptor) ParamNames() []string {
	names := slices.Collect(maps.Keys(d.InputSchema))
	slices.SortFunc(names, func(a, b string) int {
		ra, rb := d.InputSchema[a].Required, d.InputSchema[b].Required
		if ra != rb {
			if ra {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})
	return names
}

func (d ToolDescriptor) clone() ToolDescriptor {
	out := d
	out.InputSchema = make(map[string]ParamSpec, len(d.InputSchema))
	for name, spec := range d.InputSchema {
		spec.Aliases = slices.Clone(spec.Aliases)
		out.InputSchema[name] = spec
	}
	out.OutputSchema = maps.Clone(d.OutputSchema)
	out.Tags = slices.Clone(d.Tags)
	out.Examples = make([]Example, len(d.Examples))
	for i, ex := range d.Examples {
		out.Examples[i] = Example{Description: ex.Description, Parameters: maps.Clone(ex.Parameters)}
	}
	return out
}
