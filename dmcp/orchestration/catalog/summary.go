package catalog

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

const maxSummaryExamples = 2

// ParamDigest is the planner-facing view of one parameter.
type ParamDigest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// FieldDigest is the planner-facing view of one output field.
type FieldDigest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolDigest is the planner-facing view of one tool.
type ToolDigest struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Params      []ParamDigest `json:"params"`
	Outputs     []FieldDigest `json:"outputs,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Examples    []Example     `json:"examples,omitempty"`
}

// Summary is the catalog digest handed to planners.
type Summary struct {
	Tools []ToolDigest `json:"tools"`
	Text  string       `json:"-"`
}

// Has reports whether the summary lists a tool called name.
func (s Summary) Has(name string) bool {
	return slices.ContainsFunc(s.Tools, func(t ToolDigest) bool { return t.Name == name })
}

// Names returns the tool names in summary order.
func (s Summary) Names() []string {
	names := make([]string, len(s.Tools))
	for i, t := range s.Tools {
		names[i] = t.Name
	}
	return names
}

// Summarize builds the digest of every tool in registration order.
func (c *Catalog) Summarize() Summary {
	descs := c.List()
	summary := Summary{Tools: make([]ToolDigest, 0, len(descs))}
	for _, d := range descs {
		summary.Tools = append(summary.Tools, digest(d))
	}
	summary.Text = renderSummary(summary.Tools)
	return summary
}

func digest(d ToolDescriptor) ToolDigest {
	td := ToolDigest{
		Name:        d.Name,
		Description: d.Description,
		Tags:        d.Tags,
	}
	for _, name := range d.ParamNames() {
		spec := d.InputSchema[name]
		typ := spec.Type
		if typ == "" {
			typ = "any"
		}
		td.Params = append(td.Params, ParamDigest{Name: name, Type: typ, Required: spec.Required, Description: spec.Description})
	}
	for _, field := range slices.Sorted(maps.Keys(d.OutputSchema)) {
		td.Outputs = append(td.Outputs, FieldDigest{Name: field, Description: d.OutputSchema[field]})
	}
	if len(d.Examples) > maxSummaryExamples {
		td.Examples = d.Examples[:maxSummaryExamples]
	} else {
		td.Examples = d.Examples
	}
	return td
}

func renderSummary(tools []ToolDigest) string {
	if len(tools) == 0 {
		return "No tools available."
	}

	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "\n- %s\n  Description: %s\n", t.Name, t.Description)
		if len(t.Params) > 0 {
			b.WriteString("  Input parameters:\n")
			for _, p := range t.Params {
				requirement := "Optional"
				if p.Required {
					requirement = "REQUIRED"
				}
				desc := p.Description
				if desc == "" {
					desc = "No description"
				}
				fmt.Fprintf(&b, "    * %s (%s) %s: %s\n", p.Name, p.Type, requirement, desc)
			}
		}
		if len(t.Outputs) > 0 {
			b.WriteString("  Output fields:\n")
			for _, f := range t.Outputs {
				desc := f.Description
				if desc == "" {
					desc = "No description"
				}
				fmt.Fprintf(&b, "    * %s: %s\n", f.Name, desc)
			}
		}
		if len(t.Tags) > 0 {
			fmt.Fprintf(&b, "  Tags: %s\n", strings.Join(t.Tags, ", "))
		}
		if len(t.Examples) > 0 {
			b.WriteString("  Examples:\n")
			for _, ex := range t.Examples {
				params, _ := json.Marshal(ex.Parameters)
				if ex.Description != "" {
					fmt.Fprintf(&b, "    * %s: %s\n", ex.Description, params)
				} else {
					fmt.Fprintf(&b, "    * %s\n", params)
				}
			}
		}
	}
	return b.String()
}
