package plan

import (
	"maps"
	"regexp"
	"slices"
	"strings"
)

// Kind tags the variant of an ExecutionPlan.
type Kind string

const (
	KindSingleTool    Kind = "single_tool"
	KindToolChain     Kind = "tool_chain"
	KindClarification Kind = "clarification"
)

// Sources recorded on plans.
const (
	SourceRemote        = "remote"
	SourceDeterministic = "deterministic"
)

// tokenPattern matches a placeholder such as {{reference_number}}.
var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Step is one tool invocation inside a plan.
type Step struct {
	ToolName      string              `json:"tool_name"`
	Parameters    map[string]any      `json:"parameters"`
	OutputAliases map[string][]string `json:"output_aliases,omitempty"` // output field -> extra context keys
	Required      bool                `json:"required"`
}

// Clarification is returned instead of tool calls when the query is too vague.
type Clarification struct {
	Question    string   `json:"question"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ExecutionPlan is the planner's decision for one query.
type ExecutionPlan struct {
	Kind          Kind           `json:"kind"`
	Steps         []Step         `json:"steps,omitempty"`
	Clarification *Clarification `json:"clarification,omitempty"`
	Confidence    float64        `json:"confidence"`
	Reasoning     string         `json:"reasoning"`
	Source        string         `json:"source,omitempty"`
	Degraded      bool           `json:"degraded,omitempty"`
}

// NewSingleTool returns a plan calling one tool with literal parameters.
func NewSingleTool(tool string, params map[string]any, confidence float64, reasoning string) *ExecutionPlan {
	return &ExecutionPlan{
		Kind:       KindSingleTool,
		Steps:      []Step{{ToolName: tool, Parameters: params, Required: true}},
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}

// NewToolChain returns a plan running steps in order.
func NewToolChain(steps []Step, confidence float64, reasoning string) *ExecutionPlan {
	return &ExecutionPlan{
		Kind:       KindToolChain,
		Steps:      steps,
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}

// NewClarification returns a plan asking the caller for more detail.
func NewClarification(question string, suggestions []string, confidence float64, reasoning string) *ExecutionPlan {
	return &ExecutionPlan{
		Kind:          KindClarification,
		Clarification: &Clarification{Question: question, Suggestions: suggestions},
		Confidence:    confidence,
		Reasoning:     reasoning,
	}
}

// Validate checks the structural invariants of the plan. has reports whether a
// tool name exists in the catalog; a nil has skips the existence check.
func (p *ExecutionPlan) Validate(has func(string) bool) error {
	if p == nil {
		return invalid("plan is nil")
	}
	if !(p.Confidence >= 0 && p.Confidence <= 1) {
		return invalid("confidence %.3f is outside [0,1]", p.Confidence)
	}

	switch p.Kind {
	case KindSingleTool:
		if len(p.Steps) != 1 {
			return invalid("single_tool plan has %d steps", len(p.Steps))
		}
	case KindToolChain:
		if len(p.Steps) == 0 {
			return invalid("tool_chain plan has no steps")
		}
	case KindClarification:
		if p.Clarification == nil || strings.TrimSpace(p.Clarification.Question) == "" {
			return invalid("clarification plan has no question")
		}
		if len(p.Steps) > 0 {
			return invalid("clarification plan must not carry steps")
		}
		return nil
	default:
		return invalid("unknown plan kind %q", p.Kind)
	}

	for i, step := range p.Steps {
		if strings.TrimSpace(step.ToolName) == "" {
			return invalid("step %d has no tool name", i)
		}
		if has != nil && !has(step.ToolName) {
			return invalid("step %d references unknown tool %q", i, step.ToolName)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *ExecutionPlan) Clone() *ExecutionPlan {
	if p == nil {
		return nil
	}
	out := *p
	if p.Steps != nil {
		out.Steps = make([]Step, len(p.Steps))
		for i, s := range p.Steps {
			out.Steps[i] = s.Clone()
		}
	}
	if p.Clarification != nil {
		c := *p.Clarification
		c.Suggestions = slices.Clone(p.Clarification.Suggestions)
		out.Clarification = &c
	}
	return &out
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	if s.Parameters != nil {
		out.Parameters = CloneValue(s.Parameters).(map[string]any)
	}
	if s.OutputAliases != nil {
		out.OutputAliases = make(map[string][]string, len(s.OutputAliases))
		for field, keys := range s.OutputAliases {
			out.OutputAliases[field] = slices.Clone(keys)
		}
	}
	return out
}

// Placeholders lists the distinct placeholder names referenced by all steps,
// in first-seen order.
func (p *ExecutionPlan) Placeholders() []string {
	var names []string
	seen := make(map[string]bool)
	for _, s := range p.Steps {
		for _, key := range slices.Sorted(maps.Keys(s.Parameters)) {
			walkStrings(s.Parameters[key], func(str string) {
				for _, name := range Tokens(str) {
					if !seen[name] {
						seen[name] = true
						names = append(names, name)
					}
				}
			})
		}
	}
	return names
}

// Tokens returns the placeholder names embedded in s.
func Tokens(s string) []string {
	matches := tokenPattern.FindAllStringSubmatch(s, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// WholeToken reports whether s consists of exactly one placeholder and returns its name.
func WholeToken(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	loc := tokenPattern.FindStringSubmatchIndex(trimmed)
	if loc == nil || loc[0] != 0 || loc[1] != len(trimmed) {
		return "", false
	}
	return trimmed[loc[2]:loc[3]], true
}

// ReplaceTokens substitutes every placeholder in s with repl(name).
func ReplaceTokens(s string, repl func(name string) string) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		return repl(tokenPattern.FindStringSubmatch(match)[1])
	})
}

// CloneValue deep-copies maps and slices decoded from JSON.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneValue(val)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, val := range t {
			out[i] = CloneValue(val).(map[string]any)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

func walkStrings(v any, fn func(string)) {
	switch t := v.(type) {
	case string:
		fn(t)
	case map[string]any:
		for _, key := range slices.Sorted(maps.Keys(t)) {
			walkStrings(t[key], fn)
		}
	case []any:
		for _, val := range t {
			walkStrings(val, fn)
		}
	case []string:
		for _, val := range t {
			fn(val)
		}
	case map[string]string:
		for _, key := range slices.Sorted(maps.Keys(t)) {
			fn(t[key])
		}
	case []map[string]any:
		for _, val := range t {
			walkStrings(val, fn)
		}
	}
}
