package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
)

const defaultClarification = "Could you describe in more detail what you need?"

// reply is the structured document the remote backend is asked to return.
type reply struct {
	Strategy             string         `json:"strategy" jsonschema:"enum=single_tool,enum=tool_chain,enum=clarification"`
	Reasoning            string         `json:"reasoning,omitempty"`
	Confidence           float64        `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	ToolName             string         `json:"tool_name,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	ToolChain            []replyStep    `json:"tool_chain,omitempty"`
	ClarificationMessage string         `json:"clarification_message,omitempty"`
	Suggestions          []string       `json:"suggestions,omitempty"`
}

type replyStep struct {
	ToolName      string               `json:"tool_name" jsonschema:"minLength=1"`
	Parameters    map[string]any       `json:"parameters,omitempty"`
	OutputMapping map[string]aliasList `json:"output_mapping,omitempty"`
	Required      *bool                `json:"required,omitempty"`
}

// aliasList accepts either "key" or ["key", ...] for an output mapping entry.
type aliasList []string

func (a *aliasList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*a = aliasList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("output mapping must be a string or a list of strings: %w", err)
	}
	*a = many
	return nil
}

func (aliasList) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
	}
}

var (
	replySchemaOnce sync.Once
	replySchema     *gojsonschema.Schema
	replySchemaErr  error
)

// compiledReplySchema reflects the reply struct into a JSON schema once.
func compiledReplySchema() (*gojsonschema.Schema, error) {
	replySchemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			Anonymous:                 true,
			DoNotReference:            true,
			ExpandedStruct:            true,
			AllowAdditionalProperties: true,
		}
		s := r.Reflect(&reply{})
		s.Version = "" // let gojsonschema pick its draft
		raw, err := json.Marshal(s)
		if err != nil {
			replySchemaErr = err
			return
		}
		replySchema, replySchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	})
	return replySchema, replySchemaErr
}

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	lineCommentPattern   = regexp.MustCompile(`(?m)^\s*//.*$`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyPattern   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// extractJSON finds the reply object in free-form model output: the whole
// text, a fenced block, the first balanced object, then a repaired candidate.
func extractJSON(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty reply")
	}
	if json.Valid([]byte(text)) {
		return []byte(text), nil
	}

	var candidates []string
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if obj, ok := firstObject(text); ok {
		candidates = append(candidates, obj)
	}
	for _, c := range candidates {
		if json.Valid([]byte(c)) {
			return []byte(c), nil
		}
	}
	for _, c := range candidates {
		if fixed := fixJSON(c); json.Valid([]byte(fixed)) {
			return []byte(fixed), nil
		}
	}
	return nil, errors.New("no JSON object found in reply")
}

// firstObject returns the first brace-balanced {...} span, skipping braces in strings.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	var quote byte
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// fixJSON repairs common formatting slips: comment lines, trailing commas,
// unquoted keys and single quotes.
func fixJSON(s string) string {
	s = lineCommentPattern.ReplaceAllString(s, "")
	s = trailingCommaPattern.ReplaceAllString(s, "$1")
	s = unquotedKeyPattern.ReplaceAllString(s, `$1"$2":`)
	return convertSingleQuotes(s)
}

// convertSingleQuotes rewrites single-quoted strings as double-quoted ones.
// Apostrophes inside double-quoted strings are left alone.
func convertSingleQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch quote {
		case 0:
			if c == '\'' {
				quote = c
				b.WriteByte('"')
				continue
			}
			if c == '"' {
				quote = c
			}
		case '"':
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
				continue
			}
			if c == '"' {
				quote = 0
			}
		case '\'':
			switch {
			case c == '\\' && i+1 < len(s) && s[i+1] == '\'':
				b.WriteByte('\'')
				i++
				continue
			case c == '\\' && i+1 < len(s):
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
				continue
			case c == '\'':
				quote = 0
				b.WriteByte('"')
				continue
			case c == '"':
				b.WriteString(`\"`)
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// parseReply turns raw model output into a validated plan.
func parseReply(text string, summary catalog.Summary) (*plan.ExecutionPlan, []byte, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, nil, &plan.InvalidPlanError{Reason: "unparsable reply", Err: err}
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, &plan.InvalidPlanError{Reason: "reply is not a JSON object", Err: err}
	}
	for k, v := range doc {
		if v == nil {
			delete(doc, k)
		}
	}
	cleaned, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, &plan.InvalidPlanError{Reason: "reply could not be re-encoded", Err: err}
	}

	schema, err := compiledReplySchema()
	if err != nil {
		return nil, nil, fmt.Errorf("reply schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(cleaned))
	if err != nil {
		return nil, nil, &plan.InvalidPlanError{Reason: "reply validation failed", Err: err}
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			violations = append(violations, e.String())
		}
		return nil, nil, &plan.InvalidPlanError{Reason: "reply violates schema: " + strings.Join(violations, "; ")}
	}

	var r reply
	if err := json.Unmarshal(cleaned, &r); err != nil {
		return nil, nil, &plan.InvalidPlanError{Reason: "reply has unexpected shape", Err: err}
	}

	p := r.toPlan()
	if err := p.Validate(summary.Has); err != nil {
		return nil, nil, err
	}
	return p, cleaned, nil
}

func (r reply) toPlan() *plan.ExecutionPlan {
	var p *plan.ExecutionPlan
	switch plan.Kind(r.Strategy) {
	case plan.KindSingleTool:
		name, params := r.ToolName, r.Parameters
		if name == "" && len(r.ToolChain) == 1 {
			name, params = r.ToolChain[0].ToolName, r.ToolChain[0].Parameters
		}
		if params == nil {
			params = map[string]any{}
		}
		p = plan.NewSingleTool(name, params, r.Confidence, r.Reasoning)
	case plan.KindToolChain:
		steps := make([]plan.Step, len(r.ToolChain))
		for i, s := range r.ToolChain {
			steps[i] = s.toStep()
		}
		p = plan.NewToolChain(steps, r.Confidence, r.Reasoning)
	default:
		question := strings.TrimSpace(r.ClarificationMessage)
		if question == "" {
			question = defaultClarification
		}
		p = plan.NewClarification(question, r.Suggestions, r.Confidence, r.Reasoning)
	}
	p.Source = plan.SourceRemote
	return p
}

func (s replyStep) toStep() plan.Step {
	step := plan.Step{
		ToolName:   s.ToolName,
		Parameters: s.Parameters,
		Required:   s.Required == nil || *s.Required,
	}
	if step.Parameters == nil {
		step.Parameters = map[string]any{}
	}
	for field, keys := range s.OutputMapping {
		if step.OutputAliases == nil {
			step.OutputAliases = make(map[string][]string, len(s.OutputMapping))
		}
		step.OutputAliases[field] = []string(keys)
	}
	return step
}
