package planner

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

var (
	defaultRulesOnce sync.Once
	defaultRules     *RuleSet
	defaultRulesErr  error
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RuleSet is the ordered matcher set of the deterministic planner.
type RuleSet struct {
	Rules    []Rule       `yaml:"rules" validate:"dive"`
	Fallback FallbackRule `yaml:"fallback"`
}

// Rule selects a pre-authored plan when every group matches the query.
type Rule struct {
	Name        string         `yaml:"name" validate:"required"`
	Reasoning   string         `yaml:"reasoning"`
	Confidence  float64        `yaml:"confidence" validate:"gte=0,lte=1"`
	When        []MatchGroup   `yaml:"when" validate:"min=1,dive"`
	Identifiers []string       `yaml:"identifiers" validate:"dive,oneof=po pr receipt"`
	Kind        plan.Kind      `yaml:"kind" validate:"oneof=single_tool tool_chain"`
	Steps       []StepTemplate `yaml:"steps" validate:"min=1,dive"`
}

// MatchGroup matches when any of its words, phrases or identifier kinds is
// present in the query. The groups of a rule are combined with AND.
type MatchGroup struct {
	Words       []string `yaml:"words"`
	Phrases     []string `yaml:"phrases"`
	Identifiers []string `yaml:"identifiers" validate:"dive,oneof=po pr receipt"`
}

// StepTemplate is one step of a rule's plan.
type StepTemplate struct {
	Tool       string              `yaml:"tool" validate:"required"`
	Parameters map[string]any      `yaml:"parameters"`
	Outputs    map[string][]string `yaml:"outputs"`
	Optional   bool                `yaml:"optional"`
}

// FallbackRule is the catch-all clarification.
type FallbackRule struct {
	Question    string   `yaml:"question" validate:"required"`
	Suggestions []string `yaml:"suggestions"`
	Confidence  float64  `yaml:"confidence" validate:"gte=0,lte=1"`
	Reasoning   string   `yaml:"reasoning"`
}

// DefaultRules returns the embedded rule set. It is parsed once.
func DefaultRules() (*RuleSet, error) {
	defaultRulesOnce.Do(func() {
		defaultRules, defaultRulesErr = LoadRules(bytes.NewReader(defaultRulesYAML))
	})
	return defaultRules, defaultRulesErr
}

// LoadRules parses and validates a YAML rule set.
func LoadRules(r io.Reader) (*RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("failed to parse planner rules: %w", err)
	}
	if err := validate.Struct(&rs); err != nil {
		return nil, fmt.Errorf("invalid planner rules: %w", err)
	}
	for _, rule := range rs.Rules {
		if rule.Kind == plan.KindSingleTool && len(rule.Steps) != 1 {
			return nil, fmt.Errorf("invalid planner rules: rule %q is single_tool with %d steps", rule.Name, len(rule.Steps))
		}
	}
	return &rs, nil
}

// LoadRulesFile reads a rule set from path.
func LoadRulesFile(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open planner rules: %w", err)
	}
	defer f.Close()
	return LoadRules(f)
}

// query is the normalized view of a query that rules match against.
type query struct {
	text        string          // lower-cased, whitespace collapsed
	words       map[string]bool // lower-cased word tokens
	identifiers map[string]string
	explicit    map[string]bool
}

var wordSplit = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeQuery(raw string, x *IdentifierExtractor) query {
	collapsed := strings.Join(strings.Fields(raw), " ")
	lower := strings.ToLower(collapsed)

	q := query{
		text:        lower,
		words:       make(map[string]bool),
		identifiers: x.Extract(collapsed),
		explicit:    make(map[string]bool),
	}
	for _, w := range wordSplit.Split(lower, -1) {
		if w != "" {
			q.words[w] = true
		}
	}
	for _, kind := range identifierKinds {
		q.explicit[kind] = x.Explicit(collapsed, kind)
	}
	return q
}

func (q query) hasWord(w string) bool {
	w = strings.ToLower(w)
	return q.words[w] || q.words[w+"s"]
}

func (g MatchGroup) matches(q query) bool {
	return slices.ContainsFunc(g.Words, q.hasWord) ||
		slices.ContainsFunc(g.Phrases, func(p string) bool { return strings.Contains(q.text, strings.ToLower(p)) }) ||
		slices.ContainsFunc(g.Identifiers, func(kind string) bool { return q.explicit[kind] })
}

// matches reports whether every group matches and every required identifier was found.
func (r Rule) matches(q query) bool {
	for _, g := range r.When {
		if !g.matches(q) {
			return false
		}
	}
	for _, kind := range r.Identifiers {
		if q.identifiers[kind] == "" {
			return false
		}
	}
	return true
}

func (r Rule) toolsAvailable(has func(string) bool) bool {
	for _, s := range r.Steps {
		if !has(s.Tool) {
			return false
		}
	}
	return true
}

var templateVar = regexp.MustCompile(`\$\{(\w+)\}`)

// instantiate builds the rule's plan, substituting ${kind} with extracted identifiers.
func (r Rule) instantiate(identifiers map[string]string) *plan.ExecutionPlan {
	steps := make([]plan.Step, len(r.Steps))
	for i, tmpl := range r.Steps {
		params := make(map[string]any, len(tmpl.Parameters))
		for name, value := range tmpl.Parameters {
			params[name] = substitute(plan.CloneValue(value), identifiers)
		}
		var aliases map[string][]string
		if len(tmpl.Outputs) > 0 {
			aliases = make(map[string][]string, len(tmpl.Outputs))
			for field, keys := range tmpl.Outputs {
				aliases[field] = slices.Clone(keys)
			}
		}
		steps[i] = plan.Step{
			ToolName:      tmpl.Tool,
			Parameters:    params,
			OutputAliases: aliases,
			Required:      !tmpl.Optional,
		}
	}

	p := plan.NewToolChain(steps, r.Confidence, r.Reasoning)
	if r.Kind == plan.KindSingleTool {
		p.Kind = plan.KindSingleTool
	}
	return p
}

func substitute(v any, identifiers map[string]string) any {
	switch t := v.(type) {
	case string:
		return templateVar.ReplaceAllStringFunc(t, func(m string) string {
			return identifiers[templateVar.FindStringSubmatch(m)[1]]
		})
	case map[string]any:
		for k, val := range t {
			t[k] = substitute(val, identifiers)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = substitute(val, identifiers)
		}
		return t
	default:
		return v
	}
}
