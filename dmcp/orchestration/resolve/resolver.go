package resolve

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
)

// Rule names, in ladder order.
const (
	RuleExact      = "exact"
	RulePath       = "path"
	RuleFuzzy      = "fuzzy"
	RuleCollection = "collection"
	RuleFallback   = "fallback"
)

// ResolveFunc tries to resolve token against store. key names the context
// entry used, empty when the value did not come from the store.
type ResolveFunc func(token string, store *Store) (key string, value any, ok bool)

// Rule is one named rung of the resolution ladder.
type Rule struct {
	Name     string
	Fn       ResolveFunc
	Degraded bool // values from this rule are fabricated, not found
}

// Resolution describes how one placeholder occurrence was resolved.
type Resolution struct {
	Token    string `json:"token"`
	Rule     string `json:"rule"`
	Key      string `json:"key,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Resolver applies its rules in order until one matches.
type Resolver struct {
	rules []Rule
}

// Option configures a Resolver.
type Option func(*resolverOptions)

type resolverOptions struct {
	fallback map[string]string
}

// WithFallbackTable replaces the built-in sentinel table. An empty table
// disables the fallback rung.
func WithFallbackTable(table map[string]string) Option {
	return func(o *resolverOptions) { o.fallback = table }
}

// NewResolver builds the standard ladder: exact, path, fuzzy, collection, fallback.
func NewResolver(opts ...Option) *Resolver {
	o := resolverOptions{fallback: defaultFallbacks}
	for _, opt := range opts {
		opt(&o)
	}
	rules := []Rule{
		{Name: RuleExact, Fn: ExactMatch},
		{Name: RulePath, Fn: PathMatch},
		{Name: RuleFuzzy, Fn: FuzzyMatch},
		{Name: RuleCollection, Fn: CollectionMatch},
	}
	if len(o.fallback) > 0 {
		rules = append(rules, Rule{Name: RuleFallback, Fn: FallbackMatch(o.fallback), Degraded: true})
	}
	return &Resolver{rules: rules}
}

// NewResolverWithRules builds a resolver over an explicit ladder.
func NewResolverWithRules(rules ...Rule) *Resolver {
	return &Resolver{rules: slices.Clone(rules)}
}

// Rules returns the rule names in order.
func (r *Resolver) Rules() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Resolve resolves a single placeholder name.
func (r *Resolver) Resolve(token string, store *Store) (any, Resolution, error) {
	token = strings.TrimSpace(token)
	for _, rule := range r.rules {
		key, value, ok := rule.Fn(token, store)
		if !ok {
			continue
		}
		return plan.CloneValue(value), Resolution{Token: token, Rule: rule.Name, Key: key, Degraded: rule.Degraded}, nil
	}
	return nil, Resolution{}, &UnresolvedPlaceholderError{Token: token, AvailableKeys: store.Keys()}
}

// ResolveParams returns a copy of params with every placeholder replaced. A
// string that is exactly one placeholder takes the resolved value with its
// type; placeholders inside longer strings are interpolated as text.
func (r *Resolver) ResolveParams(params map[string]any, store *Store) (map[string]any, []Resolution, error) {
	var resolutions []Resolution
	out, err := r.resolveValue(params, store, &resolutions)
	if err != nil {
		return nil, resolutions, err
	}
	if out == nil {
		return map[string]any{}, resolutions, nil
	}
	return out.(map[string]any), resolutions, nil
}

func (r *Resolver) resolveValue(v any, store *Store, resolutions *[]Resolution) (any, error) {
	switch t := v.(type) {
	case string:
		if name, ok := plan.WholeToken(t); ok {
			value, res, err := r.Resolve(name, store)
			if err != nil {
				return nil, err
			}
			*resolutions = append(*resolutions, res)
			return value, nil
		}
		var firstErr error
		out := plan.ReplaceTokens(t, func(name string) string {
			if firstErr != nil {
				return ""
			}
			value, res, err := r.Resolve(name, store)
			if err != nil {
				firstErr = err
				return ""
			}
			*resolutions = append(*resolutions, res)
			return stringify(value)
		})
		if firstErr != nil {
			return nil, firstErr
		}
		return out, nil
	case map[string]any:
		if t == nil {
			return nil, nil
		}
		out := make(map[string]any, len(t))
		for _, key := range slices.Sorted(maps.Keys(t)) {
			resolved, err := r.resolveValue(t[key], store, resolutions)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			resolved, err := r.resolveValue(elem, store, resolutions)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	// Typed containers resolve into []any and map[string]any.
	case []string:
		out := make([]any, len(t))
		for i, elem := range t {
			resolved, err := r.resolveValue(elem, store, resolutions)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, elem := range t {
			resolved, err := r.resolveValue(elem, store, resolutions)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for _, key := range slices.Sorted(maps.Keys(t)) {
			resolved, err := r.resolveValue(t[key], store, resolutions)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	default:
		return plan.CloneValue(v), nil
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// ExactMatch resolves a token naming a context key.
func ExactMatch(token string, store *Store) (string, any, bool) {
	e, ok := store.Get(token)
	if !ok {
		return "", nil, false
	}
	return e.Key, e.Value, true
}

// PathMatch resolves dotted paths such as "order.Lines.0.PoNo" by walking
// nested mappings and numeric sequence indexes from the first segment's key.
func PathMatch(token string, store *Store) (string, any, bool) {
	if !strings.Contains(token, ".") {
		return "", nil, false
	}
	segments := strings.Split(token, ".")
	e, ok := store.Get(segments[0])
	if !ok {
		return "", nil, false
	}
	cur := e.Value
	for _, seg := range segments[1:] {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := lookupField(node, seg)
			if !ok {
				return "", nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", nil, false
			}
			cur = node[idx]
		default:
			return "", nil, false
		}
	}
	return token, cur, true
}

// FuzzyMatch picks a key that contains the token, or is contained in it,
// ignoring case. The shortest such key wins; ties go to the lexicographically
// smallest.
func FuzzyMatch(token string, store *Store) (string, any, bool) {
	needle := strings.ToLower(token)
	if needle == "" {
		return "", nil, false
	}
	best := ""
	for _, key := range store.Keys() {
		hay := strings.ToLower(key)
		if !strings.Contains(hay, needle) && !strings.Contains(needle, hay) {
			continue
		}
		if best == "" || len(key) < len(best) {
			best = key
		}
	}
	if best == "" {
		return "", nil, false
	}
	e, _ := store.Get(best)
	return best, e.Value, true
}

// CollectionMatch resolves tokens naming an entity, such as "polist" or
// "found_receipt", by scanning sequences of mappings newest first and taking
// the first element carrying an identifier field of that entity.
func CollectionMatch(token string, store *Store) (string, any, bool) {
	wanted := tokenEntities(token)
	if len(wanted) == 0 {
		return "", nil, false
	}

	entries := store.Entries()
	slices.SortStableFunc(entries, func(a, b Entry) int {
		switch {
		case a.Seq > b.Seq:
			return -1
		case a.Seq < b.Seq:
			return 1
		}
		return 0
	})

	for _, e := range entries {
		seq, ok := e.Value.([]any)
		if !ok {
			continue
		}
		for i, elem := range seq {
			m, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			for _, field := range slices.Sorted(maps.Keys(m)) {
				if wanted[EntityOf(field)] {
					return fmt.Sprintf("%s.%d.%s", e.Key, i, field), m[field], true
				}
			}
		}
	}
	return "", nil, false
}

var roleWords = map[string]bool{
	"found": true, "current": true, "last": true, "all": true, "first": true,
	"list": true, "reference": true, "ref": true, "result": true, "results": true,
	"number": true, "numbers": true, "no": true, "nos": true, "id": true, "ids": true,
}

var collectionSuffixes = []string{"nolist", "list", "numbers", "number", "nos", "ids", "no", "id"}

// tokenEntities extracts the entity names a token refers to.
func tokenEntities(token string) map[string]bool {
	out := make(map[string]bool)
	for _, seg := range strings.FieldsFunc(strings.ToLower(token), func(r rune) bool { return r == '_' || r == '.' || r == '-' }) {
		if roleWords[seg] {
			continue
		}
		for _, suffix := range collectionSuffixes {
			if stem, ok := strings.CutSuffix(seg, suffix); ok && stem != "" {
				seg = stem
				break
			}
		}
		out[canonicalEntity(seg)] = true
	}
	return out
}
