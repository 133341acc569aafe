package executor

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
)

// DefaultParamAliases map common misspellings of parameter names to the
// canonical name. They apply only when the tool declares the canonical name.
var DefaultParamAliases = map[string]string{
	"receipt_number": "receipt_no",
	"receipt_id":     "receipt_no",
	"po_no":          "po_number",
	"pr_no":          "pr_number",
}

// normalizeParams renames aliased parameters to the names desc declares and
// coerces values to the declared types. params is not modified.
func normalizeParams(desc catalog.ToolDescriptor, params map[string]any, global map[string]string) map[string]any {
	out := maps.Clone(params)
	if out == nil {
		out = map[string]any{}
	}

	for _, name := range slices.Sorted(maps.Keys(params)) {
		if _, declared := desc.InputSchema[name]; declared {
			continue
		}
		canonical := canonicalName(desc, name, global)
		if canonical == "" {
			continue
		}
		if _, present := out[canonical]; present {
			continue
		}
		out[canonical] = out[name]
		delete(out, name)
	}

	for name, spec := range desc.InputSchema {
		v, ok := out[name]
		if !ok {
			continue
		}
		if spec.Type == "string" {
			v = coerceString(v)
		}
		if s, isString := v.(string); isString {
			v = normalizeValue(s, spec.Normalize)
		}
		out[name] = v
	}
	return out
}

func canonicalName(desc catalog.ToolDescriptor, name string, global map[string]string) string {
	for _, declared := range slices.Sorted(maps.Keys(desc.InputSchema)) {
		if slices.ContainsFunc(desc.InputSchema[declared].Aliases, func(a string) bool { return strings.EqualFold(a, name) }) {
			return declared
		}
	}
	if canonical, ok := global[name]; ok {
		if _, declared := desc.InputSchema[canonical]; declared {
			return canonical
		}
	}
	return ""
}

// coerceString turns scalars into text and a list into its first element.
func coerceString(v any) any {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) > 0 {
			return coerceString(t[0])
		}
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	case fmt.Stringer:
		return t.String()
	}
	return v
}

func normalizeValue(s, mode string) string {
	switch mode {
	case catalog.NormalizeUpper:
		return strings.ToUpper(strings.TrimSpace(s))
	case catalog.NormalizeLower:
		return strings.ToLower(strings.TrimSpace(s))
	case catalog.NormalizeTrim:
		return strings.TrimSpace(s)
	default:
		return s
	}
}
