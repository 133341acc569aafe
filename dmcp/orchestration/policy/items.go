package policy

import (
	"maps"
	"slices"
)

// ItemsFrom extracts the result set from a tool output: the output itself when
// it is a sequence of mappings, otherwise the first such field of a mapping
// output in key order. ok is false when the output carries no result set.
func ItemsFrom(output any) (items []Item, field string, ok bool) {
	if items, ok := asItems(output); ok {
		return items, "", true
	}
	m, isMap := output.(map[string]any)
	if !isMap {
		return nil, "", false
	}
	for _, key := range slices.Sorted(maps.Keys(m)) {
		if items, ok := asItems(m[key]); ok {
			return items, key, true
		}
	}
	return nil, "", false
}

func asItems(v any) ([]Item, bool) {
	switch t := v.(type) {
	case []map[string]any:
		return t, true
	case []any:
		out := make([]Item, 0, len(t))
		for _, elem := range t {
			m, ok := elem.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	default:
		return nil, false
	}
}
