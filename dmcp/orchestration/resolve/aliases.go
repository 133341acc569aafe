package resolve

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode"
)

// Generic keys published for every output.
const (
	KeyLastResult = "last_result"
)

// underscore suffixes match case-insensitively; camel suffixes must start
// with an upper-case letter so "casino" does not read as an identifier.
var (
	snakeSuffixes = []string{"_number", "_num", "_no", "_id"}
	camelSuffixes = []string{"Number", "Num", "No", "Id", "ID", "NO", "NUMBER"}
)

// entitySynonyms folds spellings of the same business entity.
var entitySynonyms = map[string]string{
	"purchaseorder":    "po",
	"purchase_order":   "po",
	"purchaserequest":  "pr",
	"purchase_request": "pr",
	"req":              "pr",
	"gr":               "receipt",
	"rec":              "receipt",
	"goodsreceipt":     "receipt",
	"goods_receipt":    "receipt",
}

// EntityOf returns the business entity named by an identifier field such as
// "PoNo", "receipt_no" or "MovementId", or "" when field is not identifier-like.
func EntityOf(field string) string {
	lower := strings.ToLower(field)
	for _, suffix := range snakeSuffixes {
		if stem, ok := strings.CutSuffix(lower, suffix); ok && stem != "" {
			return canonicalEntity(stem)
		}
	}
	for _, suffix := range camelSuffixes {
		stem, ok := strings.CutSuffix(field, suffix)
		if !ok || stem == "" {
			continue
		}
		last := rune(stem[len(stem)-1])
		// "NUMBER" only counts after an all-caps stem, as in "PONUMBER".
		if suffix == strings.ToUpper(suffix) && len(suffix) > 2 && !unicode.IsUpper(last) {
			continue
		}
		return canonicalEntity(strings.ToLower(stem))
	}
	return ""
}

func canonicalEntity(stem string) string {
	stem = strings.Trim(stem, "_")
	if syn, ok := entitySynonyms[stem]; ok {
		return syn
	}
	return stem
}

// Publish stores a tool output under its literal fields, the step's explicit
// aliases, identifier role aliases and the generic result keys. It returns the
// keys written, sorted.
func (s *Store) Publish(tool string, step int, output any, aliases map[string][]string) []string {
	written := make(map[string]bool)
	put := func(key string, value any) {
		s.Put(key, value, tool, step)
		written[key] = true
	}

	put(KeyLastResult, output)
	put(fmt.Sprintf("step_%d_result", step), output)
	if tool != "" {
		put(tool+"_result", output)
	}

	switch out := output.(type) {
	case map[string]any:
		publishMapping(out, aliases, put)
	case []any:
		put(fmt.Sprintf("result_list_step_%d", step), out)
		lists := make(map[string][]any)
		for _, elem := range out {
			m, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			for _, field := range slices.Sorted(maps.Keys(m)) {
				if entity := EntityOf(field); entity != "" {
					lists[entity] = append(lists[entity], m[field])
				}
			}
		}
		for _, entity := range slices.Sorted(maps.Keys(lists)) {
			put(entity+"_list", lists[entity])
		}
		if len(out) > 0 {
			if first, ok := out[0].(map[string]any); ok {
				publishMapping(first, aliases, put)
			}
		}
	}

	return slices.Sorted(maps.Keys(written))
}

func publishMapping(m map[string]any, aliases map[string][]string, put func(string, any)) {
	fields := slices.Sorted(maps.Keys(m))
	for _, field := range fields {
		put(field, m[field])
	}

	for _, field := range fields {
		entity := EntityOf(field)
		if entity == "" {
			continue
		}
		for _, key := range []string{"found_" + entity, "current_" + entity, "last_" + strings.ToLower(field)} {
			// A literal field of the same name keeps its own value.
			if _, literal := m[key]; literal {
				continue
			}
			put(key, m[field])
		}
	}

	for _, field := range slices.Sorted(maps.Keys(aliases)) {
		value, ok := lookupField(m, field)
		if !ok {
			continue
		}
		for _, key := range aliases[field] {
			put(key, value)
		}
	}
}

// lookupField finds field exactly, then case-insensitively.
func lookupField(m map[string]any, field string) (any, bool) {
	if v, ok := m[field]; ok {
		return v, true
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if strings.EqualFold(k, field) {
			return m[k], true
		}
	}
	return nil, false
}
