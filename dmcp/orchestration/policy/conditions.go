package policy

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FieldAtLeast matches items whose numeric field is >= threshold.
func FieldAtLeast(field string, threshold float64) Condition {
	return numeric(field, func(v float64) bool { return v >= threshold })
}

// FieldAtMost matches items whose numeric field is <= threshold.
func FieldAtMost(field string, threshold float64) Condition {
	return numeric(field, func(v float64) bool { return v <= threshold })
}

// FieldAbove matches items whose numeric field is > threshold.
func FieldAbove(field string, threshold float64) Condition {
	return numeric(field, func(v float64) bool { return v > threshold })
}

// FieldEquals matches items whose field equals want. Numbers compare by
// value, everything else by its text form, ignoring case.
func FieldEquals(field string, want any) Condition {
	return func(it Item) bool {
		got, ok := it[field]
		if !ok {
			return false
		}
		if a, okA := toFloat(got); okA {
			if b, okB := toFloat(want); okB {
				return a == b
			}
		}
		return strings.EqualFold(fmt.Sprint(got), fmt.Sprint(want))
	}
}

// Not negates cond.
func Not(cond Condition) Condition {
	return func(it Item) bool { return !cond(it) }
}

// ByField orders items by field. Numbers compare numerically, other values as
// text; items missing the field sort last in either direction.
func ByField(field string, descending bool) Compare {
	return func(a, b Item) int {
		va, okA := a[field]
		vb, okB := b[field]
		switch {
		case !okA && !okB:
			return 0
		case !okA:
			return 1
		case !okB:
			return -1
		}
		c := compareValues(va, vb)
		if descending {
			return -c
		}
		return c
	}
}

func numeric(field string, pred func(float64) bool) Condition {
	return func(it Item) bool {
		v, ok := toFloat(it[field])
		return ok && pred(v)
	}
}

func compareValues(a, b any) int {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return cmp.Compare(fa, fb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
