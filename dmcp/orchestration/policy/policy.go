// Package policy applies an already-parsed ruleset to the items of a
// completed result: include and exclude filters, a stable sort and
// escalation checks.
package policy

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-playground/validator/v10"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
)

// Action is what a rule does with the items its condition matches.
type Action string

const (
	ActionInclude  Action = "include"
	ActionExclude  Action = "exclude"
	ActionEscalate Action = "escalate"
	ActionSortKey  Action = "sort_key"
)

// Item is one entry of a result set, typically a decoded JSON object.
type Item = map[string]any

// Condition is a predicate over a single item.
type Condition func(Item) bool

// Compare orders two items like cmp.Compare.
type Compare func(a, b Item) int

// Rule is one entry of a parsed ruleset. Lower Priority runs first; equal
// priorities run in registration order. A nil Condition matches every item.
type Rule struct {
	ID         string         `validate:"required"`
	Action     Action         `validate:"required,oneof=include exclude escalate sort_key"`
	Priority   int
	Condition  Condition      `validate:"-"`
	Compare    Compare        `validate:"required_if=Action sort_key"`
	Reason     string         // shown when an escalate rule fires
	Level      string         // escalation level, e.g. "manager_approval"
	Parameters map[string]any // free-form rule parameters, carried through to escalations
}

// Escalation is raised by an escalate rule whose condition matched at least
// one surviving item.
type Escalation struct {
	RuleID     string         `json:"rule_id"`
	Reason     string         `json:"reason"`
	Level      string         `json:"level,omitempty"`
	Indexes    []int          `json:"indexes"` // input indexes of the matching items
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Applied records the effect of one rule.
type Applied struct {
	RuleID  string `json:"rule_id"`
	Action  Action `json:"action"`
	Matched int    `json:"matched"`
	Before  int    `json:"before"`
	After   int    `json:"after"`
}

// AnnotatedResult is the filtered, ordered item set plus escalation metadata.
// Items are copies; Indexes[i] is the input index of Items[i].
type AnnotatedResult struct {
	Items       []Item       `json:"items"`
	Indexes     []int        `json:"indexes"`
	Escalated   bool         `json:"escalated"`
	Escalations []Escalation `json:"escalations,omitempty"`
	Applied     []Applied    `json:"applied"`
}

// Reasons returns the reason of every escalation in rule order.
func (r AnnotatedResult) Reasons() []string {
	out := make([]string, 0, len(r.Escalations))
	for _, e := range r.Escalations {
		out = append(out, e.Reason)
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every rule's structure.
func Validate(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if err := validate.Struct(r); err != nil {
			return fmt.Errorf("policy rule %d (%q): %w", i, r.ID, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("policy rule %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// Ordered returns rules sorted by ascending priority, ties kept in
// registration order.
func Ordered(rules []Rule) []Rule {
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b Rule) int { return cmp.Compare(a.Priority, b.Priority) })
	return out
}

// Apply evaluates rules against items. Items excluded by an earlier rule are
// never re-included. items is not modified.
func Apply(rules []Rule, items []Item) AnnotatedResult {
	working := roaring.New()
	working.AddRange(0, uint64(len(items)))
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}

	res := AnnotatedResult{Applied: make([]Applied, 0, len(rules))}
	for _, rule := range Ordered(rules) {
		before := int(working.GetCardinality())
		matched := matching(rule.Condition, items, working)

		switch rule.Action {
		case ActionInclude:
			working.And(matched)
		case ActionExclude:
			working.AndNot(matched)
		case ActionSortKey:
			if rule.Compare != nil {
				slices.SortStableFunc(order, func(a, b int) int { return rule.Compare(items[a], items[b]) })
			}
			matched = working.Clone()
		case ActionEscalate:
			if !matched.IsEmpty() {
				res.Escalated = true
				res.Escalations = append(res.Escalations, Escalation{
					RuleID:     rule.ID,
					Reason:     escalationReason(rule),
					Level:      rule.Level,
					Indexes:    toInts(matched.ToArray()),
					Parameters: rule.Parameters,
				})
			}
		}

		res.Applied = append(res.Applied, Applied{
			RuleID:  rule.ID,
			Action:  rule.Action,
			Matched: int(matched.GetCardinality()),
			Before:  before,
			After:   int(working.GetCardinality()),
		})
	}

	res.Items = make([]Item, 0, working.GetCardinality())
	res.Indexes = make([]int, 0, working.GetCardinality())
	for _, idx := range order {
		if !working.Contains(uint32(idx)) {
			continue
		}
		res.Items = append(res.Items, copyItem(items[idx]))
		res.Indexes = append(res.Indexes, idx)
	}
	return res
}

// matching returns the members of working that satisfy cond.
func matching(cond Condition, items []Item, working *roaring.Bitmap) *roaring.Bitmap {
	if cond == nil {
		return working.Clone()
	}
	out := roaring.New()
	it := working.Iterator()
	for it.HasNext() {
		idx := it.Next()
		if cond(items[idx]) {
			out.Add(idx)
		}
	}
	return out
}

func escalationReason(r Rule) string {
	if r.Reason != "" {
		return r.Reason
	}
	return fmt.Sprintf("escalation rule %s matched", r.ID)
}

func toInts(xs []uint32) []int {
	out := make([]int, len(xs))
	for i, x := range xs {
		out[i] = int(x)
	}
	return out
}

func copyItem(it Item) Item {
	if it == nil {
		return nil
	}
	return plan.CloneValue(it).(map[string]any)
}
