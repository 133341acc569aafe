package plan

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func known(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func chain() *ExecutionPlan {
	return NewToolChain([]Step{
		{
			ToolName:      "view_purchase_order",
			Parameters:    map[string]any{"po_number": "DYN456"},
			OutputAliases: map[string][]string{"PoNo": {"reference_number"}},
			Required:      true,
		},
		{
			ToolName:   "help_on_receipt_document",
			Parameters: map[string]any{"ref_doc_no_from": "{{reference_number}}", "filters": map[string]any{"range": []any{"{{ reference_number }}", "{{receipt_id}}"}}},
			Required:   true,
		},
	}, 0.92, "order to receipt")
}

// TestValidate tests the structural invariants of each plan kind.
func TestValidate(t *testing.T) {
	has := known("view_purchase_order", "help_on_receipt_document")

	assert.NoError(t, NewSingleTool("view_purchase_order", map[string]any{"po_number": "PO1"}, 0.8, "").Validate(has))
	assert.NoError(t, chain().Validate(has))
	assert.NoError(t, NewClarification("Which order?", nil, 0.3, "").Validate(has))

	cases := map[string]*ExecutionPlan{
		"nil plan":              nil,
		"confidence above one":  NewSingleTool("view_purchase_order", nil, 1.2, ""),
		"negative confidence":   NewSingleTool("view_purchase_order", nil, -0.1, ""),
		"NaN confidence":        NewSingleTool("view_purchase_order", nil, math.NaN(), ""),
		"unknown tool":          NewSingleTool("delete_everything", nil, 0.5, ""),
		"empty chain":           NewToolChain(nil, 0.5, ""),
		"empty question":        NewClarification("  ", nil, 0.3, ""),
		"unknown kind":          {Kind: "parallel", Confidence: 0.5},
		"single with two steps": {Kind: KindSingleTool, Steps: chain().Steps, Confidence: 0.5},
		"clarification with steps": {
			Kind:          KindClarification,
			Clarification: &Clarification{Question: "?"},
			Steps:         []Step{{ToolName: "view_purchase_order"}},
		},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			err := p.Validate(has)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPlan)

			var invalidErr *InvalidPlanError
			assert.True(t, errors.As(err, &invalidErr))
		})
	}
}

// TestValidate_NilCatalogCheck tests that a nil lookup skips tool existence.
func TestValidate_NilCatalogCheck(t *testing.T) {
	assert.NoError(t, NewSingleTool("anything", nil, 0.5, "").Validate(nil))
}

// TestClone tests that clones share no mutable state.
func TestClone(t *testing.T) {
	original := chain()
	original.Clarification = &Clarification{Question: "q", Suggestions: []string{"a"}}
	clone := original.Clone()

	clone.Steps[0].Parameters["po_number"] = "changed"
	clone.Steps[0].OutputAliases["PoNo"][0] = "changed"
	clone.Steps[1].Parameters["filters"].(map[string]any)["range"].([]any)[0] = "changed"
	clone.Clarification.Suggestions[0] = "changed"

	assert.Equal(t, "DYN456", original.Steps[0].Parameters["po_number"])
	assert.Equal(t, "reference_number", original.Steps[0].OutputAliases["PoNo"][0])
	assert.Equal(t, "{{ reference_number }}", original.Steps[1].Parameters["filters"].(map[string]any)["range"].([]any)[0])
	assert.Equal(t, "a", original.Clarification.Suggestions[0])

	var nilPlan *ExecutionPlan
	assert.Nil(t, nilPlan.Clone())
}

// TestPlaceholders tests token discovery across nested parameters.
func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"reference_number", "receipt_id"}, chain().Placeholders())
	assert.Empty(t, NewSingleTool("view_purchase_order", map[string]any{"po_number": "PO1"}, 0.8, "").Placeholders())

	typed := NewSingleTool("search_purchase_orders", map[string]any{
		"ids":     []string{"{{found_po}}"},
		"filters": map[string]string{"supplier": "{{SupplierName}}"},
		"lines":   []map[string]any{{"po": "{{PoNo}}"}},
	}, 0.8, "")
	assert.Equal(t, []string{"SupplierName", "found_po", "PoNo"}, typed.Placeholders())
}

// TestTokenHelpers tests token parsing and substitution.
func TestTokenHelpers(t *testing.T) {
	name, ok := WholeToken(" {{ found_po }} ")
	assert.True(t, ok)
	assert.Equal(t, "found_po", name)

	_, ok = WholeToken("order {{found_po}}")
	assert.False(t, ok)
	_, ok = WholeToken("{{a}}{{b}}")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, Tokens("{{a}}-{{ b }}"))

	out := ReplaceTokens("from {{a}} to {{b}}", func(n string) string { return n + "!" })
	assert.Equal(t, "from a! to b!", out)
}
