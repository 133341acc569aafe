package resolve

import (
	"maps"
	"strings"
)

// Sentinel values substituted by the fallback table.
const (
	FallbackPO      = "PO-AUTO"
	FallbackReceipt = "GR-AUTO"
	FallbackPR      = "PR-AUTO"
)

var defaultFallbacks = map[string]string{
	"found_po":     FallbackPO,
	"current_po":   FallbackPO,
	"po_list":      FallbackPO,
	"po_reference": FallbackPO,
	"polist":       FallbackPO,
	"ponolist":     FallbackPO,

	"found_receipt":     FallbackReceipt,
	"current_receipt":   FallbackReceipt,
	"receipt_list":      FallbackReceipt,
	"receipt_reference": FallbackReceipt,
	"receiptnumbers":    FallbackReceipt,
	"grlist":            FallbackReceipt,

	"pr_reference": FallbackPR,
	"found_pr":     FallbackPR,
	"current_pr":   FallbackPR,
	"pr_list":      FallbackPR,
}

// DefaultFallbackTable returns a copy of the built-in sentinel table.
func DefaultFallbackTable() map[string]string {
	return maps.Clone(defaultFallbacks)
}

// FallbackMatch builds the last-resort rule over table. Lookup is
// case-insensitive; matches are flagged degraded by the resolver.
func FallbackMatch(table map[string]string) ResolveFunc {
	folded := make(map[string]string, len(table))
	for k, v := range table {
		folded[strings.ToLower(k)] = v
	}
	return func(token string, _ *Store) (string, any, bool) {
		v, ok := folded[strings.ToLower(token)]
		if !ok {
			return "", nil, false
		}
		return "", v, true
	}
}
