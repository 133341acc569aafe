package planner

import (
	"regexp"
	"slices"
	"strings"
)

// Identifier kinds recognised in queries.
const (
	IdentifierPO      = "po"
	IdentifierPR      = "pr"
	IdentifierReceipt = "receipt"
)

var identifierKinds = []string{IdentifierPO, IdentifierPR, IdentifierReceipt}

// IdentifierExtractor pulls business identifiers such as "PO12345" out of a
// query. Explicitly prefixed identifiers win; otherwise the first token that
// contains a digit and is not claimed by another kind's prefix is used.
type IdentifierExtractor struct {
	explicit map[string]*regexp.Regexp
	generic  *regexp.Regexp
}

// NewIdentifierExtractor returns the extractor for PO, PR and receipt numbers.
func NewIdentifierExtractor() *IdentifierExtractor {
	return &IdentifierExtractor{
		explicit: map[string]*regexp.Regexp{
			IdentifierPO:      regexp.MustCompile(`(?i)\bPO[-_]?[A-Z]{0,3}\d[\w-]*`),
			IdentifierPR:      regexp.MustCompile(`(?i)\b(?:PR|REQ)[-_]?[A-Z]{0,3}\d[\w-]*`),
			IdentifierReceipt: regexp.MustCompile(`(?i)\b(?:GR|REC)[-_]?[A-Z]{0,3}\d[\w-]*`),
		},
		generic: regexp.MustCompile(`\b[A-Za-z0-9_-]*\d[A-Za-z0-9_-]*`),
	}
}

// Extract returns the identifier found for each kind. Kinds with no
// identifier are absent from the map.
func (x *IdentifierExtractor) Extract(query string) map[string]string {
	found := make(map[string]string)
	claimed := make(map[string]string) // token -> kind

	for _, kind := range identifierKinds {
		for _, m := range x.explicit[kind].FindAllString(query, -1) {
			m = strings.Trim(m, "-_")
			if _, ok := claimed[m]; !ok {
				claimed[m] = kind
			}
			if _, ok := found[kind]; !ok {
				found[kind] = m
			}
		}
	}

	generics := x.generic.FindAllString(query, -1)
	for _, kind := range identifierKinds {
		if _, ok := found[kind]; ok {
			continue
		}
		idx := slices.IndexFunc(generics, func(tok string) bool {
			tok = strings.Trim(tok, "-_")
			owner, ok := claimed[tok]
			return tok != "" && (!ok || owner == kind)
		})
		if idx >= 0 {
			found[kind] = strings.Trim(generics[idx], "-_")
		}
	}
	return found
}

// Explicit reports whether query carries a prefixed identifier of kind.
func (x *IdentifierExtractor) Explicit(query, kind string) bool {
	re, ok := x.explicit[kind]
	return ok && re.MatchString(query)
}
