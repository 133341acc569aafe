package planner

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

const systemPrompt = "You are an expert at analyzing user queries for tool orchestration. Always respond with valid JSON."

// DefaultDomainHints describe the procurement flow and placeholder rules.
var DefaultDomainHints = []string{
	"Purchase Request (PR) -> Purchase Order (PO) -> Goods Receipt (GR) -> Movement -> Inspection",
	"Use tool chains for tracing, tracking or multi-step workflows; use a single tool for direct lookups",
	"Extract identifiers (PO, PR and receipt numbers) from the query exactly as written",
	"Reference earlier outputs with {{context_key}} placeholders that name a key from a previous step's output_mapping",
	"Use the exact parameter names from the tool schemas; do not abbreviate or rename them",
	"From search results, PoNo holds PO numbers and ReceiptNo holds receipt numbers; use the first item of an array",
}

const responseFormat = `RESPONSE FORMAT (JSON ONLY):
{
  "strategy": "single_tool|tool_chain|clarification",
  "reasoning": "why this strategy and these tools",
  "confidence": 0.85,
  "tool_name": "exact_tool_name",
  "parameters": {"param": "value extracted from the query"},
  "tool_chain": [
    {"tool_name": "first_tool", "parameters": {"param": "value"}, "output_mapping": {"OutputField": "context_key"}, "required": true},
    {"tool_name": "second_tool", "parameters": {"param": "{{context_key}}"}, "output_mapping": {}, "required": true}
  ],
  "clarification_message": "question for the user",
  "suggestions": ["example query"]
}
Fill tool_name and parameters for single_tool, tool_chain for tool_chain, and
clarification_message with suggestions for clarification.`

// PromptBuilder assembles the planning prompt from the query, catalog digest and hints.
type PromptBuilder struct {
	hints []string
}

// NewPromptBuilder creates a builder. Empty hints use DefaultDomainHints.
func NewPromptBuilder(hints []string) *PromptBuilder {
	if len(hints) == 0 {
		hints = DefaultDomainHints
	}
	return &PromptBuilder{hints: hints}
}

// Build renders the provider input for one planning call.
func (b *PromptBuilder) Build(query string, summary catalog.Summary) ports.PromptInput {
	// Normalize newlines and trim whitespace to keep cache keys stable
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	var sb strings.Builder
	fmt.Fprintf(&sb, "USER QUERY: %q\n\n", norm(query))
	sb.WriteString(norm(summary.Text))
	sb.WriteString("\n\nDOMAIN KNOWLEDGE:\n")
	for _, h := range b.hints {
		fmt.Fprintf(&sb, "- %s\n", norm(h))
	}
	sb.WriteString("\n")
	sb.WriteString(responseFormat)
	sb.WriteString("\n\nRULES:\n")
	sb.WriteString("1. Respond with one JSON object and nothing else\n")
	sb.WriteString("2. Tool names must match the available tools exactly\n")
	sb.WriteString("3. Confidence is a number between 0 and 1\n")

	return ports.PromptInput{
		System:   systemPrompt,
		Messages: []ports.PromptMessage{{Role: "user", Content: sb.String()}},
		Meta: map[string]string{
			"tool_count": fmt.Sprintf("%d", len(summary.Tools)),
		},
	}
}
