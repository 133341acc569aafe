package planner

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
)

// DeterministicPlanner selects a pre-authored plan with keyword rules. For a
// fixed rule set and tool list the same query text always yields the same plan.
type DeterministicPlanner struct {
	rules     atomic.Pointer[RuleSet]
	extractor *IdentifierExtractor
	logger    zerolog.Logger
}

// NewDeterministicPlanner creates a planner over rules. A nil rule set uses the embedded defaults.
func NewDeterministicPlanner(rules *RuleSet, logger zerolog.Logger) (*DeterministicPlanner, error) {
	if rules == nil {
		var err error
		if rules, err = DefaultRules(); err != nil {
			return nil, err
		}
	}
	p := &DeterministicPlanner{
		extractor: NewIdentifierExtractor(),
		logger:    logger.With().Str("component", "deterministic_planner").Logger(),
	}
	p.rules.Store(rules)
	return p, nil
}

// SetRules swaps the active rule set. Plans already in progress keep the old one.
func (p *DeterministicPlanner) SetRules(rules *RuleSet) {
	if rules != nil {
		p.rules.Store(rules)
	}
}

// Rules returns the active rule set.
func (p *DeterministicPlanner) Rules() *RuleSet {
	return p.rules.Load()
}

// Plan implements Planner.
func (p *DeterministicPlanner) Plan(ctx context.Context, query string, summary catalog.Summary) (*plan.ExecutionPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rules := p.rules.Load()
	q := normalizeQuery(query, p.extractor)

	for _, rule := range rules.Rules {
		if !rule.matches(q) {
			continue
		}
		if !rule.toolsAvailable(summary.Has) {
			p.logger.Debug().Str("rule", rule.Name).Msg("rule matched but its tools are not registered")
			continue
		}
		out := rule.instantiate(q.identifiers)
		out.Source = plan.SourceDeterministic
		p.logger.Debug().Str("rule", rule.Name).Float64("confidence", out.Confidence).Msg("deterministic rule selected")
		return out, nil
	}

	fb := rules.Fallback
	out := plan.NewClarification(fb.Question, slices.Clone(fb.Suggestions), fb.Confidence, fb.Reasoning)
	out.Source = plan.SourceDeterministic
	return out, nil
}
