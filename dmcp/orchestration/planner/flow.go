package planner

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
)

// DefaultFlowStages is the business order of the procurement stages.
var DefaultFlowStages = []string{"pr", "po", "gr", "movement", "inspection", "invoice", "payment"}

// FlowValidator checks that a chain follows the business flow. Tools map to
// stages through their "stage:<name>" tags; tools without a known stage are
// unconstrained.
type FlowValidator struct {
	rank map[string]int
}

// NewFlowValidator builds a validator for stages in order. Empty stages use DefaultFlowStages.
func NewFlowValidator(stages []string) *FlowValidator {
	if len(stages) == 0 {
		stages = DefaultFlowStages
	}
	rank := make(map[string]int, len(stages))
	for i, s := range stages {
		rank[strings.ToLower(s)] = i
	}
	return &FlowValidator{rank: rank}
}

// Check returns a copy of p with consecutive duplicate steps dropped, or an
// InvalidPlanError when a step moves to an earlier stage than its predecessor.
func (v *FlowValidator) Check(p *plan.ExecutionPlan, summary catalog.Summary) (*plan.ExecutionPlan, error) {
	if p == nil || p.Kind != plan.KindToolChain {
		return p, nil
	}

	stages := make(map[string]string, len(summary.Tools))
	for _, t := range summary.Tools {
		for _, tag := range t.Tags {
			if s, ok := strings.CutPrefix(tag, catalog.StageTagPrefix); ok {
				stages[t.Name] = strings.ToLower(s)
				break
			}
		}
	}

	out := p.Clone()
	steps := make([]plan.Step, 0, len(out.Steps))
	for _, s := range out.Steps {
		if n := len(steps); n > 0 && s.ToolName == steps[n-1].ToolName && reflect.DeepEqual(s.Parameters, steps[n-1].Parameters) {
			continue
		}
		steps = append(steps, s)
	}
	out.Steps = steps

	last, lastTool := -1, ""
	for _, s := range out.Steps {
		r, ok := v.rank[stages[s.ToolName]]
		if !ok {
			continue
		}
		if r < last {
			return nil, &plan.InvalidPlanError{
				Reason: fmt.Sprintf("chain goes backwards in the business flow: %s before %s (stage %s)", lastTool, s.ToolName, stages[s.ToolName]),
			}
		}
		last, lastTool = r, s.ToolName
	}
	return out, nil
}
