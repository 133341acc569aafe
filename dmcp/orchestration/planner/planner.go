package planner

import (
	"context"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
)

// Planner turns a natural-language query into an execution plan over the
// tools listed in summary.
type Planner interface {
	Plan(ctx context.Context, query string, summary catalog.Summary) (*plan.ExecutionPlan, error)
}

// Func adapts a function to the Planner interface.
type Func func(ctx context.Context, query string, summary catalog.Summary) (*plan.ExecutionPlan, error)

func (f Func) Plan(ctx context.Context, query string, summary catalog.Summary) (*plan.ExecutionPlan, error) {
	return f(ctx, query, summary)
}

var (
	_ Planner = Func(nil)
	_ Planner = (*RemotePlanner)(nil)
	_ Planner = (*DeterministicPlanner)(nil)
	_ Planner = (*FallbackPlanner)(nil)
)
