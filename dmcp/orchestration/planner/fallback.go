package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

// DefaultPlannerTimeout bounds one call to the primary backend.
const DefaultPlannerTimeout = 10 * time.Second

// Fallback causes, also used as the outcome metric label.
const (
	CauseTimeout   = "timeout"
	CauseInvalid   = "invalid"
	CauseTransport = "transport"
	CauseError     = "error"
)

const lastResortQuestion = "I could not work out a plan for that request. Which document do you mean, and what would you like to know about it?"

// FallbackPlanner tries a primary backend under a timeout and falls back to a
// secondary backend when the primary times out, fails or replies with an
// invalid plan. Fallback plans are marked degraded. Only a canceled caller
// context is ever returned as an error.
type FallbackPlanner struct {
	primary  Planner
	fallback Planner
	timeout  time.Duration
	tracer   ports.Tracer
	logger   zerolog.Logger
}

// FallbackOption configures a FallbackPlanner.
type FallbackOption func(*FallbackPlanner)

// WithTimeout sets the primary backend's budget. Non-positive values use DefaultPlannerTimeout.
func WithTimeout(d time.Duration) FallbackOption {
	return func(p *FallbackPlanner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithSelectorTracer wraps each selection in a span.
func WithSelectorTracer(t ports.Tracer) FallbackOption {
	return func(p *FallbackPlanner) { p.tracer = t }
}

// NewFallbackPlanner creates a selector. A nil primary always uses fallback, without degradation.
func NewFallbackPlanner(primary, fallback Planner, logger zerolog.Logger, opts ...FallbackOption) *FallbackPlanner {
	p := &FallbackPlanner{
		primary:  primary,
		fallback: fallback,
		timeout:  DefaultPlannerTimeout,
		logger:   logger.With().Str("component", "planner").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type planResult struct {
	plan *plan.ExecutionPlan
	err  error
}

// Plan implements Planner.
func (p *FallbackPlanner) Plan(ctx context.Context, query string, summary catalog.Summary) (*plan.ExecutionPlan, error) {
	if p.tracer != nil {
		var finish func(error)
		ctx, finish = p.tracer.StartSpan(ctx, "planner.select", nil)
		defer finish(nil)
	}

	if p.primary == nil {
		return p.fromFallback(ctx, query, summary, "")
	}

	out, err := p.runPrimary(ctx, query, summary)
	if err == nil {
		planRequestsTotal.WithLabelValues("remote").Inc()
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cause := classify(err)
	planRequestsTotal.WithLabelValues(cause).Inc()
	p.logger.Warn().Err(err).Str("outcome", cause).Msg("primary planner failed, using deterministic fallback")
	if p.tracer != nil {
		p.tracer.Event(ctx, "planner_fallback", map[string]any{"cause": cause})
	}
	return p.fromFallback(ctx, query, summary, cause)
}

// runPrimary calls the primary backend under the timeout. The backend runs in
// its own goroutine and the buffered channel lets it exit after we stop waiting.
func (p *FallbackPlanner) runPrimary(ctx context.Context, query string, summary catalog.Summary) (*plan.ExecutionPlan, error) {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan planResult, 1)
	go func() {
		out, err := p.primary.Plan(tctx, query, summary)
		done <- planResult{plan: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &PlannerTimeoutError{Timeout: p.timeout}
		}
		if r.err == nil && r.plan == nil {
			return nil, &plan.InvalidPlanError{Reason: "planner returned no plan"}
		}
		return r.plan, r.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &PlannerTimeoutError{Timeout: p.timeout}
	}
}

func (p *FallbackPlanner) fromFallback(ctx context.Context, query string, summary catalog.Summary, cause string) (*plan.ExecutionPlan, error) {
	start := time.Now()
	var (
		out *plan.ExecutionPlan
		err error
	)
	if p.fallback != nil {
		out, err = p.fallback.Plan(ctx, query, summary)
		planLatency.WithLabelValues("deterministic").Observe(time.Since(start).Seconds())
	} else {
		err = errors.New("no fallback planner configured")
	}
	if err == nil && out == nil {
		err = errors.New("fallback planner returned no plan")
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		planRequestsTotal.WithLabelValues("fallback_failed").Inc()
		p.logger.Error().Err(err).Msg("fallback planner failed, asking for clarification")
		out = plan.NewClarification(lastResortQuestion, nil, 0, "no planner produced a plan")
		if cause == "" {
			cause = CauseError
		}
	} else {
		out = out.Clone()
	}

	if cause != "" {
		out.Degraded = true
		out.Reasoning = fmt.Sprintf("degraded (%s): %s", cause, out.Reasoning)
	}
	return out, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrPlannerTimeout):
		return CauseTimeout
	case errors.Is(err, plan.ErrInvalidPlan):
		return CauseInvalid
	case errors.Is(err, ErrTransport):
		return CauseTransport
	default:
		return CauseError
	}
}
