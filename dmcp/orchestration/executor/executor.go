package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/resolve"
)

// DefaultToolTimeout bounds a single tool invocation.
const DefaultToolTimeout = 30 * time.Second

// Executor runs execution plans against a tool catalog. Each call to Execute
// owns its context store and records; an Executor is safe for concurrent use.
type Executor struct {
	catalog      *catalog.Catalog
	resolver     *resolve.Resolver
	records      ports.RecordStore
	tracer       ports.Tracer
	toolTimeout  time.Duration
	maxSteps     int
	paramAliases map[string]string
	logger       zerolog.Logger
	now          func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithResolver replaces the placeholder resolver.
func WithResolver(r *resolve.Resolver) Option {
	return func(e *Executor) {
		if r != nil {
			e.resolver = r
		}
	}
}

// WithRecordStore sends every record to store. Store failures are logged.
func WithRecordStore(store ports.RecordStore) Option {
	return func(e *Executor) { e.records = store }
}

// WithTracer wraps each step in a span.
func WithTracer(t ports.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithToolTimeout sets the per-invocation budget. Non-positive values keep the default.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.toolTimeout = d
		}
	}
}

// WithMaxSteps rejects plans with more than n steps. Zero means unlimited.
func WithMaxSteps(n int) Option {
	return func(e *Executor) { e.maxSteps = n }
}

// WithParamAliases replaces DefaultParamAliases.
func WithParamAliases(aliases map[string]string) Option {
	return func(e *Executor) { e.paramAliases = maps.Clone(aliases) }
}

// New creates an executor over cat.
func New(cat *catalog.Catalog, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		catalog:      cat,
		resolver:     resolve.NewResolver(),
		toolTimeout:  DefaultToolTimeout,
		paramAliases: DefaultParamAliases,
		logger:       logger.With().Str("component", "executor").Logger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the state of one execution.
type run struct {
	sessionID string
	plan      *plan.ExecutionPlan
	store     *resolve.Store
	records   []Record
	output    any
	degraded  bool
	logger    zerolog.Logger
}

// Execute runs p step by step. A clarification plan returns its question
// without invoking anything. A failed required step, an invalid plan or a
// canceled context yields an *ExecutionFailure.
func (e *Executor) Execute(ctx context.Context, p *plan.ExecutionPlan, sessionID string) (*Result, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if p == nil {
		return nil, &ExecutionFailure{SessionID: sessionID, StepIndex: -1, Err: &plan.InvalidPlanError{Reason: "plan is nil"}}
	}
	p = p.Clone()

	if err := p.Validate(e.catalog.Has); err != nil {
		return nil, &ExecutionFailure{SessionID: sessionID, Plan: p, StepIndex: -1, Err: err}
	}
	if e.maxSteps > 0 && len(p.Steps) > e.maxSteps {
		return nil, &ExecutionFailure{SessionID: sessionID, Plan: p, StepIndex: -1,
			Err: fmt.Errorf("%w: %d steps, limit %d", ErrTooManySteps, len(p.Steps), e.maxSteps)}
	}

	if p.Kind == plan.KindClarification {
		c := *p.Clarification
		return &Result{SessionID: sessionID, Plan: p, Clarification: &c, Degraded: p.Degraded, Context: map[string]any{}}, nil
	}

	r := &run{
		sessionID: sessionID,
		plan:      p,
		store:     resolve.NewStore(),
		degraded:  p.Degraded,
		logger:    e.logger.With().Str("session_id", sessionID).Logger(),
	}

	for i, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			r.logger.Error().Err(err).Int("step", i).Msg("execution canceled")
			return nil, r.failure(i, err)
		}

		rec, err := e.runStep(ctx, r, i, step)
		r.records = append(r.records, rec)
		e.persist(ctx, rec)

		if err == nil {
			continue
		}
		if step.Required || ctx.Err() != nil {
			stepsTotal.WithLabelValues(step.ToolName, "failed").Inc()
			r.logger.Error().Err(err).Int("step", i).Str("tool", step.ToolName).Msg("required step failed, aborting chain")
			return nil, r.failure(i, err)
		}
		stepsTotal.WithLabelValues(step.ToolName, "skipped").Inc()
		r.logger.Warn().Err(err).Int("step", i).Str("tool", step.ToolName).Msg("optional step failed, continuing")
	}

	return &Result{
		SessionID: sessionID,
		Plan:      p,
		Output:    r.output,
		Records:   r.records,
		Degraded:  r.degraded,
		Context:   r.store.Snapshot(),
	}, nil
}

// runStep resolves, invokes and publishes one step. The returned record is
// complete whether or not the step failed.
func (e *Executor) runStep(ctx context.Context, r *run, i int, step plan.Step) (rec Record, err error) {
	rec = Record{
		ID:        uuid.NewString(),
		SessionID: r.sessionID,
		StepIndex: i,
		ToolName:  step.ToolName,
		Timestamp: e.now(),
	}

	if e.tracer != nil {
		var finish func(error)
		ctx, finish = e.tracer.StartSpan(ctx, "executor.step", map[string]any{
			"session_id": r.sessionID,
			"step":       i,
			"tool":       step.ToolName,
		})
		defer func() { finish(err) }()
	}

	start := time.Now()
	defer func() {
		rec.Elapsed = time.Since(start)
		if err != nil {
			rec.Error = err.Error()
			rec.Skipped = !step.Required && ctx.Err() == nil
		}
	}()

	params, resolutions, err := e.resolver.ResolveParams(step.Parameters, r.store)
	rec.Resolutions = resolutions
	if err != nil {
		return rec, err
	}
	for _, res := range resolutions {
		if res.Degraded {
			rec.Degraded = true
			degradedResolutionsTotal.Inc()
			r.logger.Warn().Int("step", i).Str("token", res.Token).Msg("placeholder resolved from fallback table")
		}
	}

	desc, err := e.catalog.Lookup(step.ToolName)
	if err != nil {
		return rec, err
	}
	args := normalizeParams(desc, params, e.paramAliases)
	rec.Parameters = args

	raw, err := json.Marshal(args)
	if err != nil {
		return rec, &ToolInvocationError{Tool: step.ToolName, Step: i, Err: fmt.Errorf("failed to encode arguments: %w", err)}
	}
	if err := e.catalog.ValidateArgs(step.ToolName, raw); err != nil {
		return rec, &ToolInvocationError{Tool: step.ToolName, Step: i, Err: err}
	}

	out, err := e.invoke(ctx, desc.Tool, raw)
	stepLatency.WithLabelValues(step.ToolName).Observe(time.Since(start).Seconds())
	if err != nil {
		return rec, &ToolInvocationError{Tool: step.ToolName, Step: i, Err: err}
	}
	output, err := normalizeOutput(out)
	if err != nil {
		return rec, &ToolInvocationError{Tool: step.ToolName, Step: i, Err: err}
	}

	keys := r.store.Publish(step.ToolName, i, output, step.OutputAliases)
	rec.Result = output
	r.output = output
	if rec.Degraded {
		r.degraded = true
	}

	stepsTotal.WithLabelValues(step.ToolName, "ok").Inc()
	r.logger.Debug().
		Int("step", i).
		Str("tool", step.ToolName).
		Dur("elapsed", time.Since(start)).
		Int("published_keys", len(keys)).
		Msg("step completed")
	return rec, nil
}

type invokeResult struct {
	out any
	err error
}

// invoke calls tool under the tool timeout. Panics become ErrToolPanic.
func (e *Executor) invoke(ctx context.Context, tool ports.Tool, args json.RawMessage) (any, error) {
	tctx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invokeResult{err: fmt.Errorf("%w: %v", ErrToolPanic, p)}
			}
		}()
		out, err := tool.Invoke(tctx, args)
		done <- invokeResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrToolTimeout, e.toolTimeout)
		}
		return res.out, res.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrToolTimeout, e.toolTimeout)
	}
}

// normalizeOutput converts tool results to plain maps, slices and scalars.
func normalizeOutput(out any) (any, error) {
	switch out.(type) {
	case nil, string, float64, bool:
		return out, nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("tool output is not serializable: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("tool output is not serializable: %w", err)
	}
	return v, nil
}

func (e *Executor) persist(ctx context.Context, rec Record) {
	if e.records == nil {
		return
	}
	stored, err := rec.stored()
	if err == nil {
		err = e.records.SaveRecord(context.WithoutCancel(ctx), stored)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("session_id", rec.SessionID).Int("step", rec.StepIndex).Msg("failed to persist execution record")
	}
}

func (r *run) failure(i int, err error) *ExecutionFailure {
	return &ExecutionFailure{
		SessionID: r.sessionID,
		Plan:      r.plan,
		Records:   r.records,
		StepIndex: i,
		Err:       err,
	}
}
