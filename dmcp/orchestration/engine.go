package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/executor"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/planner"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/policy"
	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

// DefaultBatchConcurrency bounds HandleBatch when no limit is configured.
const DefaultBatchConcurrency = 4

// Response is the outcome of one handled query.
type Response struct {
	SessionID     string
	Query         string
	Plan          *plan.ExecutionPlan
	Output        any
	Records       []executor.Record
	Clarification *plan.Clarification
	Degraded      bool
	Context       map[string]any
	Policy        *policy.AnnotatedResult // nil when no ruleset was applied
	PolicyField   string                  // output field the policy items came from, "" for the output itself
	Elapsed       time.Duration
}

// NeedsClarification reports whether the engine asked a question instead of running tools.
func (r *Response) NeedsClarification() bool { return r.Clarification != nil }

// Escalated reports whether an escalate rule fired.
func (r *Response) Escalated() bool { return r.Policy != nil && r.Policy.Escalated }

// BatchResult pairs one batch query with its outcome.
type BatchResult struct {
	Query    string
	Response *Response
	Err      error
}

// Engine coordinates planning, execution and the optional policy filter.
// Independent Handle calls may run concurrently.
type Engine struct {
	catalog     *catalog.Catalog
	planner     planner.Planner
	executor    *executor.Executor
	records     ports.RecordStore
	tracer      ports.Tracer
	rules       []policy.Rule
	usePolicy   bool
	concurrency int
	sessions    *sessionRegistry
	closers     []func() error
	logger      zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRecordStore lets the engine read and delete persisted session records.
func WithRecordStore(store ports.RecordStore) EngineOption {
	return func(e *Engine) { e.records = store }
}

// WithEngineTracer wraps each request in a span.
func WithEngineTracer(t ports.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithDefaultPolicy sets the ruleset applied when a request brings none.
func WithDefaultPolicy(rules ...policy.Rule) EngineOption {
	return func(e *Engine) { e.rules = slices.Clone(rules) }
}

// WithPolicyEnabled turns the policy filter on or off. It is on by default.
func WithPolicyEnabled(enabled bool) EngineOption {
	return func(e *Engine) { e.usePolicy = enabled }
}

// WithBatchConcurrency bounds the number of concurrent HandleBatch executions.
func WithBatchConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithHistoryLimit keeps at most n history entries per session. Zero keeps all.
func WithHistoryLimit(n int) EngineOption {
	return func(e *Engine) { e.sessions.limit = max(n, 0) }
}

// WithCloser registers a cleanup run by Close, in reverse registration order.
func WithCloser(fn func() error) EngineOption {
	return func(e *Engine) { e.closers = append(e.closers, fn) }
}

// NewEngine creates an engine. p and exec must share cat.
func NewEngine(cat *catalog.Catalog, p planner.Planner, exec *executor.Executor, logger zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog:     cat,
		planner:     p,
		executor:    exec,
		tracer:      &noOpTracer{},
		usePolicy:   true,
		concurrency: DefaultBatchConcurrency,
		sessions:    newSessionRegistry(0),
		logger:      logger.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the engine's tool catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// HandleOption configures one request.
type HandleOption func(*handleOptions)

type handleOptions struct {
	sessionID string
	rules     []policy.Rule
	hasRules  bool
}

// WithSession runs the request inside an existing session.
func WithSession(id string) HandleOption {
	return func(o *handleOptions) { o.sessionID = id }
}

// WithPolicy applies rules to the result instead of the engine's default
// ruleset. Calling it with no rules disables the filter for this request.
func WithPolicy(rules ...policy.Rule) HandleOption {
	return func(o *handleOptions) {
		o.rules = rules
		o.hasRules = true
	}
}

// Handle plans and executes query. It returns either a Response, possibly
// degraded or asking for clarification, or an *executor.ExecutionFailure
// carrying the plan and the records of every attempted step.
func (e *Engine) Handle(ctx context.Context, query string, opts ...HandleOption) (resp *Response, err error) {
	var o handleOptions
	for _, opt := range opts {
		opt(&o)
	}
	sessionID := o.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	rules := e.rules
	if o.hasRules {
		rules = o.rules
	}

	start := time.Now()
	logger := e.logger.With().Str("session_id", sessionID).Logger()
	ctx, finish := e.tracer.StartSpan(ctx, "engine.handle", map[string]any{"session_id": sessionID})
	defer func() {
		finish(err)
		requestLatency.Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(outcome(resp, err)).Inc()
	}()

	if e.usePolicy {
		if err := policy.Validate(rules); err != nil {
			return nil, e.fail(sessionID, query, nil, fmt.Errorf("invalid policy: %w", err))
		}
	}

	p, err := e.planner.Plan(ctx, query, e.catalog.Summarize())
	if err != nil {
		logger.Error().Err(err).Msg("planning failed")
		return nil, e.fail(sessionID, query, nil, err)
	}
	logger.Debug().
		Str("kind", string(p.Kind)).
		Str("source", p.Source).
		Float64("confidence", p.Confidence).
		Bool("degraded", p.Degraded).
		Int("steps", len(p.Steps)).
		Msg("plan selected")

	res, err := e.executor.Execute(ctx, p, sessionID)
	if err != nil {
		var failure *executor.ExecutionFailure
		if !errors.As(err, &failure) {
			return nil, e.fail(sessionID, query, p, err)
		}
		e.sessions.append(sessionID, HistoryEntry{
			Query:     query,
			Plan:      failure.Plan,
			Records:   failure.Records,
			Error:     failure.Error(),
			Timestamp: start,
		})
		return nil, failure
	}

	resp = &Response{
		SessionID:     sessionID,
		Query:         query,
		Plan:          res.Plan,
		Output:        res.Output,
		Records:       res.Records,
		Clarification: res.Clarification,
		Degraded:      res.Degraded,
		Context:       res.Context,
	}

	if e.usePolicy && len(rules) > 0 && !resp.NeedsClarification() {
		resp.Policy, resp.PolicyField = e.applyPolicy(ctx, logger, rules, res.Output)
	}

	resp.Elapsed = time.Since(start)
	e.sessions.append(sessionID, HistoryEntry{
		Query:     query,
		Plan:      res.Plan,
		Records:   res.Records,
		Degraded:  res.Degraded,
		Escalated: resp.Escalated(),
		Timestamp: start,
	})
	logger.Info().
		Int("records", len(resp.Records)).
		Bool("degraded", resp.Degraded).
		Bool("clarification", resp.NeedsClarification()).
		Dur("elapsed", resp.Elapsed).
		Msg("request handled")
	return resp, nil
}

func (e *Engine) applyPolicy(ctx context.Context, logger zerolog.Logger, rules []policy.Rule, output any) (*policy.AnnotatedResult, string) {
	items, field, ok := policy.ItemsFrom(output)
	if !ok {
		logger.Debug().Msg("output carries no result set, policy skipped")
		return nil, ""
	}

	_, finish := e.tracer.StartSpan(ctx, "policy.apply", map[string]any{"rules": len(rules), "items": len(items)})
	annotated := policy.Apply(rules, items)
	finish(nil)

	for _, esc := range annotated.Escalations {
		logger.Info().Str("rule", esc.RuleID).Str("level", esc.Level).Str("reason", esc.Reason).Msg("policy escalation")
	}
	logger.Debug().Int("items_in", len(items)).Int("items_out", len(annotated.Items)).Msg("policy applied")
	return &annotated, field
}

// fail records a failure that happened before any step ran.
func (e *Engine) fail(sessionID, query string, p *plan.ExecutionPlan, err error) *executor.ExecutionFailure {
	failure := &executor.ExecutionFailure{SessionID: sessionID, Plan: p, StepIndex: -1, Err: err}
	e.sessions.append(sessionID, HistoryEntry{Query: query, Plan: p, Error: failure.Error(), Timestamp: time.Now()})
	return failure
}

// HandleBatch handles independent queries concurrently, bounded by the
// configured concurrency. Results are in input order.
func (e *Engine) HandleBatch(ctx context.Context, queries []string, opts ...HandleOption) []BatchResult {
	results := make([]BatchResult, len(queries))
	p := pool.New().WithMaxGoroutines(e.concurrency)
	for i, q := range queries {
		p.Go(func() {
			resp, err := e.Handle(ctx, q, opts...)
			results[i] = BatchResult{Query: q, Response: resp, Err: err}
		})
	}
	p.Wait()
	return results
}

// History returns the session's handled requests, oldest first.
func (e *Engine) History(sessionID string) []HistoryEntry {
	return e.sessions.history(sessionID)
}

// Sessions returns the ids of sessions with history, sorted.
func (e *Engine) Sessions() []string {
	return e.sessions.ids()
}

// StoredRecords returns the last k persisted records of a session, oldest
// first. It returns nil when no record store is configured.
func (e *Engine) StoredRecords(ctx context.Context, sessionID string, k int) ([]executor.Record, error) {
	if e.records == nil {
		return nil, nil
	}
	stored, err := e.records.LoadSession(ctx, sessionID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to load session records: %w", err)
	}
	out := make([]executor.Record, 0, len(stored))
	for _, s := range stored {
		rec, err := executor.DecodeRecord(s)
		if err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", s.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// CloseSession drops the session's history and deletes its persisted records.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	e.sessions.drop(sessionID)
	if e.records == nil {
		return nil
	}
	if err := e.records.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session records: %w", err)
	}
	e.logger.Debug().Str("session_id", sessionID).Msg("session closed")
	return nil
}

// Close releases the resources registered with WithCloser.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func outcome(resp *Response, err error) string {
	switch {
	case err != nil:
		return "failed"
	case resp.NeedsClarification():
		return "clarification"
	case resp.Degraded:
		return "degraded"
	default:
		return "ok"
	}
}
