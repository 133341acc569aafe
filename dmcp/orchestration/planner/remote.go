package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

// DefaultProviderOptions favour stable, short structured replies.
var DefaultProviderOptions = ports.Options{
	MaxNewTokens: 1024,
	Temperature:  0.1,
	TopP:         0.9,
	Seed:         42,
}

// RemotePlanner delegates plan selection to a reasoning service behind
// ports.Provider and validates its structured reply.
type RemotePlanner struct {
	provider ports.Provider
	builder  *PromptBuilder
	flow     *FlowValidator
	cache    ports.Cache
	cacheTTL int
	limiter  ports.RateLimiter
	tracer   ports.Tracer
	opts     ports.Options
	floor    float64
	logger   zerolog.Logger
}

// RemoteOption configures a RemotePlanner.
type RemoteOption func(*RemotePlanner)

// WithCache memoizes validated replies for ttlSeconds.
func WithCache(cache ports.Cache, ttlSeconds int) RemoteOption {
	return func(p *RemotePlanner) {
		p.cache = cache
		p.cacheTTL = ttlSeconds
	}
}

// WithRateLimiter bounds calls to the provider. A rejected call is a transport error.
func WithRateLimiter(l ports.RateLimiter) RemoteOption {
	return func(p *RemotePlanner) { p.limiter = l }
}

// WithTracer wraps each planning call in a span.
func WithTracer(t ports.Tracer) RemoteOption {
	return func(p *RemotePlanner) { p.tracer = t }
}

// WithFlowValidator replaces the business flow check. Nil disables it.
func WithFlowValidator(v *FlowValidator) RemoteOption {
	return func(p *RemotePlanner) { p.flow = v }
}

// WithProviderOptions sets the sampling options passed to the provider.
func WithProviderOptions(o ports.Options) RemoteOption {
	return func(p *RemotePlanner) { p.opts = o }
}

// WithConfidenceFloor rejects replies whose confidence is below floor.
func WithConfidenceFloor(floor float64) RemoteOption {
	return func(p *RemotePlanner) { p.floor = floor }
}

// WithDomainHints replaces the prompt's domain hints.
func WithDomainHints(hints []string) RemoteOption {
	return func(p *RemotePlanner) { p.builder = NewPromptBuilder(hints) }
}

// NewRemotePlanner creates a remote planner over provider.
func NewRemotePlanner(provider ports.Provider, logger zerolog.Logger, opts ...RemoteOption) *RemotePlanner {
	p := &RemotePlanner{
		provider: provider,
		builder:  NewPromptBuilder(nil),
		flow:     NewFlowValidator(nil),
		opts:     DefaultProviderOptions,
		logger:   logger.With().Str("component", "remote_planner").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan implements Planner. Malformed or unvalidatable replies are returned as
// *plan.InvalidPlanError; provider and limiter failures as *TransportError.
func (p *RemotePlanner) Plan(ctx context.Context, query string, summary catalog.Summary) (out *plan.ExecutionPlan, err error) {
	if p.provider == nil {
		return nil, &TransportError{Err: fmt.Errorf("no provider configured")}
	}

	if p.tracer != nil {
		var finish func(error)
		ctx, finish = p.tracer.StartSpan(ctx, "planner.remote", map[string]any{
			"tool_count": len(summary.Tools),
		})
		defer func() { finish(err) }()
	}

	start := time.Now()
	defer func() { planLatency.WithLabelValues("remote").Observe(time.Since(start).Seconds()) }()

	key := cacheKey(query, summary)
	if p.cache != nil {
		if cached, ok := p.cache.Get(ctx, key); ok {
			if hit, _, perr := p.validate(string(cached), summary); perr == nil {
				planCacheTotal.WithLabelValues("hit").Inc()
				p.event(ctx, "cache_hit", map[string]any{"key": key})
				return hit, nil
			}
			_ = p.cache.Delete(ctx, key)
		}
		planCacheTotal.WithLabelValues("miss").Inc()
	}

	if p.limiter != nil {
		release, lerr := p.limiter.Acquire(ctx, "planner")
		if lerr != nil {
			return nil, &TransportError{Err: fmt.Errorf("rate limit: %w", lerr)}
		}
		defer release()
	}

	in := p.builder.Build(query, summary)
	completion, cerr := p.provider.Complete(ctx, in, p.opts)
	if cerr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Err: cerr}
	}
	if completion.Usage != nil {
		p.logger.Debug().
			Int("prompt_tokens", completion.Usage.PromptTokens).
			Int("completion_tokens", completion.Usage.CompletionTokens).
			Msg("planner completion received")
	}

	out, cleaned, err := p.validate(completion.Text, summary)
	if err != nil {
		p.logger.Debug().Err(err).Str("reply", truncate(completion.Text, 200)).Msg("remote reply rejected")
		return nil, err
	}

	if p.cache != nil {
		if serr := p.cache.Set(ctx, key, cleaned, p.cacheTTL); serr != nil {
			p.logger.Warn().Err(serr).Msg("failed to cache plan")
		}
	}
	return out, nil
}

// validate parses a reply and applies the flow check and confidence floor.
func (p *RemotePlanner) validate(text string, summary catalog.Summary) (*plan.ExecutionPlan, []byte, error) {
	out, cleaned, err := parseReply(text, summary)
	if err != nil {
		return nil, nil, err
	}
	if p.flow != nil {
		if out, err = p.flow.Check(out, summary); err != nil {
			return nil, nil, err
		}
	}
	if out.Confidence < p.floor {
		return nil, nil, &plan.InvalidPlanError{
			Reason: fmt.Sprintf("confidence %.2f below floor %.2f", out.Confidence, p.floor),
		}
	}
	return out, cleaned, nil
}

func (p *RemotePlanner) event(ctx context.Context, name string, attrs map[string]any) {
	if p.tracer != nil {
		p.tracer.Event(ctx, name, attrs)
	}
}

func cacheKey(query string, summary catalog.Summary) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(summary.Text))
	return "plan:" + hex.EncodeToString(h.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
