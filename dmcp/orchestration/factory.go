package orchestration

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/config"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/db"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/adapters"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/executor"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/planner"
	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

const (
	maxPlannerTimeout = 2 * time.Minute
	maxToolTimeout    = 10 * time.Minute
)

// Factory creates and wires engine components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // optional, opened from cfg.Store when nil
	logger zerolog.Logger
}

// NewFactory creates a new engine factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// WithDB makes the factory use an existing database for the record store.
// The caller keeps ownership of conn.
func (f *Factory) WithDB(conn *sql.DB) *Factory {
	f.db = conn
	return f
}

// CreateEngine builds a fully wired Engine over cat. Close the engine to
// release the rules watcher, provider and database.
func (f *Factory) CreateEngine(ctx context.Context, cat *catalog.Catalog, opts ...EngineOption) (*Engine, error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	tracer := f.createTracer()

	store, closeStore, err := f.createStore(ctx)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	p, plannerClosers, err := f.createPlanner(tracer)
	closers = append(closers, plannerClosers...)
	if err != nil {
		cleanup()
		return nil, err
	}

	exec := executor.New(cat, f.logger,
		executor.WithRecordStore(store),
		executor.WithTracer(tracer),
		executor.WithToolTimeout(f.toolTimeout()),
		executor.WithMaxSteps(f.cfg.Executor.MaxSteps),
		executor.WithParamAliases(f.paramAliases()),
	)

	engineOpts := []EngineOption{
		WithRecordStore(store),
		WithEngineTracer(tracer),
		WithPolicyEnabled(f.cfg.Engine.EnablePolicy),
		WithBatchConcurrency(f.cfg.Engine.BatchConcurrency),
		WithHistoryLimit(f.cfg.Engine.HistoryLimit),
	}
	for _, c := range closers {
		engineOpts = append(engineOpts, WithCloser(c))
	}
	engineOpts = append(engineOpts, opts...)

	return NewEngine(cat, p, exec, f.logger, engineOpts...), nil
}

// createPlanner builds the deterministic backend, the optional remote backend
// and the selector over them.
func (f *Factory) createPlanner(tracer ports.Tracer) (planner.Planner, []func() error, error) {
	var closers []func() error
	pc := f.cfg.Planner

	deterministic, err := planner.NewDeterministicPlanner(nil, f.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load default planner rules: %w", err)
	}
	if pc.RulesFile != "" {
		if pc.WatchRules {
			w, err := planner.NewRuleWatcher(pc.RulesFile, deterministic, f.logger)
			if err != nil {
				return nil, nil, err
			}
			go w.Run(context.Background())
			closers = append(closers, w.Close)
		} else {
			rules, err := planner.LoadRulesFile(pc.RulesFile)
			if err != nil {
				return nil, nil, err
			}
			deterministic.SetRules(rules)
		}
	}

	var primary planner.Planner
	if pc.Backend == "remote" {
		provider, closeProvider, err := f.createProvider()
		if err != nil {
			return nil, closers, err
		}
		if closeProvider != nil {
			closers = append(closers, closeProvider)
		}
		if provider != nil {
			primary = planner.NewRemotePlanner(provider, f.logger,
				planner.WithCache(f.createCache(), pc.CacheTTLSeconds),
				planner.WithRateLimiter(f.createRateLimiter()),
				planner.WithTracer(tracer),
				planner.WithFlowValidator(planner.NewFlowValidator(pc.FlowStages)),
				planner.WithProviderOptions(f.providerOptions()),
				planner.WithConfidenceFloor(pc.ConfidenceFloor),
				planner.WithDomainHints(pc.DomainHints),
			)
		}
	}
	if primary == nil {
		f.logger.Info().Msg("no remote planning provider, using deterministic rules only")
	}

	return planner.NewFallbackPlanner(primary, deterministic, f.logger,
		planner.WithTimeout(f.plannerTimeout()),
		planner.WithSelectorTracer(tracer),
	), closers, nil
}

// createProvider returns a nil provider for kind "none".
func (f *Factory) createProvider() (ports.Provider, func() error, error) {
	pc := f.cfg.Provider
	switch pc.Kind {
	case "anthropic":
		if pc.APIKey == "" {
			f.logger.Warn().Msg("anthropic provider has no API key, remote planning will fall back")
		}
		return adapters.NewAnthropicProvider(pc.APIKey, pc.Model, pc.BaseURL, pc.MaxTokens), nil, nil
	case "chat":
		return adapters.NewChatCompletionsProvider(pc.APIKey, pc.Model, pc.BaseURL), nil, nil
	case "llama":
		lp, err := adapters.NewLlamaProvider(adapters.LlamaConfig{
			ModelPath:   pc.LlamaModelPath,
			ContextSize: pc.LlamaContextSize,
			GPULayers:   pc.LlamaGPULayers,
			PoolSize:    pc.LlamaPoolSize,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
			TopP:        pc.TopP,
		}, f.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create llama provider: %w", err)
		}
		return lp, lp.Close, nil
	default:
		return nil, nil, nil
	}
}

func (f *Factory) providerOptions() ports.Options {
	opts := planner.DefaultProviderOptions
	pc := f.cfg.Provider
	if pc.MaxTokens > 0 {
		opts.MaxNewTokens = pc.MaxTokens
	}
	if pc.Temperature > 0 {
		opts.Temperature = pc.Temperature
	}
	if pc.TopP > 0 {
		opts.TopP = pc.TopP
	}
	return opts
}

func (f *Factory) createCache() ports.Cache {
	if !f.cfg.Planner.CacheEnabled || f.cfg.Planner.CacheCapacity <= 0 {
		return &noOpCache{}
	}
	return adapters.NewPlanCache(f.cfg.Planner.CacheCapacity)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	pc := f.cfg.Planner
	if !pc.RateLimitEnabled || pc.RateLimitCapacity <= 0 {
		return &noOpRateLimiter{}
	}
	refill := pc.RateLimitRefillRate
	if refill <= 0 {
		refill = time.Second
		f.logger.Warn().Dur("rate_limit_refill_rate", pc.RateLimitRefillRate).Msg("rate limit refill rate clamped to 1s")
	}
	return adapters.NewTokenBucket(pc.RateLimitCapacity, refill)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Engine.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// createStore returns the record store and, when the factory opened the
// database itself, a function closing it.
func (f *Factory) createStore(ctx context.Context) (ports.RecordStore, func() error, error) {
	if f.db != nil {
		if err := db.Migrate(ctx, f.db); err != nil {
			return nil, nil, err
		}
		return adapters.NewLibSQLRecordStore(f.db), nil, nil
	}
	if !f.cfg.Store.Enabled {
		return &noOpStore{}, nil, nil
	}

	conn, err := db.Connect(ctx, f.cfg.Store.DSN, f.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open record store: %w", err)
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return adapters.NewLibSQLRecordStore(conn), conn.Close, nil
}

func (f *Factory) plannerTimeout() time.Duration {
	d := f.cfg.Planner.Timeout
	switch {
	case d <= 0:
		f.logger.Warn().Dur("timeout", d).Msg("planner timeout clamped to default")
		return planner.DefaultPlannerTimeout
	case d > maxPlannerTimeout:
		f.logger.Warn().Dur("timeout", d).Msg("planner timeout clamped to maximum")
		return maxPlannerTimeout
	}
	return d
}

func (f *Factory) toolTimeout() time.Duration {
	d := f.cfg.Executor.ToolTimeout
	switch {
	case d <= 0:
		f.logger.Warn().Dur("tool_timeout", d).Msg("tool timeout clamped to default")
		return executor.DefaultToolTimeout
	case d > maxToolTimeout:
		f.logger.Warn().Dur("tool_timeout", d).Msg("tool timeout clamped to maximum")
		return maxToolTimeout
	}
	return d
}

// paramAliases merges the configured aliases over the built-in ones.
func (f *Factory) paramAliases() map[string]string {
	out := maps.Clone(executor.DefaultParamAliases)
	maps.Copy(out, f.cfg.Executor.ParamAliases)
	return out
}

// noOpCache implements Cache with no-op behavior for a disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter implements RateLimiter with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// noOpStore implements RecordStore, discarding records.
type noOpStore struct{}

func (s *noOpStore) SaveRecord(ctx context.Context, rec ports.StoredRecord) error { return nil }

func (s *noOpStore) LoadSession(ctx context.Context, sessionID string, k int) ([]ports.StoredRecord, error) {
	return nil, nil
}

func (s *noOpStore) DeleteSession(ctx context.Context, sessionID string) error { return nil }

var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
	_ ports.RecordStore = (*noOpStore)(nil)
)
