package orchestration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/config"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/adapters"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/executor"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/planner"
	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

// recordingTracer records span names in start order.
type recordingTracer struct {
	mu    sync.Mutex
	names []string
}

func (t *recordingTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	t.mu.Lock()
	t.names = append(t.names, name)
	t.mu.Unlock()
	return ctx, func(err error) {}
}

func (t *recordingTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

func (t *recordingTracer) spans() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.names...)
}

var _ ports.Tracer = (*recordingTracer)(nil)

func testConfig() *config.Config {
	return &config.Config{
		Planner: config.PlannerConfig{
			Backend:             "remote",
			Timeout:             time.Second,
			CacheEnabled:        true,
			CacheCapacity:       16,
			CacheTTLSeconds:     60,
			RateLimitEnabled:    true,
			RateLimitCapacity:   5,
			RateLimitRefillRate: time.Second,
			FlowStages:          []string{"pr", "po", "gr", "movement", "inspection"},
		},
		Provider: config.ProviderConfig{Kind: "none"},
		Executor: config.ExecutorConfig{ToolTimeout: time.Second, MaxSteps: 10},
		Engine:   config.EngineConfig{BatchConcurrency: 2, HistoryLimit: 10, EnablePolicy: true},
	}
}

// TestFactory_CreateEngine tests a deterministic-only engine built from config.
func TestFactory_CreateEngine(t *testing.T) {
	e, err := NewFactory(testConfig(), zerolog.Nop()).CreateEngine(context.Background(), newCatalog(t))
	require.NoError(t, err)
	defer e.Close()

	resp, err := e.Handle(context.Background(), whereIsQuery)
	require.NoError(t, err)
	assert.Len(t, resp.Records, 3)
	assert.False(t, resp.Degraded)
}

// TestFactory_RecordStore tests that an enabled store persists session records.
func TestFactory_RecordStore(t *testing.T) {
	cfg := testConfig()
	cfg.Store = config.StoreConfig{Enabled: true, DSN: filepath.Join(t.TempDir(), "records.db")}
	ctx := context.Background()

	e, err := NewFactory(cfg, zerolog.Nop()).CreateEngine(ctx, newCatalog(t))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Handle(ctx, "Show me PO77", WithSession("s"))
	require.NoError(t, err)

	records, err := e.StoredRecords(ctx, "s", 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "PO77", records[0].Parameters["po_number"])

	require.NoError(t, e.CloseSession(ctx, "s"))
	records, err = e.StoredRecords(ctx, "s", 5)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestFactory_ExistingDB tests wiring a caller-owned database.
func TestFactory_ExistingDB(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()

	e, err := NewFactory(testConfig(), zerolog.Nop()).WithDB(conn).CreateEngine(ctx, newCatalog(t))
	require.NoError(t, err)

	_, err = e.Handle(ctx, "Show me PO78", WithSession("owned"))
	require.NoError(t, err)

	// The caller's connection stays open after the engine closes.
	require.NoError(t, e.Close())
	records, err := adapters.NewLibSQLRecordStore(conn).LoadSession(ctx, "owned", 5)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// TestFactory_Clamping tests that invalid timeouts fall back to defaults.
func TestFactory_Clamping(t *testing.T) {
	cfg := testConfig()
	cfg.Planner.Timeout = 0
	cfg.Executor.ToolTimeout = -time.Second
	f := NewFactory(cfg, zerolog.Nop())

	assert.Equal(t, planner.DefaultPlannerTimeout, f.plannerTimeout())
	assert.Equal(t, executor.DefaultToolTimeout, f.toolTimeout())

	cfg.Planner.Timeout = time.Hour
	cfg.Executor.ToolTimeout = time.Hour
	assert.Equal(t, maxPlannerTimeout, f.plannerTimeout())
	assert.Equal(t, maxToolTimeout, f.toolTimeout())
}

// TestFactory_Adapters tests adapter selection from config switches.
func TestFactory_Adapters(t *testing.T) {
	cfg := testConfig()
	f := NewFactory(cfg, zerolog.Nop())

	assert.IsType(t, &adapters.PlanCache{}, f.createCache())
	assert.IsType(t, &adapters.TokenBucket{}, f.createRateLimiter())
	assert.IsType(t, &noOpTracer{}, f.createTracer())

	cfg.Planner.CacheEnabled = false
	cfg.Planner.RateLimitEnabled = false
	cfg.Engine.EnableTracing = true
	assert.IsType(t, &noOpCache{}, f.createCache())
	assert.IsType(t, &noOpRateLimiter{}, f.createRateLimiter())
	assert.IsType(t, &adapters.ZerologTracer{}, f.createTracer())

	cfg.Provider = config.ProviderConfig{Kind: "anthropic", Model: "claude-3-5-haiku-latest"}
	provider, closer, err := f.createProvider()
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &adapters.AnthropicProvider{}, provider)

	cfg.Provider = config.ProviderConfig{Kind: "chat", Model: "gpt-4o-mini"}
	provider, _, err = f.createProvider()
	require.NoError(t, err)
	assert.IsType(t, &adapters.ChatCompletionsProvider{}, provider)

	cfg.Provider = config.ProviderConfig{Kind: "none"}
	provider, _, err = f.createProvider()
	require.NoError(t, err)
	assert.Nil(t, provider)

	aliases := f.paramAliases()
	assert.Equal(t, "receipt_no", aliases["receipt_id"])
	cfg.Executor.ParamAliases = map[string]string{"order": "po_number"}
	assert.Equal(t, "po_number", f.paramAliases()["order"])
	assert.Equal(t, "po_number", f.paramAliases()["po_no"])
}

// TestFactory_LlamaWithoutModel tests that a misconfigured local provider fails construction.
func TestFactory_LlamaWithoutModel(t *testing.T) {
	cfg := testConfig()
	cfg.Provider = config.ProviderConfig{Kind: "llama"}

	_, err := NewFactory(cfg, zerolog.Nop()).CreateEngine(context.Background(), newCatalog(t))
	assert.Error(t, err)
}

// TestFactory_RulesFile tests loading and hot-reloading deterministic rules.
func TestFactory_RulesFile(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(onlyInspectionRules), 0o644))

	cfg := testConfig()
	cfg.Planner.Backend = "deterministic"
	cfg.Planner.RulesFile = path
	cfg.Planner.WatchRules = true

	e, err := NewFactory(cfg, zerolog.Nop()).CreateEngine(context.Background(), newCatalog(t))
	require.NoError(t, err)

	resp, err := e.Handle(context.Background(), "Show me PO12345")
	require.NoError(t, err)
	assert.True(t, resp.NeedsClarification())
	assert.Equal(t, "Which receipt?", resp.Clarification.Question)

	require.NoError(t, e.Close())
}

// TestFactory_BadRulesFile tests that a broken rules file fails construction.
func TestFactory_BadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o644))

	cfg := testConfig()
	cfg.Planner.RulesFile = path

	_, err := NewFactory(cfg, zerolog.Nop()).CreateEngine(context.Background(), newCatalog(t))
	assert.Error(t, err)
}

const onlyInspectionRules = `
rules:
  - name: inspection
    reasoning: "Quality inspection"
    confidence: 0.85
    when:
      - words: [inspection]
    identifiers: [receipt]
    kind: single_tool
    steps:
      - tool: view_inspection_details
        parameters: { receipt_no: "${receipt}" }
fallback:
  question: "Which receipt?"
  confidence: 0.3
  reasoning: "unclear"
`
