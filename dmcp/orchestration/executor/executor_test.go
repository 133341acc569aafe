package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/catalog"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/resolve"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubRecordStore implements ports.RecordStore for testing.
type stubRecordStore struct {
	mu      sync.Mutex
	records []ports.StoredRecord
	err     error
}

func (s *stubRecordStore) SaveRecord(ctx context.Context, rec ports.StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *stubRecordStore) LoadSession(ctx context.Context, sessionID string, k int) ([]ports.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, nil
}

func (s *stubRecordStore) DeleteSession(ctx context.Context, sessionID string) error { return nil }

var _ ports.RecordStore = (*stubRecordStore)(nil)

func stubDescriptor(name string, fn func(ctx context.Context, args json.RawMessage) (any, error)) catalog.ToolDescriptor {
	return catalog.ToolDescriptor{
		Name:        name,
		Description: "test tool " + name,
		InputSchema: map[string]catalog.ParamSpec{},
		Tool:        ports.ToolFunc{ToolName: name, Fn: fn},
	}
}

func newCatalog(t *testing.T, extra ...catalog.ToolDescriptor) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	require.NoError(t, tools.RegisterProcurementTools(cat))
	for _, d := range extra {
		require.NoError(t, cat.Register(d))
	}
	return cat
}

func whereIsPlan() *plan.ExecutionPlan {
	return plan.NewToolChain([]plan.Step{
		{
			ToolName:      tools.ViewPurchaseOrder,
			Parameters:    map[string]any{"po_number": "DYN456"},
			OutputAliases: map[string][]string{"PoNo": {"reference_number"}},
			Required:      true,
		},
		{
			ToolName:      tools.HelpOnReceiptDocument,
			Parameters:    map[string]any{"ref_doc_no_from": "{{reference_number}}"},
			OutputAliases: map[string][]string{"ReceiptNo": {"receipt_id"}},
			Required:      true,
		},
		{
			ToolName:   tools.ViewMovementDetails,
			Parameters: map[string]any{"receipt_no": "{{receipt_id}}"},
			Required:   true,
		},
	}, 0.92, "Locate an order")
}

// TestExecute_WhereIsChain tests alias threading across a three-step chain.
func TestExecute_WhereIsChain(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop())

	res, err := ex.Execute(context.Background(), whereIsPlan(), "session-1")
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	assert.Equal(t, "session-1", res.SessionID)
	assert.Equal(t, map[string]any{"ref_doc_no_from": "DYN456"}, res.Records[1].Parameters)
	assert.Equal(t, []resolve.Resolution{{Token: "reference_number", Rule: resolve.RuleExact, Key: "reference_number"}}, res.Records[1].Resolutions)
	assert.Equal(t, map[string]any{"receipt_no": tools.SampleReceiptNo}, res.Records[2].Parameters)

	out, ok := res.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Quality Lab", out["CurrentLocation"])
	assert.False(t, res.Degraded)
	assert.Equal(t, "DYN456", res.Context["reference_number"])
	assert.Equal(t, tools.SampleReceiptNo, res.Context["receipt_id"])

	for i, rec := range res.Records {
		assert.Equal(t, i, rec.StepIndex)
		assert.False(t, rec.Failed())
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.Timestamp.IsZero())
	}
}

// TestExecute_SingleTool tests a single lookup.
func TestExecute_SingleTool(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop())

	p := plan.NewSingleTool(tools.ViewPurchaseOrder, map[string]any{"po_number": "PO12345"}, 0.8, "")
	res, err := ex.Execute(context.Background(), p, "")
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "PO12345", res.Output.(map[string]any)["PoNo"])
	assert.Equal(t, "PO12345", res.Context["PoNo"])
	assert.Equal(t, "PO12345", res.Context["found_po"])
}

// TestExecute_UnresolvedRequired tests the structured failure for a missing key.
func TestExecute_UnresolvedRequired(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop())

	p := plan.NewToolChain([]plan.Step{
		{ToolName: tools.ViewPurchaseOrder, Parameters: map[string]any{"po_number": "PO1"}, Required: true},
		{ToolName: tools.ViewMovementDetails, Parameters: map[string]any{"receipt_no": "{{carrier_tracking_code}}"}, Required: true},
	}, 0.9, "")

	_, err := ex.Execute(context.Background(), p, "s")
	require.Error(t, err)

	var failure *ExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, failure.StepIndex)
	require.Len(t, failure.Records, 2)
	assert.True(t, failure.Records[1].Failed())
	assert.False(t, failure.Records[1].Skipped)

	var unresolved *resolve.UnresolvedPlaceholderError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "carrier_tracking_code", unresolved.Token)
	assert.Contains(t, unresolved.AvailableKeys, "PoNo")
	assert.Contains(t, unresolved.AvailableKeys, "last_result")
	assert.ErrorIs(t, err, resolve.ErrUnresolvedPlaceholder)
}

// TestExecute_UnresolvedInStringSlice tests that a token inside a string list
// never reaches the tool.
func TestExecute_UnresolvedInStringSlice(t *testing.T) {
	var calls atomic.Int32
	batch := stubDescriptor("lookup_batch", func(ctx context.Context, args json.RawMessage) (any, error) {
		calls.Add(1)
		return map[string]any{"ok": true}, nil
	})
	ex := New(newCatalog(t, batch), zerolog.Nop())

	p := plan.NewSingleTool("lookup_batch", map[string]any{"ids": []string{"{{no_such_key_xyz}}"}}, 0.8, "")
	_, err := ex.Execute(context.Background(), p, "s")
	require.Error(t, err)

	assert.ErrorIs(t, err, resolve.ErrUnresolvedPlaceholder)
	var failure *ExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 0, failure.StepIndex)
	assert.Zero(t, calls.Load())
}

// TestExecute_OptionalStepFailure tests that a best-effort step is skipped cleanly.
func TestExecute_OptionalStepFailure(t *testing.T) {
	flaky := stubDescriptor("flaky_lookup", func(ctx context.Context, args json.RawMessage) (any, error) {
		return nil, errors.New("backend unavailable")
	})
	ex := New(newCatalog(t, flaky), zerolog.Nop())

	p := plan.NewToolChain([]plan.Step{
		{ToolName: tools.ViewPurchaseOrder, Parameters: map[string]any{"po_number": "PO1"}, Required: true},
		{ToolName: "flaky_lookup", Parameters: map[string]any{}, OutputAliases: map[string][]string{"x": {"flaky_key"}}, Required: false},
		{ToolName: tools.HelpOnReceiptDocument, Parameters: map[string]any{"ref_doc_no_from": "{{PoNo}}"}, Required: true},
	}, 0.9, "")

	res, err := ex.Execute(context.Background(), p, "s")
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	assert.True(t, res.Records[1].Skipped)
	assert.Contains(t, res.Records[1].Error, "backend unavailable")
	assert.NotContains(t, res.Context, "flaky_lookup_result")
	assert.NotContains(t, res.Context, "step_1_result")
	assert.Contains(t, res.Context, "step_2_result")

	rows, ok := res.Output.([]any)
	require.True(t, ok)
	assert.Equal(t, "PO1", rows[0].(map[string]any)["RefDocNo"])
}

// TestExecute_RequiredToolError tests that a failing required step aborts.
func TestExecute_RequiredToolError(t *testing.T) {
	calls := 0
	failing := stubDescriptor("failing_lookup", func(ctx context.Context, args json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})
	counting := stubDescriptor("after", func(ctx context.Context, args json.RawMessage) (any, error) {
		calls++
		return map[string]any{}, nil
	})
	ex := New(newCatalog(t, failing, counting), zerolog.Nop())

	p := plan.NewToolChain([]plan.Step{
		{ToolName: "failing_lookup", Parameters: map[string]any{}, Required: true},
		{ToolName: "after", Parameters: map[string]any{}, Required: true},
	}, 0.9, "")

	_, err := ex.Execute(context.Background(), p, "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolInvocation)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 0, calls)
}

// TestExecute_ToolPanic tests panic recovery.
func TestExecute_ToolPanic(t *testing.T) {
	panicky := stubDescriptor("panicky", func(ctx context.Context, args json.RawMessage) (any, error) {
		panic("nil map write")
	})
	ex := New(newCatalog(t, panicky), zerolog.Nop())

	_, err := ex.Execute(context.Background(), plan.NewSingleTool("panicky", map[string]any{}, 0.9, ""), "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolPanic)
	assert.ErrorIs(t, err, ErrToolInvocation)
}

// TestExecute_ToolTimeout tests the per-tool time budget.
func TestExecute_ToolTimeout(t *testing.T) {
	sleepy := stubDescriptor("sleepy", func(ctx context.Context, args json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ex := New(newCatalog(t, sleepy), zerolog.Nop(), WithToolTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := ex.Execute(context.Background(), plan.NewSingleTool("sleepy", map[string]any{}, 0.9, ""), "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// TestExecute_Canceled tests that a canceled context stops execution.
func TestExecute_Canceled(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Execute(ctx, whereIsPlan(), "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var failure *ExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 0, failure.StepIndex)
	assert.Empty(t, failure.Records)
}

// TestExecute_CanceledOptionalStep tests that cancellation aborts even optional steps.
func TestExecute_CanceledOptionalStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	canceling := stubDescriptor("canceling", func(c context.Context, args json.RawMessage) (any, error) {
		cancel()
		<-c.Done()
		return nil, c.Err()
	})
	ex := New(newCatalog(t, canceling), zerolog.Nop())

	p := plan.NewToolChain([]plan.Step{
		{ToolName: "canceling", Parameters: map[string]any{}, Required: false},
		{ToolName: tools.ViewPurchaseOrder, Parameters: map[string]any{"po_number": "PO1"}, Required: true},
	}, 0.9, "")

	_, err := ex.Execute(ctx, p, "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestExecute_Clarification tests that a question is returned without invoking tools.
func TestExecute_Clarification(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop())
	p := plan.NewClarification("Which order?", []string{"Show me PO1"}, 0.3, "unclear")
	p.Degraded = true

	res, err := ex.Execute(context.Background(), p, "s")
	require.NoError(t, err)
	assert.True(t, res.NeedsClarification())
	assert.Equal(t, "Which order?", res.Clarification.Question)
	assert.Equal(t, []string{"Show me PO1"}, res.Clarification.Suggestions)
	assert.Empty(t, res.Records)
	assert.True(t, res.Degraded)
}

// TestExecute_InvalidPlan tests rejection before any step runs.
func TestExecute_InvalidPlan(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop(), WithMaxSteps(2))

	tests := []struct {
		name string
		plan *plan.ExecutionPlan
		is   error
	}{
		{"nil", nil, plan.ErrInvalidPlan},
		{"unknown tool", plan.NewSingleTool("nope", nil, 0.5, ""), plan.ErrInvalidPlan},
		{"too many steps", whereIsPlan(), ErrTooManySteps},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.Execute(context.Background(), tt.plan, "s")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.is)

			var failure *ExecutionFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, -1, failure.StepIndex)
		})
	}
}

// TestExecute_FallbackTableIsFlagged tests that fabricated parameters are visible.
func TestExecute_FallbackTableIsFlagged(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop())

	p := plan.NewSingleTool(tools.ViewPurchaseOrder, map[string]any{"po_number": "{{found_po}}"}, 0.8, "")
	res, err := ex.Execute(context.Background(), p, "s")
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	require.Len(t, res.Records, 1)
	assert.True(t, res.Records[0].Degraded)
	assert.Equal(t, []string{"found_po"}, res.Records[0].DegradedTokens())
	assert.Equal(t, resolve.FallbackPO, res.Records[0].Parameters["po_number"])

	strict := New(newCatalog(t), zerolog.Nop(), WithResolver(resolve.NewResolver(resolve.WithFallbackTable(nil))))
	_, err = strict.Execute(context.Background(), p, "s")
	assert.ErrorIs(t, err, resolve.ErrUnresolvedPlaceholder)
}

// TestExecute_ParamNormalization tests alias renaming and value normalization.
func TestExecute_ParamNormalization(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop())

	p := plan.NewToolChain([]plan.Step{
		{ToolName: tools.ViewPurchaseRequest, Parameters: map[string]any{"pr_no": "  pr-2024-001 "}, Required: true},
		{ToolName: tools.ViewMovementDetails, Parameters: map[string]any{"receipt_number": " GR-1 "}, Required: true},
		{ToolName: tools.ViewPurchaseOrder, Parameters: map[string]any{"po_number": 4711.0}, Required: true},
	}, 0.9, "")

	res, err := ex.Execute(context.Background(), p, "s")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pr_number": "PR-2024-001"}, res.Records[0].Parameters)
	assert.Equal(t, map[string]any{"receipt_no": "GR-1"}, res.Records[1].Parameters)
	assert.Equal(t, map[string]any{"po_number": "4711"}, res.Records[2].Parameters)
}

// TestExecute_ArgumentValidation tests schema violations after resolution.
func TestExecute_ArgumentValidation(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop())

	_, err := ex.Execute(context.Background(), plan.NewSingleTool(tools.ViewPurchaseOrder, map[string]any{"amendment_no": "1"}, 0.8, ""), "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrInvalidArguments)
	assert.ErrorIs(t, err, ErrToolInvocation)
}

// TestExecute_RecordStore tests that every record reaches the sink.
func TestExecute_RecordStore(t *testing.T) {
	sink := &stubRecordStore{}
	ex := New(newCatalog(t), zerolog.Nop(), WithRecordStore(sink))

	res, err := ex.Execute(context.Background(), whereIsPlan(), "session-9")
	require.NoError(t, err)
	require.Len(t, sink.records, 3)

	for i, stored := range sink.records {
		assert.Equal(t, "session-9", stored.SessionID)
		assert.Equal(t, i, stored.StepIndex)
		decoded, err := DecodeRecord(stored)
		require.NoError(t, err)
		assert.Equal(t, res.Records[i].ToolName, decoded.ToolName)
		assert.Equal(t, res.Records[i].Parameters, decoded.Parameters)
	}

	// A failing sink never fails the execution.
	broken := New(newCatalog(t), zerolog.Nop(), WithRecordStore(&stubRecordStore{err: errors.New("disk full")}))
	_, err = broken.Execute(context.Background(), whereIsPlan(), "s")
	assert.NoError(t, err)
}

// TestExecute_Concurrent tests that executions do not share context stores.
func TestExecute_Concurrent(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop())

	var wg sync.WaitGroup
	errs := make([]error, 16)
	outs := make([]any, 16)
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := plan.NewSingleTool(tools.ViewPurchaseOrder, map[string]any{"po_number": fmt.Sprintf("PO%d", i)}, 0.8, "")
			res, err := ex.Execute(context.Background(), p, "")
			errs[i] = err
			if err == nil {
				outs[i] = res.Context["PoNo"]
			}
		}(i)
	}
	wg.Wait()

	for i := range 16 {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("PO%d", i), outs[i])
	}
}

// TestExecute_DoesNotMutatePlan tests that the caller's plan is left untouched.
func TestExecute_DoesNotMutatePlan(t *testing.T) {
	ex := New(newCatalog(t), zerolog.Nop())
	p := whereIsPlan()
	before := p.Clone()

	_, err := ex.Execute(context.Background(), p, "s")
	require.NoError(t, err)
	assert.Equal(t, before, p)
}

// TestNormalizeParams tests the alias and coercion rules directly.
func TestNormalizeParams(t *testing.T) {
	desc := catalog.ToolDescriptor{
		InputSchema: map[string]catalog.ParamSpec{
			"receipt_no": {Type: "string", Aliases: []string{"Receipt"}},
			"qty":        {Type: "integer"},
		},
	}

	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{"descriptor alias", map[string]any{"receipt": "GR1"}, map[string]any{"receipt_no": "GR1"}},
		{"global alias", map[string]any{"receipt_id": "GR1"}, map[string]any{"receipt_no": "GR1"}},
		{"canonical wins", map[string]any{"receipt_id": "GR1", "receipt_no": "GR2"}, map[string]any{"receipt_id": "GR1", "receipt_no": "GR2"}},
		{"unknown kept", map[string]any{"hint": "x"}, map[string]any{"hint": "x"}},
		{"list to first", map[string]any{"receipt_no": []any{"GR1", "GR2"}}, map[string]any{"receipt_no": "GR1"}},
		{"non-string untouched", map[string]any{"qty": 3.0}, map[string]any{"qty": 3.0}},
		{"nil", nil, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeParams(desc, tt.in, DefaultParamAliases))
		})
	}
}
