package tool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
)

func newToolContext(t *testing.T, agent string, state map[string]any) *core.ToolContext {
	t.Helper()

	key := core.SessionKey{AppName: "support", UserID: "u1", SessionID: "s1"}
	sess := core.NewSession(key)
	for k, v := range state {
		sess.State[k] = v
	}

	emit := make(chan core.Event, 16)
	rc := core.NewRunContext(context.Background(), key, "turn-1", core.AgentInfo{Name: agent, Type: "specialist"},
		core.NewTextContent("user", "hi"), emit, sess, nil, logging.NoOpLogger{})

	return core.NewToolContext(rc, core.FunctionCall{ID: "fc1", Name: "test"})
}

type warrantyArgs struct {
	Serial string `json:"serial" jsonschema:"required,description=Product serial number"`
}

func newWarrantyTool(t *testing.T, calls *atomic.Int32) *FunctionTool {
	wt, err := NewTypedTool("query_warranty", "Query warranty",
		func(tc *core.ToolContext, in warrantyArgs) (map[string]any, error) {
			calls.Add(1)
			id, _ := tc.CustomerID()
			return map[string]any{"serial": in.Serial, "customer_id": id, "valid": true}, nil
		}, RequireIdentity)
	require.NoError(t, err)

	return wt
}

// -------------------- Schema & Validation Tests --------------------

func TestSchemaFor(t *testing.T) {
	schema, err := SchemaFor[warrantyArgs]()
	require.NoError(t, err)

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "serial")
	assert.ElementsMatch(t, []any{"serial"}, schema["required"])
}

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	sumTool := NewFunctionTool("sum", "Add numbers", params, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sumTool.Call(newToolContext(t, "a", nil), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
	assert.False(t, RequiresIdentity(sumTool))
}

func TestFunctionTool_ValidationError(t *testing.T) {
	var calls atomic.Int32
	wt := newWarrantyTool(t, &calls)

	_, err := wt.Call(newToolContext(t, "a", nil), map[string]any{})
	require.Error(t, err)

	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.Equal(t, core.ErrorKindValidation, core.KindOf(err))
	assert.Zero(t, calls.Load())
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	execTool := NewFunctionTool("fail", "Fails", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := execTool.Call(newToolContext(t, "a", nil), map[string]any{})

	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Equal(t, core.ErrorKindUpstream, core.KindOf(err))
}

// -------------------- Registry & Toolset Tests --------------------

func TestRegistry(t *testing.T) {
	var calls atomic.Int32

	r := NewRegistry()
	require.NoError(t, r.Register(newWarrantyTool(t, &calls)))
	assert.Error(t, r.Register(newWarrantyTool(t, &calls)), "duplicates are rejected")
	assert.Equal(t, []string{"query_warranty"}, r.Names())

	_, err := r.Toolset("shopping_guide_agent", "query_warranty", "unknown")
	assert.Error(t, err)

	ts, err := r.Toolset("after_sale_agent", "query_warranty")
	require.NoError(t, err)
	assert.True(t, ts.Has("query_warranty"))
	assert.Equal(t, 1, ts.Len())
}

func TestToolset_CapabilityConfinement(t *testing.T) {
	var calls atomic.Int32

	r := NewRegistry()
	r.MustRegister(newWarrantyTool(t, &calls))

	ts, err := r.Toolset("shopping_guide_agent")
	require.NoError(t, err)

	tc := newToolContext(t, "shopping_guide_agent", map[string]any{core.KeyCustomerID: "CUST001"})
	_, err = ts.Execute(tc, "query_warranty", `{"serial":"XYZ"}`)
	require.Error(t, err)

	var capErr *core.CapabilityError
	assert.True(t, errors.As(err, &capErr))
	assert.Equal(t, "shopping_guide_agent", capErr.Agent)
	assert.Equal(t, core.ErrorKindCapability, core.KindOf(err))
	assert.Zero(t, calls.Load(), "no side effect before rejection")
}

func TestToolset_IdentityRequired(t *testing.T) {
	var calls atomic.Int32

	ts, err := NewToolset("after_sale_agent", []Tool{newWarrantyTool(t, &calls)})
	require.NoError(t, err)

	_, err = ts.Execute(newToolContext(t, "after_sale_agent", nil), "query_warranty", `{"serial":"XYZ"}`)
	require.Error(t, err)
	assert.Equal(t, core.ErrorKindIdentityRequired, core.KindOf(err))
	assert.Zero(t, calls.Load())

	res, err := ts.Execute(newToolContext(t, "after_sale_agent", map[string]any{core.KeyCustomerID: "CUST001"}), "query_warranty", `{"serial":"XYZ"}`)
	require.NoError(t, err)
	assert.Equal(t, "CUST001", res.(map[string]any)["customer_id"])
	assert.EqualValues(t, 1, calls.Load())
}

func TestToolset_MalformedArguments(t *testing.T) {
	var calls atomic.Int32

	ts, err := NewToolset("a", []Tool{newWarrantyTool(t, &calls)})
	require.NoError(t, err)

	_, err = ts.Execute(newToolContext(t, "a", map[string]any{core.KeyCustomerID: "C"}), "query_warranty", `{not json`)
	assert.Equal(t, core.ErrorKindValidation, core.KindOf(err))
}

func TestToolset_Timeout(t *testing.T) {
	slow := NewFunctionTool("slow", "Sleeps", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})

	ts, err := NewToolset("a", []Tool{slow}, func(o *RegistryOptions) { o.CallTimeout = 10 * time.Millisecond })
	require.NoError(t, err)

	_, err = ts.Execute(newToolContext(t, "a", nil), "slow", "")
	require.Error(t, err)
	assert.Equal(t, core.ErrorKindTimeout, core.KindOf(err))
}

func TestToolset_PanicRecovered(t *testing.T) {
	bad := NewFunctionTool("bad", "Panics", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		panic("kaboom")
	})

	ts, err := NewToolset("a", []Tool{bad})
	require.NoError(t, err)

	_, err = ts.Execute(newToolContext(t, "a", nil), "bad", "{}")

	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeExecution, toolErr.Code)
}

func TestToolset_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32

	flaky := NewFunctionTool("flaky", "Fails", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		calls.Add(1)
		return nil, errors.New("crm down")
	})

	ts, err := NewToolset("a", []Tool{flaky}, func(o *RegistryOptions) {
		o.Breaker = BreakerSettings{MaxFailures: 2, Timeout: time.Minute}
	})
	require.NoError(t, err)

	tc := newToolContext(t, "a", nil)
	for i := 0; i < 2; i++ {
		_, err = ts.Execute(tc, "flaky", "{}")
		assert.Error(t, err)
	}

	_, err = ts.Execute(tc, "flaky", "{}")

	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeCircuitOpen, toolErr.Code)
	assert.EqualValues(t, 2, calls.Load())
}

func TestToolset_CircuitBreaker_IgnoresCallerFaults(t *testing.T) {
	var calls atomic.Int32

	lookup := NewFunctionTool("lookup", "Looks up a serial", nil, func(_ *core.ToolContext, args map[string]any) (any, error) {
		calls.Add(1)

		if args["serial"] == "known" {
			return map[string]any{"found": true}, nil
		}

		return nil, &ToolError{Tool: "lookup", Message: "unknown serial", Code: CodeNotFound}
	})

	ts, err := NewToolset("a", []Tool{lookup}, func(o *RegistryOptions) {
		o.Breaker = BreakerSettings{MaxFailures: 2, Timeout: time.Minute}
	})
	require.NoError(t, err)

	tc := newToolContext(t, "a", nil)
	for i := 0; i < 5; i++ {
		_, err = ts.Execute(tc, "lookup", `{"serial":"typo"}`)

		var toolErr *ToolError
		require.True(t, errors.As(err, &toolErr))
		assert.Equal(t, CodeNotFound, toolErr.Code)
		assert.Equal(t, core.ErrorKindValidation, toolErr.Kind())
	}

	res, err := ts.Execute(tc, "lookup", `{"serial":"known"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"found": true}, res)
	assert.EqualValues(t, 6, calls.Load())
}

func TestToolset_IsProtected(t *testing.T) {
	var calls atomic.Int32

	faq := NewFunctionTool("faq", "FAQ", nil, func(*core.ToolContext, map[string]any) (any, error) { return "ok", nil })

	ts, err := NewToolset("after_sale", []Tool{newWarrantyTool(t, &calls), faq})
	require.NoError(t, err)

	assert.True(t, ts.IsProtected("query_warranty"))
	assert.False(t, ts.IsProtected("faq"))
	assert.False(t, ts.IsProtected("missing"))

	var nilSet *Toolset
	assert.False(t, nilSet.IsProtected("query_warranty"))
}

func TestToolset_With(t *testing.T) {
	base, err := NewToolset("router", nil)
	require.NoError(t, err)

	ext, err := base.With(NewTransferToAgentTool("after_sale_agent"))
	require.NoError(t, err)
	assert.False(t, base.Has(TransferToAgentName))
	assert.True(t, ext.Has(TransferToAgentName))

	_, err = ext.With(NewTransferToAgentTool("x"))
	assert.Error(t, err)
}

// -------------------- Built-in tools --------------------

func TestTransferToAgentTool(t *testing.T) {
	tt := NewTransferToAgentTool("after_sale_agent", "shopping_guide_agent")
	tc := newToolContext(t, "customer_support_agent", nil)

	_, err := tt.Call(tc, map[string]any{"agent_name": "after_sale_agent"})
	require.NoError(t, err)
	assert.Equal(t, "after_sale_agent", tc.Actions().TransferToAgent)

	tc2 := newToolContext(t, "customer_support_agent", nil)
	_, err = tt.Call(tc2, map[string]any{"agent_name": "billing_agent"})
	assert.Equal(t, core.ErrorKindCapability, core.KindOf(err))
	assert.Empty(t, tc2.Actions().TransferToAgent)
}

type fakeMemory struct{ owner string }

func (f *fakeMemory) Write(context.Context, string, string, map[string]string) (string, error) {
	return "", nil
}

func (f *fakeMemory) Retrieve(_ context.Context, owner, query string, k int) ([]core.MemoryRecord, error) {
	f.owner = owner
	return []core.MemoryRecord{{Owner: owner, Content: "likes " + query, Score: 0.9}}, nil
}

func TestLoadMemoryTool_ScopedToOwner(t *testing.T) {
	mem := &fakeMemory{}
	lt, err := NewLoadMemoryTool(mem, 0)
	require.NoError(t, err)

	res, err := lt.Call(newToolContext(t, "a", nil), map[string]any{"query": "kettles"})
	require.NoError(t, err)
	assert.Equal(t, "support/u1", mem.owner)

	hits := res.(map[string]any)["memories"].([]memoryHit)
	require.Len(t, hits, 1)
	assert.Equal(t, "likes kettles", hits[0].Content)
}

type fakeKB struct{}

func (fakeKB) Query(_ context.Context, text string, k int) ([]core.Passage, error) {
	return []core.Passage{{ID: "p1", Content: "return policy: 30 days", Score: 1}}, nil
}

func TestQueryKnowledgeTool(t *testing.T) {
	qt, err := NewQueryKnowledgeTool(fakeKB{}, 2)
	require.NoError(t, err)

	res, err := qt.Call(newToolContext(t, "a", nil), map[string]any{"query": "returns"})
	require.NoError(t, err)

	passages := res.(map[string]any)["passages"].([]core.Passage)
	assert.Equal(t, "p1", passages[0].ID)
}

func TestToolErrorFormatting(t *testing.T) {
	err := NewToolError("demo", "something failed", "E123")
	assert.Contains(t, err.Error(), "E123")
	assert.Contains(t, err.Error(), "demo")
}
