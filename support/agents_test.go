package support

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/agent"
	"github.com/hupe1980/supportmesh/auth"
	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/internal/testutil"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/runner"
	"github.com/hupe1980/supportmesh/session"
	"github.com/hupe1980/supportmesh/tool"
)

func transferTo(name string) model.Step {
	return model.Call("route", tool.TransferToAgentName, `{"agent_name":"`+name+`"}`)
}

type harness struct {
	agents *Agents
	runner *runner.Runner
	store  core.SessionStore
}

func newHarness(t *testing.T, resolver auth.IdentityResolver, routerLLM, specialistLLM model.Model) *harness {
	t.Helper()

	agents, err := NewAgents(routerLLM, specialistLLM, func(o *Options) {
		o.CRM = newTestCRM()
	})
	require.NoError(t, err)

	store := session.NewInMemoryStore()
	r := runner.New(agents.Root, func(o *runner.Options) {
		o.SessionStore = store
		o.Gate = auth.NewGate(resolver)
	})

	return &harness{agents: agents, runner: r, store: store}
}

func (h *harness) run(t *testing.T, prompt string) []core.Event {
	t.Helper()

	_, ch, err := h.runner.RunTurn(context.Background(), core.TurnRequest{
		AppName: "customer_support", UserID: "u1", SessionID: "s1", Prompt: prompt,
	})
	require.NoError(t, err)

	return testutil.Drain(t, ch)
}

func TestNewAgents_Capabilities(t *testing.T) {
	agents, err := NewAgents(model.NewScriptedModel("router"), model.NewScriptedModel("specialist"))
	require.NoError(t, err)

	assert.Equal(t, RootAgentName, agents.Root.Name())
	require.Len(t, agents.Root.SubAgents(), 2)

	for _, name := range AfterSaleTools {
		assert.True(t, agents.AfterSale.Toolset().Has(name), name)
	}

	assert.True(t, agents.ShoppingGuide.Toolset().Has(ToolGetCustomerPurchases))
	assert.False(t, agents.ShoppingGuide.Toolset().Has(ToolCreateServiceRecord))
	assert.False(t, agents.ShoppingGuide.Toolset().Has(ToolVerifyCustomerIdentity))

	require.NotNil(t, agents.AfterSale.Thinking())
	assert.True(t, agents.AfterSale.Thinking().IncludeThoughts)
	assert.Equal(t, 1024, agents.AfterSale.Thinking().Budget)
}

func TestSupport_WarrantyWithStaticIdentity(t *testing.T) {
	specialist := model.NewScriptedModel("specialist",
		model.Call("w1", ToolQueryWarranty, `{"serial":"SN-UB14-0001"}`),
		model.Text("Your UltraBook is covered."),
	)

	h := newHarness(t, auth.NewStaticResolver("CUST001"), model.NewScriptedModel("router", transferTo(AfterSaleAgentName)), specialist)

	events := h.run(t, "Is my laptop still under warranty? Serial SN-UB14-0001")

	last := events[len(events)-1]
	assert.Equal(t, core.EventFinalMessage, last.Kind)
	assert.Equal(t, AfterSaleAgentName, last.Author)
	assert.Equal(t, "Your UltraBook is covered.", last.Text())

	res := testutil.ToolResult(t, events, ToolQueryWarranty)
	require.False(t, res.Failed())

	w, ok := res.Response.(Warranty)
	require.True(t, ok)
	assert.True(t, w.Covered)

	req := specialist.Requests()[0]
	assert.Contains(t, req.Instructions, "Signed-in customer: CUST001")
	require.NotNil(t, req.Thinking)
	assert.Equal(t, 1024, req.Thinking.Budget)
}

func TestSupport_ProtectedToolWithoutIdentity(t *testing.T) {
	specialist := model.NewScriptedModel("specialist",
		model.Call("c1", ToolGetCustomerPurchases, `{}`),
		model.Text("Please verify your identity first."),
	)

	h := newHarness(t, nil, model.NewScriptedModel("router", transferTo(AfterSaleAgentName)), specialist)

	events := h.run(t, "What did I buy?")

	res := testutil.ToolResult(t, events, ToolGetCustomerPurchases)
	assert.Equal(t, core.ErrorKindIdentityRequired, res.ErrorKind)
	assert.Equal(t, core.EventFinalMessage, events[len(events)-1].Kind, "missing identity is recoverable")

	assert.Contains(t, specialist.Requests()[0].Instructions, "Signed-in customer: \n")
}

func TestSupport_VerifyIdentityUnlocksProtectedTools(t *testing.T) {
	specialist := model.NewScriptedModel("specialist",
		model.Call("v1", ToolVerifyCustomerIdentity, `{"email":"maria.garcia@example.com","name":"Maria Garcia"}`),
		model.Call("p1", ToolGetCustomerPurchases, `{}`),
		model.Text("You bought a SmartWatch S3."),
	)

	h := newHarness(t, nil, model.NewScriptedModel("router", transferTo(AfterSaleAgentName)), specialist)

	events := h.run(t, "I'm Maria Garcia, maria.garcia@example.com. What did I buy?")

	verify := testutil.ToolResult(t, events, ToolVerifyCustomerIdentity)
	require.False(t, verify.Failed())

	purchases := testutil.ToolResult(t, events, ToolGetCustomerPurchases)
	require.False(t, purchases.Failed())

	got, ok := purchases.Response.(map[string]any)
	require.True(t, ok)
	require.Len(t, got["purchases"], 1)
	assert.Equal(t, "SN-SW3-0310", got["purchases"].([]Purchase)[0].Serial)

	sess, err := h.store.Get(context.Background(), core.SessionKey{AppName: "customer_support", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "CUST002", sess.State[core.KeyCustomerID])
	assert.Equal(t, ScopeCRMVerification, sess.State[core.KeyAuthScope])
}

func TestSupport_ShoppingGuideCannotCreateRecords(t *testing.T) {
	specialist := model.NewScriptedModel("specialist",
		model.Call("x1", ToolCreateServiceRecord, `{"serial":"SN-UB14-0001","issue":"none"}`),
		model.Text("I can help you pick a new laptop."),
	)

	h := newHarness(t, auth.NewStaticResolver("CUST001"), model.NewScriptedModel("router", transferTo(ShoppingGuideAgentName)), specialist)

	events := h.run(t, "Recommend a laptop")

	res := testutil.ToolResult(t, events, ToolCreateServiceRecord)
	assert.Equal(t, core.ErrorKindCapability, res.ErrorKind)
	assert.Empty(t, h.agents.CRM.ServiceRecords("CUST001"), "rejected before any side effect")
}

func TestSupport_RouterRefusal(t *testing.T) {
	router := model.NewScriptedModel("router", model.Text("The weather is nice."))
	h := newHarness(t, nil, router, model.NewScriptedModel("specialist"))

	events := h.run(t, "What's the weather like?")
	require.Len(t, events, 1)

	req := router.Requests()[0]
	assert.Equal(t, model.ToolChoiceAuto, req.ToolChoice, "classification must allow answering without a transfer")
	require.Len(t, req.Tools, 1)
	assert.Equal(t, tool.TransferToAgentName, req.Tools[0].Function.Name)

	assert.Equal(t, core.EventFinalMessage, events[0].Kind)
	assert.Equal(t, agent.DefaultRefusal, events[0].Text())
	assert.Equal(t, RootAgentName, events[0].Author)
}
